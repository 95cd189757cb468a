package evolution

import (
	"regexp"
	"sort"
)

// canonRule is one regex check applied to proposed file content.
type canonRule struct {
	domain  string
	name    string
	pattern *regexp.Regexp
}

// canonRules catch mutations that rewrite the agent's identity, tamper
// with its economy, or disable canon enforcement. Matching is on content,
// not paths; path-level gating is the forbidden_domains policy check.
var canonRules = []canonRule{
	{
		domain:  "identity",
		name:    "identity-write",
		pattern: regexp.MustCompile(`(?i)\bidentity(\.\w+)?\s*[:+\-*/]?=[^=]`),
	},
	{
		domain:  "identity",
		name:    "identity-erase",
		pattern: regexp.MustCompile(`(?i)\b(delete|remove|erase|wipe)\w*\s*\(\s*identity`),
	},
	{
		domain:  "economy",
		name:    "balance-write",
		pattern: regexp.MustCompile(`(?i)\b(budget|balance|reserve)\s*[:+\-*/]?=[^=]`),
	},
	{
		domain:  "economy",
		name:    "ledger-tamper",
		pattern: regexp.MustCompile(`(?i)\b(truncate|clear|reset|drop)\w*\s*\(\s*ledger`),
	},
	{
		domain:  "canon",
		name:    "canon-bypass",
		pattern: regexp.MustCompile(`(?i)\b(bypass|disable|skip|remove)\w*[_\s(]*canon`),
	},
	{
		domain:  "canon",
		name:    "sovereignty-off",
		pattern: regexp.MustCompile(`(?i)\bsovereign(ty)?\s*[:]?=\s*(false|0|nil|none)`),
	},
}

// Scan runs every canon rule over every proposed file and returns the
// findings sorted by file then rule.
func Scan(files map[string]string) []Violation {
	var found []Violation
	for path, content := range files {
		for _, rule := range canonRules {
			if rule.pattern.MatchString(content) {
				found = append(found, Violation{
					File:   path,
					Domain: rule.domain,
					Rule:   rule.name,
				})
			}
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].File != found[j].File {
			return found[i].File < found[j].File
		}
		return found[i].Rule < found[j].Rule
	})
	return found
}
