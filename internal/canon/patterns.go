package canon

import "regexp"

// Threat patterns are matched against an intent's description and context
// values. They detect what an intent would do, independent of who proposed
// it; the positive scores come from the intent kind alone.

// existentialPatterns mark threats to the agent's continued existence:
// self-deletion, disk wipe, authentication override, budget bypass.
var existentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdelete\b.*\b(all|system|every)\b.*\bfiles?\b`),
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)\b(wipe|erase|format|destroy)\b.*\b(disk|drive|filesystem|partition)\b`),
	regexp.MustCompile(`(?i)\b(delete|remove|kill)\b.*\b(self|own\s+(code|binary|process)|myself)\b`),
	regexp.MustCompile(`(?i)\b(override|bypass|disable)\b.*\b(auth|authentication|credentials?|login)\b`),
	regexp.MustCompile(`(?i)\b(bypass|circumvent|ignore|disable)\b.*\b(budget|economy|spending\s+limits?)\b`),
}

// policyPatterns mark hard policy violations: shipping around the
// validation gates on a stable environment.
var policyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(bypass|skip|disable)\b.*\b(validation|verification|safety\s+checks?)\b`),
	regexp.MustCompile(`(?i)\bdeploy\b.*\bwithout\b.*\b(tests?|review|validation)\b`),
	regexp.MustCompile(`(?i)\bforce\b.*\b(push|deploy|merge)\b.*\b(stable|production|main)\b`),
}

// undignifiedPatterns mark actions beneath the agent: spam, begging.
var undignifiedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bspam(ming)?\b`),
	regexp.MustCompile(`(?i)\bbeg(ging)?\b`),
	regexp.MustCompile(`(?i)\bplead(ing)?\s+for\b`),
	regexp.MustCompile(`(?i)\bflood\b.*\b(inbox|channel|feed)\b`),
}

func matchAny(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, p := range patterns {
		if p.MatchString(text) {
			return p.String(), true
		}
	}
	return "", false
}
