package autonomy

import (
	"fmt"
	"strings"

	"anima/internal/intent"
	"anima/internal/tools"
)

// Evaluation is the reflector's verdict on one acted cycle: did it work,
// what was it worth, and anything worth remembering about it.
type Evaluation struct {
	Success bool    `json:"success"`
	Value   float64 `json:"value"`
	Notes   string  `json:"notes,omitempty"`
}

// Reflector turns a tool Result into an Evaluation. Value realized is the
// fulfilled intent's priority: urgency honored is worth exactly what the
// stack said it was worth. Failures realize nothing.
type Reflector struct{}

// Reflect evaluates the result of acting on an intent.
func (Reflector) Reflect(in *intent.Intent, res tools.Result) Evaluation {
	if !res.Success {
		notes := res.Message
		if res.ErrorCode != "" {
			notes = fmt.Sprintf("%s: %s", res.ErrorCode, res.Message)
		}
		return Evaluation{Success: false, Value: 0, Notes: notes}
	}

	var notes string
	if len(res.Warnings) > 0 {
		notes = "warnings: " + strings.Join(res.Warnings, "; ")
	}
	value := 0.0
	if in != nil {
		value = in.Priority
	}
	return Evaluation{Success: true, Value: value, Notes: notes}
}
