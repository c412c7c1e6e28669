// Package questions produces the ordered prompts of an interview attempt.
package questions

import (
	"fmt"
	"strings"

	"github.com/ashureev/interview-coach/internal/domain"
)

// Count is the number of generated prompts.
const Count = 3

const fallbackRole = "the role"

// Difficulty maps an interview level to the framing used in prompts.
func Difficulty(level string) string {
	switch level {
	case "Beginner":
		return "basic"
	case "Intermediate":
		return "practical"
	default:
		return "advanced"
	}
}

// Generate returns Count deterministic prompts for role at level.
func Generate(role, level string) []string {
	base := strings.TrimSpace(role)
	if base == "" {
		base = fallbackRole
	}
	hint := Difficulty(level)
	return []string{
		fmt.Sprintf("Describe your experience relevant to %s at a %s level.", base, hint),
		fmt.Sprintf("How would you approach a common challenge in %s? Keep it %s.", base, hint),
		fmt.Sprintf("Give an example of a project or task related to %s and explain your decisions at a %s level.", base, hint),
	}
}

// Resolve returns the supplied questions when there are any, otherwise
// generated ones. The result never aliases params.Questions.
func Resolve(params domain.SessionParams) []string {
	var supplied []string
	for _, q := range params.Questions {
		if strings.TrimSpace(q) != "" {
			supplied = append(supplied, q)
		}
	}
	if len(supplied) > 0 {
		return supplied
	}
	return Generate(params.JobRole, params.Level)
}
