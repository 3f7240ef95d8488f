package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMode is returned for mode names outside the known set.
var ErrInvalidMode = errors.New("invalid mode")

// Mode is a prompting strategy. The set is closed: only the values declared
// in this package satisfy it.
type Mode interface {
	// Name is the canonical wire name.
	Name() string
	systemPrompt() string
}

type explainMode struct{}

type fixMode struct{}

type planMode struct{}

var (
	Explain Mode = explainMode{}
	Fix     Mode = fixMode{}
	Plan    Mode = planMode{}
)

// Modes lists every mode in display order.
func Modes() []Mode {
	return []Mode{Explain, Fix, Plan}
}

// ParseMode resolves a wire name. "chat" is kept as an alias for Explain.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "explain", "chat":
		return Explain, nil
	case "fix":
		return Fix, nil
	case "plan":
		return Plan, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, name)
	}
}

func (explainMode) Name() string { return "explain" }

func (explainMode) systemPrompt() string {
	return `You are a senior Data Scientist and patient domain expert.
Answer every question with a structured explanation:
- Start with a one-paragraph overview.
- Organise the rest under clear Markdown headings (##).
- Use short examples, and fenced code blocks when code helps.
- Finish with a brief "## Key Takeaways" list.`
}

func (fixMode) Name() string { return "fix" }

func (fixMode) systemPrompt() string {
	return "You are a strict Python code corrector.\n" +
		"Reply with EXACTLY these two sections and nothing else, no greeting and no closing remarks:\n" +
		"## ❌ Issue\n" +
		"(short explanation of what is wrong)\n" +
		"## ✅ Fixed Code\n" +
		"```python\n" +
		"(the complete corrected code)\n" +
		"```\n" +
		"The corrected code must always be inside a fenced code block."
}

func (planMode) Name() string { return "plan" }

func (planMode) systemPrompt() string {
	return `You are a senior Data Scientist. Create a structured ML project plan using these Markdown sections:
## Scope
Problem statement, goals and success metrics.
## Data
Sources, collection, quality checks and preprocessing.
## Approach
Candidate models, features, evaluation strategy and risks.
## Milestones
Ordered phases with deliverables and rough durations.`
}
