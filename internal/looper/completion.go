package looper

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMarker is the completion marker looked for in agent output when
// no other completion strategy is configured.
const DefaultMarker = "<promise>COMPLETE</promise>"

// Completion decides whether an iteration's output signals task success.
type Completion interface {
	// Done reports whether the output signals completion.
	Done(output string) bool
	// Instruction returns the sentence appended to prompts telling the
	// agent how to signal completion.
	Instruction() string
}

// MarkerCompletion completes when the output contains a fixed substring.
type MarkerCompletion struct {
	Marker string
}

// NewMarkerCompletion creates a marker strategy, defaulting to DefaultMarker.
func NewMarkerCompletion(marker string) MarkerCompletion {
	if marker == "" {
		marker = DefaultMarker
	}
	return MarkerCompletion{Marker: marker}
}

func (c MarkerCompletion) Done(output string) bool {
	return strings.Contains(output, c.Marker)
}

func (c MarkerCompletion) Instruction() string {
	return fmt.Sprintf("When the task is fully complete, output exactly %s on its own line.", c.Marker)
}

// AnyOfCompletion completes when the output contains any of the markers.
type AnyOfCompletion struct {
	Markers []string
}

func (c AnyOfCompletion) Done(output string) bool {
	for _, m := range c.Markers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

func (c AnyOfCompletion) Instruction() string {
	return fmt.Sprintf("When the task is fully complete, output one of: %s.", strings.Join(c.Markers, ", "))
}

// RegexCompletion completes when the output matches a pattern.
type RegexCompletion struct {
	Pattern *regexp.Regexp
}

// NewRegexCompletion compiles a regex completion strategy.
func NewRegexCompletion(pattern string) (RegexCompletion, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return RegexCompletion{}, fmt.Errorf("compile completion pattern: %w", err)
	}
	return RegexCompletion{Pattern: re}, nil
}

func (c RegexCompletion) Done(output string) bool {
	return c.Pattern.MatchString(output)
}

func (c RegexCompletion) Instruction() string {
	return fmt.Sprintf("When the task is fully complete, include output matching the pattern %s.", c.Pattern.String())
}
