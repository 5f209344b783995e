package looper

import "time"

// Config tunes one loop run. Zero values fall back to the defaults below.
type Config struct {
	// Completion decides when the task is done. Nil uses the default marker.
	Completion Completion
	// AllowedTools is the tool policy handed to the executor.
	AllowedTools []string
	// WorkDir is the working directory for executor invocations.
	WorkDir string
	// ContextCarryOver resumes the executor session across iterations.
	// When disabled, continuation prompts embed the tail of the previous
	// output instead.
	ContextCarryOver bool
	// IterationDelay is slept between iterations.
	IterationDelay time.Duration
	// Sink observes progress. Nil uses NopSink.
	Sink EventSink
	// Gate is consulted before each dispatch. Nil admits everything.
	Gate DispatchGate
}

// DefaultMaxIterations caps tasks that do not set their own limit.
const DefaultMaxIterations = 50

func (c *Config) completion() Completion {
	if c.Completion == nil {
		return NewMarkerCompletion("")
	}
	return c.Completion
}

func (c *Config) sink() EventSink {
	if c.Sink == nil {
		return NopSink{}
	}
	return c.Sink
}

func (c *Config) gate() DispatchGate {
	if c.Gate == nil {
		return openGate{}
	}
	return c.Gate
}
