package looper

import "github.com/anvilcode/anvil/pkg/models"

// EventSink observes loop progress. Implementations must be fast or
// buffer internally; the loop calls them synchronously between iterations.
// Hooks and notifications attach through this seam so the controller never
// depends on them.
type EventSink interface {
	// IterationCompleted fires after each iteration is recorded and persisted.
	IterationCompleted(task *models.Task, rec models.IterationRecord)
	// LoopFailed fires when the loop is about to return a failure.
	LoopFailed(task *models.Task, err error)
	// LoopFinished fires with the final result, for every outcome.
	LoopFinished(task *models.Task, result *Result)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) IterationCompleted(*models.Task, models.IterationRecord) {}
func (NopSink) LoopFailed(*models.Task, error)                          {}
func (NopSink) LoopFinished(*models.Task, *Result)                      {}
