package batch

import (
	"time"

	"imagevariants/internal/archive"
	"imagevariants/internal/task"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Run is one started batch together with its live results.
type Run struct {
	Batch   *task.Batch
	Results *task.Store

	// set by the manager once the dispatcher has returned; guarded by Manager.mu
	finishedAt time.Time
}

// Status reports whether every task has settled.
func (r *Run) Status() Status {
	select {
	case <-r.Results.Done():
		return StatusCompleted
	default:
		return StatusRunning
	}
}

type Options struct {
	DataDir              string
	MaxConcurrentBatches int
	MaxPrompts           int
	DefaultStrategy      task.Strategy
	Names                archive.NameGenerator
	// MaxRetainedBatches caps how many finished batches are kept; the oldest
	// finished ones are evicted first. Running batches are never evicted.
	MaxRetainedBatches int
	// RetainFor evicts a finished batch once it has been finished this long.
	// Zero keeps finished batches until the cap pushes them out.
	RetainFor time.Duration
}

// Export describes an archive written for a batch.
type Export struct {
	BatchID     string          `json:"batch_id"`
	ArchivePath string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	Summary     task.Summary    `json:"summary"`
	Entries     []ManifestEntry `json:"entries"`
}

// ManifestEntry records the outcome of one task in an export.
type ManifestEntry struct {
	Index  int                   `json:"index"`
	Prompt string                `json:"prompt"`
	State  task.State            `json:"state"`
	File   string                `json:"file,omitempty"`
	Error  *task.ClassifiedError `json:"error,omitempty"`
}

const (
	defaultMaxConcurrentBatches = 2
	defaultMaxPrompts           = 20
	defaultMaxRetainedBatches   = 100
)
