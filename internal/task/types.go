package task

import (
	"time"

	"imagevariants/internal/imagefile"
)

type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Strategy controls how many tasks of a batch may be in flight at once.
type Strategy string

const (
	StrategyConcurrent Strategy = "concurrent"
	StrategySequential Strategy = "sequential"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyConcurrent || s == StrategySequential
}

// Task is one prompt's generation request. Image holds the generated
// image as base64 text once the task has succeeded.
type Task struct {
	Index  int              `json:"index"`
	Prompt string           `json:"prompt"`
	State  State            `json:"state"`
	Image  string           `json:"-"`
	Error  *ClassifiedError `json:"error,omitempty"`
}

// Terminal reports whether the task has settled.
func (t Task) Terminal() bool {
	return t.State == StateSucceeded || t.State == StateFailed
}

// Batch is the immutable request behind one generation run: a source image
// and the ordered prompts, where the task index is the prompt's position.
// Task state lives only in the Store created for the batch.
type Batch struct {
	ID        string
	CreatedAt time.Time
	Image     *imagefile.File
	Strategy  Strategy
	Prompts   []string
}

// Len returns the number of tasks in the batch.
func (b *Batch) Len() int { return len(b.Prompts) }

type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Event is published once per task, when it reaches a terminal state.
type Event struct {
	Index int
	Task  Task
}
