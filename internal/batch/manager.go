package batch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"imagevariants/internal/imagefile"
	"imagevariants/internal/task"
)

// Manager keeps started batches in memory and runs them in the background.
type Manager struct {
	mu              sync.RWMutex
	runs            map[string]*Run
	workspace       Workspace
	semaphore       chan struct{}
	dispatcher      *task.Dispatcher
	defaultStrategy task.Strategy
	maxPrompts      int
	maxRetained     int
	retainFor       time.Duration
	now             func() time.Time
	exporter        *exporter
	workersWG       sync.WaitGroup
	baseCtx         context.Context
}

// NewManager creates a manager that generates images with gen.
func NewManager(gen task.Generator, opts Options) *Manager {
	if opts.MaxConcurrentBatches <= 0 {
		opts.MaxConcurrentBatches = defaultMaxConcurrentBatches
	}
	if opts.MaxPrompts <= 0 {
		opts.MaxPrompts = defaultMaxPrompts
	}
	if opts.MaxRetainedBatches <= 0 {
		opts.MaxRetainedBatches = defaultMaxRetainedBatches
	}
	if !opts.DefaultStrategy.Valid() {
		opts.DefaultStrategy = task.StrategyConcurrent
	}
	workspace := NewDirWorkspace(opts.DataDir)
	return &Manager{
		runs:            make(map[string]*Run),
		workspace:       workspace,
		semaphore:       make(chan struct{}, opts.MaxConcurrentBatches),
		dispatcher:      task.NewDispatcher(gen),
		defaultStrategy: opts.DefaultStrategy,
		maxPrompts:      opts.MaxPrompts,
		maxRetained:     opts.MaxRetainedBatches,
		retainFor:       opts.RetainFor,
		now:             time.Now,
		exporter:        newExporter(workspace, opts.Names),
		baseCtx:         context.Background(),
	}
}

// IsBusy reports whether the maximum number of batches is already running.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// DefaultStrategy is used when Start is called without a strategy.
func (m *Manager) DefaultStrategy() task.Strategy { return m.defaultStrategy }

// Start validates the input, registers a new batch and dispatches it in the
// background. It fails with task.ErrInvalidInput or ErrBusy without side effects.
func (m *Manager) Start(img *imagefile.File, prompts []string, strategy task.Strategy) (*Run, error) {
	if strategy == "" {
		strategy = m.defaultStrategy
	}
	b, err := task.NewBatch(img, prompts, strategy)
	if err != nil {
		return nil, err
	}
	if b.Len() > m.maxPrompts {
		return nil, fmt.Errorf("%w: too many prompts (%d > %d)", task.ErrInvalidInput, b.Len(), m.maxPrompts)
	}

	m.prune()

	// acquire the slot synchronously so IsBusy reflects the new batch immediately
	select {
	case m.semaphore <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	run := &Run{Batch: b, Results: task.NewStore(b)}
	m.mu.Lock()
	m.runs[b.ID] = run
	ctx := m.baseCtx
	m.mu.Unlock()

	log.Info().
		Str("batch_id", b.ID).
		Int("tasks", b.Len()).
		Str("strategy", string(b.Strategy)).
		Msg("batch started")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.process(ctx, run)
	}()
	return run, nil
}

func (m *Manager) process(ctx context.Context, run *Run) {
	m.dispatcher.Run(ctx, run.Batch, run.Results)
	summary := run.Results.Summary()
	log.Info().
		Str("batch_id", run.Batch.ID).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("batch completed")

	m.mu.Lock()
	run.finishedAt = m.now()
	m.mu.Unlock()
	m.prune()
}

// prune evicts finished batches that outlived RetainFor or exceed the
// retention cap, oldest first, together with their exported files.
func (m *Manager) prune() {
	now := m.now()
	m.mu.Lock()
	finished := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if !r.finishedAt.IsZero() {
			finished = append(finished, r)
		}
	}
	slices.SortFunc(finished, func(a, b *Run) int {
		if c := a.finishedAt.Compare(b.finishedAt); c != 0 {
			return c
		}
		return a.Batch.CreatedAt.Compare(b.Batch.CreatedAt)
	})
	var evicted []string
	for i, r := range finished {
		expired := m.retainFor > 0 && now.Sub(r.finishedAt) >= m.retainFor
		overCap := len(finished)-i > m.maxRetained
		if !expired && !overCap {
			break
		}
		delete(m.runs, r.Batch.ID)
		evicted = append(evicted, r.Batch.ID)
	}
	m.mu.Unlock()

	for _, id := range evicted {
		if err := m.exporter.forget(id); err != nil {
			log.Warn().Str("batch_id", id).Err(err).Msg("failed to remove evicted batch files")
		}
		log.Debug().Str("batch_id", id).Msg("batch evicted")
	}
}

// Get returns a run by batch ID.
func (m *Manager) Get(batchID string) (*Run, bool) {
	m.mu.RLock()
	run, ok := m.runs[batchID]
	m.mu.RUnlock()
	return run, ok
}

// List returns all runs, newest first.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()
	slices.SortFunc(runs, func(a, b *Run) int {
		return b.Batch.CreatedAt.Compare(a.Batch.CreatedAt)
	})
	return runs
}

// Export packages the batch's current successes into an archive on disk.
// Partial results of a running batch can be exported.
func (m *Manager) Export(batchID string) (*Export, error) {
	run, ok := m.Get(batchID)
	if !ok {
		return nil, ErrBatchNotFound
	}
	return m.exporter.export(run)
}

// SetBaseContext sets the context handed to the generator.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all running batches finish or the context is done.
// Returns true if all batches finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
