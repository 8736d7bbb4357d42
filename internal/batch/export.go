package batch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"imagevariants/internal/archive"
	fileutil "imagevariants/internal/file"
	"imagevariants/internal/task"
)

// exporter writes archives and manifests; exports of the same batch are serialized.
type exporter struct {
	workspace Workspace
	names     archive.NameGenerator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newExporter(ws Workspace, names archive.NameGenerator) *exporter {
	if names == nil {
		names = archive.RandomNames()
	}
	return &exporter{workspace: ws, names: names, locks: make(map[string]*sync.Mutex)}
}

func (e *exporter) lockFor(batchID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[batchID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[batchID] = l
	}
	return l
}

// forget drops the batch's lock and its exported files. It waits for an
// export of the same batch that is already writing.
func (e *exporter) forget(batchID string) error {
	e.mu.Lock()
	l, ok := e.locks[batchID]
	delete(e.locks, batchID)
	e.mu.Unlock()
	if ok {
		l.Lock()
		defer l.Unlock()
	}
	return e.workspace.RemoveBatchDir(batchID)
}

func (e *exporter) export(run *Run) (*Export, error) {
	batchID := run.Batch.ID
	l := e.lockFor(batchID)
	l.Lock()
	defer l.Unlock()

	if _, err := e.workspace.EnsureBatchDir(batchID); err != nil {
		return nil, err
	}

	tasks := run.Results.Snapshot()
	archivePath := e.workspace.ArchivePath(batchID)
	entries, err := archive.WriteFile(archivePath, tasks, e.names)
	if err != nil {
		if !errors.Is(err, archive.ErrNoContent) {
			log.Error().Str("batch_id", batchID).Err(err).Msg("archive export failed")
		}
		return nil, err
	}

	files := make(map[int]string, len(entries))
	for _, entry := range entries {
		files[entry.Index] = entry.FileName
	}
	exp := &Export{
		BatchID:     batchID,
		ArchivePath: archivePath,
		CreatedAt:   time.Now().UTC(),
		Summary:     task.Summarize(tasks),
		Entries:     make([]ManifestEntry, len(tasks)),
	}
	for i, t := range tasks {
		exp.Entries[i] = ManifestEntry{Index: t.Index, Prompt: t.Prompt, State: t.State, File: files[t.Index], Error: t.Error}
	}

	if err := fileutil.WriteJSONAtomic(e.workspace.ManifestPath(batchID), exp); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	log.Info().Str("batch_id", batchID).Int("entries", len(entries)).Str("path", archivePath).Msg("archive exported")
	return exp, nil
}
