package batch

import (
	"fmt"
	"os"
	"path/filepath"

	fileutil "imagevariants/internal/file"
)

// Workspace resolves where exported batch artifacts live.
// The default implementation is the local filesystem under dataDir.
type Workspace interface {
	EnsureBatchDir(batchID string) (string, error)
	ArchivePath(batchID string) string
	ManifestPath(batchID string) string
	RemoveBatchDir(batchID string) error
}

type dirWorkspace struct {
	dataDir string
}

func NewDirWorkspace(dataDir string) Workspace { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &dirWorkspace{dataDir: dataDir}
}

func (w *dirWorkspace) batchDir(batchID string) string {
	return filepath.Join(w.dataDir, "batches", batchID)
}

func (w *dirWorkspace) ArchivePath(batchID string) string {
	return filepath.Join(w.batchDir(batchID), "archive.zip")
}

func (w *dirWorkspace) ManifestPath(batchID string) string {
	return filepath.Join(w.batchDir(batchID), "manifest.json")
}

func (w *dirWorkspace) EnsureBatchDir(batchID string) (string, error) {
	dir := w.batchDir(batchID)
	if err := fileutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("ensure batch dir: %w", err)
	}
	return dir, nil
}

func (w *dirWorkspace) RemoveBatchDir(batchID string) error {
	if err := os.RemoveAll(w.batchDir(batchID)); err != nil {
		return fmt.Errorf("remove batch dir: %w", err)
	}
	return nil
}
