package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"imagevariants/internal/imagefile"
)

// NewBatch creates a batch with one task per non-blank prompt, preserving
// prompt order. Prompt text is stored trimmed.
func NewBatch(img *imagefile.File, prompts []string, strategy Strategy) (*Batch, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: no image provided", ErrInvalidInput)
	}
	if strategy == "" {
		strategy = StrategyConcurrent
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, strategy)
	}

	texts := lo.FilterMap(prompts, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	})
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: at least one non-empty prompt is required", ErrInvalidInput)
	}

	return &Batch{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Image:     img,
		Strategy:  strategy,
		Prompts:   texts,
	}, nil
}
