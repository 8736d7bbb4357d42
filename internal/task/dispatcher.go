package task

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"imagevariants/internal/imagefile"
)

// Generator produces one image variation for a prompt. The result is the
// generated image as base64 text.
type Generator interface {
	Generate(ctx context.Context, img *imagefile.File, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, img *imagefile.File, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, img *imagefile.File, prompt string) (string, error) {
	return f(ctx, img, prompt)
}

// Dispatcher drives every task of a batch to a terminal state.
type Dispatcher struct {
	generator Generator
}

func NewDispatcher(generator Generator) *Dispatcher {
	return &Dispatcher{generator: generator}
}

// Run dispatches all tasks of b according to b.Strategy and returns once each
// has settled. Individual failures are recorded in sink and never abort the run.
func (d *Dispatcher) Run(ctx context.Context, b *Batch, sink Sink) {
	var group errgroup.Group
	if b.Strategy == StrategySequential {
		// Go blocks until the previous task has returned, so tasks start in order
		group.SetLimit(1)
	}
	for i := range b.Prompts {
		index := i
		group.Go(func() error {
			d.runTask(ctx, b, index, sink)
			return nil
		})
	}
	_ = group.Wait()
}

func (d *Dispatcher) runTask(ctx context.Context, b *Batch, index int, sink Sink) {
	prompt := b.Prompts[index]
	start := time.Now()

	image, err := d.generate(ctx, b.Image, prompt)
	if err == nil && image == "" {
		err = errors.New(UpstreamErrorPrefix + " empty image returned")
	}

	if err != nil {
		cause := Classify(err)
		log.Warn().
			Str("batch_id", b.ID).
			Int("index", index).
			Str("kind", string(cause.Kind)).
			Dur("latency", time.Since(start)).
			Err(err).
			Msg("generation failed")
		if serr := sink.Fail(index, cause); serr != nil {
			log.Error().Str("batch_id", b.ID).Int("index", index).Err(serr).Msg("record failure")
		}
		return
	}

	log.Info().
		Str("batch_id", b.ID).
		Int("index", index).
		Dur("latency", time.Since(start)).
		Msg("generation succeeded")
	if serr := sink.Succeed(index, image); serr != nil {
		log.Error().Str("batch_id", b.ID).Int("index", index).Err(serr).Msg("record success")
	}
}

// generate isolates the call so a panicking generator fails only its own task.
func (d *Dispatcher) generate(ctx context.Context, img *imagefile.File, prompt string) (image string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("generator panicked")
			err = errors.New("generator panicked")
		}
	}()
	return d.generator.Generate(ctx, img, prompt)
}
