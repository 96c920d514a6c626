package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/bobarin/showcase/internal/logging"
	"github.com/bobarin/showcase/internal/models"
	"github.com/bobarin/showcase/internal/services"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stage is a step of the render state machine.
type Stage string

const (
	StageBundling            Stage = "bundling"
	StageCompositionResolved Stage = "composition_resolved"
	StageRendering           Stage = "rendering"
	StageDone                Stage = "done"
	StageFailed              Stage = "failed"
)

// Encoding defaults for the showcase video.
const (
	Codec       = "h264"
	CRF         = 28
	PixelFormat = "yuv420p"
	GLBackend   = "angle"
)

// RenderFailure reports which stage a render failed in.
type RenderFailure struct {
	Stage Stage
	Cause error
}

func (e *RenderFailure) Error() string {
	return fmt.Sprintf("render failed during %s: %v", e.Stage, e.Cause)
}

func (e *RenderFailure) Unwrap() error {
	return e.Cause
}

// Engine is the rendering backend.
type Engine interface {
	Bundle(ctx context.Context) (string, error)
	SelectComposition(ctx context.Context, serveURL, compositionID string, props any) (services.Composition, error)
	RenderMedia(ctx context.Context, req services.RenderRequest, onProgress services.ProgressFunc) error
}

type RenderConfig struct {
	CompositionID string
	TempDir       string
	// Concurrency is the fraction of CPU cores the renderer may use, in (0, 1].
	Concurrency float64
	Timeout     time.Duration
}

// Orchestrator turns composition props into a local video file.
type Orchestrator struct {
	engine Engine
	cfg    RenderConfig
	numCPU func() int
}

func NewOrchestrator(engine Engine, cfg RenderConfig) *Orchestrator {
	return &Orchestrator{engine: engine, cfg: cfg, numCPU: runtime.NumCPU}
}

// Render produces the video and returns its local path. On failure no
// partial file is left behind.
func (o *Orchestrator) Render(ctx context.Context, listingID string, props *models.VideoProps) (string, error) {
	logger := logging.Component("render").With().Str("listing_id", listingID).Logger()
	started := time.Now()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	if !models.ValidListingID(listingID) {
		return "", &RenderFailure{Stage: StageBundling, Cause: fmt.Errorf("invalid listing id %q", listingID)}
	}

	outputPath := filepath.Join(o.cfg.TempDir, fmt.Sprintf("%s-%s.mp4", listingID, uuid.NewString()))
	fail := func(stage Stage, err error) (string, error) {
		if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn().Err(rmErr).Str("path", outputPath).Msg("failed to remove partial output")
		}
		logger.Error().Err(err).Str("stage", string(stage)).Str("state", string(StageFailed)).Msg("render failed")
		return "", &RenderFailure{Stage: stage, Cause: err}
	}

	if err := os.MkdirAll(o.cfg.TempDir, 0755); err != nil {
		return fail(StageBundling, fmt.Errorf("failed to create temp dir: %w", err))
	}

	logger.Info().Str("state", string(StageBundling)).Msg("bundling composition")
	serveURL, err := o.engine.Bundle(ctx)
	if err != nil {
		return fail(StageBundling, err)
	}

	comp, err := o.engine.SelectComposition(ctx, serveURL, o.cfg.CompositionID, props)
	if err != nil {
		return fail(StageCompositionResolved, err)
	}
	logger.Info().
		Str("state", string(StageCompositionResolved)).
		Str("composition", comp.ID).
		Int("frames", comp.DurationInFrames).
		Float64("fps", comp.FPS).
		Msg("composition resolved")

	concurrency := o.concurrency()
	logger.Info().Str("state", string(StageRendering)).Int("concurrency", concurrency).Msg("rendering")

	progress := newProgressLogger(logger)
	err = o.engine.RenderMedia(ctx, services.RenderRequest{
		ServeURL:    serveURL,
		Composition: comp,
		Props:       props,
		OutputPath:  outputPath,
		Encoding: services.EncodingOptions{
			Codec:       Codec,
			CRF:         CRF,
			PixelFormat: PixelFormat,
			Concurrency: concurrency,
			GL:          GLBackend,
		},
	}, progress.report)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return fail(StageRendering, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return fail(StageRendering, fmt.Errorf("renderer produced no output at %s", outputPath))
	}

	logger.Info().
		Str("state", string(StageDone)).
		Str("path", outputPath).
		Int64("bytes", info.Size()).
		Dur("elapsed", time.Since(started)).
		Msg("render complete")

	return outputPath, nil
}

// concurrency converts the configured CPU fraction to a worker count, at least 1.
func (o *Orchestrator) concurrency() int {
	n := int(math.Floor(float64(o.numCPU()) * o.cfg.Concurrency))
	if n < 1 {
		return 1
	}
	return n
}

// progressLogger logs render progress in 10% steps.
type progressLogger struct {
	logger   zerolog.Logger
	lastStep int
}

func newProgressLogger(logger zerolog.Logger) *progressLogger {
	return &progressLogger{logger: logger, lastStep: -1}
}

func (p *progressLogger) report(rendered, total int) {
	if total <= 0 {
		return
	}
	step := rendered * 10 / total
	if step <= p.lastStep {
		return
	}
	p.lastStep = step
	p.logger.Info().
		Int("rendered_frames", rendered).
		Int("total_frames", total).
		Int("percent", step*10).
		Msg("render progress")
}
