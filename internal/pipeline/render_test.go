package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobarin/showcase/internal/models"
	"github.com/bobarin/showcase/internal/services"
)

type fakeEngine struct {
	bundleErr  error
	selectErr  error
	renderErr  error
	writeBytes []byte // written to OutputPath before renderErr is returned
	block      bool

	bundles int
	lastReq services.RenderRequest
}

func (f *fakeEngine) Bundle(ctx context.Context) (string, error) {
	f.bundles++
	if f.bundleErr != nil {
		return "", f.bundleErr
	}
	return "/tmp/bundle", nil
}

func (f *fakeEngine) SelectComposition(ctx context.Context, serveURL, id string, props any) (services.Composition, error) {
	if f.selectErr != nil {
		return services.Composition{}, f.selectErr
	}
	return services.Composition{ID: id, DurationInFrames: 300, FPS: 30, Width: 1080, Height: 1920}, nil
}

func (f *fakeEngine) RenderMedia(ctx context.Context, req services.RenderRequest, onProgress services.ProgressFunc) error {
	f.lastReq = req
	if f.writeBytes != nil {
		if err := os.WriteFile(req.OutputPath, f.writeBytes, 0644); err != nil {
			return err
		}
	}
	for i := 0; i <= 300; i += 30 {
		onProgress(i, 300)
	}
	if f.block {
		<-ctx.Done()
		return errors.New("killed")
	}
	return f.renderErr
}

func newTestOrchestrator(t *testing.T, engine Engine) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	o := NewOrchestrator(engine, RenderConfig{
		CompositionID: "ListingShowcase",
		TempDir:       dir,
		Concurrency:   0.5,
		Timeout:       time.Second,
	})
	o.numCPU = func() int { return 8 }
	return o, dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files left behind, found %d", len(entries))
	}
}

func TestRenderSuccess(t *testing.T) {
	engine := &fakeEngine{writeBytes: []byte("mp4")}
	o, dir := newTestOrchestrator(t, engine)

	path, err := o.Render(context.Background(), "listing-1", &models.VideoProps{Title: "Coin"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("output %q not in temp dir %q", path, dir)
	}

	enc := engine.lastReq.Encoding
	if enc.Codec != "h264" || enc.CRF != 28 || enc.PixelFormat != "yuv420p" || enc.GL != "angle" {
		t.Errorf("unexpected encoding options %+v", enc)
	}
	if enc.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", enc.Concurrency)
	}
	if engine.lastReq.Composition.ID != "ListingShowcase" {
		t.Errorf("composition = %q", engine.lastReq.Composition.ID)
	}
}

func TestRenderFailureStages(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		engine *fakeEngine
		stage  Stage
	}{
		{"bundle", &fakeEngine{bundleErr: boom}, StageBundling},
		{"composition", &fakeEngine{selectErr: boom}, StageCompositionResolved},
		{"render with partial file", &fakeEngine{writeBytes: []byte("partial"), renderErr: boom}, StageRendering},
		{"no output", &fakeEngine{}, StageRendering},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, dir := newTestOrchestrator(t, tt.engine)

			_, err := o.Render(context.Background(), "listing-1", &models.VideoProps{})
			var rf *RenderFailure
			if !errors.As(err, &rf) {
				t.Fatalf("expected RenderFailure, got %v", err)
			}
			if rf.Stage != tt.stage {
				t.Errorf("stage = %s, want %s", rf.Stage, tt.stage)
			}
			assertEmptyDir(t, dir)
		})
	}
}

func TestRenderTimeout(t *testing.T) {
	engine := &fakeEngine{writeBytes: []byte("partial"), block: true}
	o, dir := newTestOrchestrator(t, engine)
	o.cfg.Timeout = 20 * time.Millisecond

	_, err := o.Render(context.Background(), "listing-1", &models.VideoProps{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	assertEmptyDir(t, dir)
}

func TestRenderRejectsUnsafeListingID(t *testing.T) {
	root := t.TempDir()
	engine := &fakeEngine{writeBytes: []byte("mp4")}
	o := NewOrchestrator(engine, RenderConfig{
		CompositionID: "ListingShowcase",
		TempDir:       filepath.Join(root, "jobs"),
		Concurrency:   0.5,
		Timeout:       time.Second,
	})

	for _, id := range []string{"../escaped", "a/b", ""} {
		_, err := o.Render(context.Background(), id, &models.VideoProps{})
		var rf *RenderFailure
		if !errors.As(err, &rf) {
			t.Fatalf("Render(%q) expected RenderFailure, got %v", id, err)
		}
	}
	if engine.bundles != 0 {
		t.Errorf("engine ran %d times for invalid ids", engine.bundles)
	}
	assertEmptyDir(t, root)
}

func TestConcurrencyAtLeastOne(t *testing.T) {
	o := NewOrchestrator(&fakeEngine{}, RenderConfig{Concurrency: 0.1})
	o.numCPU = func() int { return 2 }
	if got := o.concurrency(); got != 1 {
		t.Errorf("concurrency() = %d, want 1", got)
	}
}
