package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/bobarin/showcase/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Composition is the resolved timeline of a composition for a given set of props.
type Composition struct {
	ID               string
	DurationInFrames int
	FPS              float64
	Width            int
	Height           int
}

// EncodingOptions are passed through to the renderer unchanged.
type EncodingOptions struct {
	Codec       string // e.g. "h264"
	CRF         int
	PixelFormat string // e.g. "yuv420p"
	Concurrency int
	GL          string // OpenGL backend, e.g. "angle"
}

// RenderRequest describes one render.
type RenderRequest struct {
	ServeURL    string
	Composition Composition
	Props       any
	OutputPath  string
	Encoding    EncodingOptions
}

// ProgressFunc receives (renderedFrames, totalFrames) updates.
type ProgressFunc func(rendered, total int)

var (
	// ListingShowcase   30   1080x1920   450 (15.00 sec)
	compositionLine = regexp.MustCompile(`^(\S+)\s+(\d+(?:\.\d+)?)\s+(\d+)x(\d+)\s+(\d+)`)
	progressFrames  = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
)

// RemotionEngine drives the Remotion CLI through npx.
type RemotionEngine struct {
	root    string // Remotion project root (holds package.json)
	entry   string // entry point relative to root
	tempDir string

	mu        sync.Mutex
	bundleDir string // set once the first bundle succeeds
}

func NewRemotionEngine(root, entry, tempDir string) (*RemotionEngine, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &RemotionEngine{root: root, entry: entry, tempDir: tempDir}, nil
}

// Bundle builds the composition into a static serve directory. The bundle is
// reused for the life of the process.
func (e *RemotionEngine) Bundle(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bundleDir != "" {
		return e.bundleDir, nil
	}

	outDir := filepath.Join(e.tempDir, "bundle")
	if _, err := e.npx(ctx, "remotion", "bundle", e.entry, "--out-dir", outDir); err != nil {
		return "", fmt.Errorf("remotion bundle failed: %w", err)
	}

	e.bundleDir = outDir
	return outDir, nil
}

// SelectComposition asks Remotion for the composition's timeline with the given props.
func (e *RemotionEngine) SelectComposition(ctx context.Context, serveURL, compositionID string, props any) (Composition, error) {
	propsPath, cleanup, err := e.writeProps(props)
	if err != nil {
		return Composition{}, err
	}
	defer cleanup()

	out, err := e.npx(ctx, "remotion", "compositions", serveURL, "--props", propsPath)
	if err != nil {
		return Composition{}, fmt.Errorf("remotion compositions failed: %w", err)
	}

	return parseComposition(out, compositionID)
}

// RenderMedia renders the composition to req.OutputPath. Progress is parsed
// from the CLI output while the process runs.
func (e *RemotionEngine) RenderMedia(ctx context.Context, req RenderRequest, onProgress ProgressFunc) error {
	propsPath, cleanup, err := e.writeProps(req.Props)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{
		"remotion", "render",
		req.ServeURL,
		req.Composition.ID,
		req.OutputPath,
		"--props", propsPath,
		"--codec", req.Encoding.Codec,
		"--crf", strconv.Itoa(req.Encoding.CRF),
		"--pixel-format", req.Encoding.PixelFormat,
		"--concurrency", strconv.Itoa(req.Encoding.Concurrency),
		"--gl", req.Encoding.GL,
		"--overwrite",
	}

	cmd := exec.CommandContext(ctx, "npx", args...)
	cmd.Dir = e.root

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start remotion render: %w", err)
	}

	tail := newTailBuffer(20)
	var g errgroup.Group
	g.Go(func() error {
		return scanLines(stdout, func(line string) {
			if rendered, total, ok := parseProgress(line); ok && onProgress != nil {
				onProgress(rendered, total)
			}
		})
	})
	g.Go(func() error {
		return scanLines(stderr, tail.add)
	})

	// Pipes must be drained before Wait closes them.
	scanErr := g.Wait()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("remotion render failed: %w: %s", err, tail.String())
	}
	if scanErr != nil {
		return fmt.Errorf("failed to read remotion output: %w", scanErr)
	}

	return nil
}

func (e *RemotionEngine) npx(ctx context.Context, args ...string) (string, error) {
	logger := logging.Component("remotion")
	logger.Debug().Strs("args", args).Msg("running npx")

	cmd := exec.CommandContext(ctx, "npx", args...)
	cmd.Dir = e.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, lastLines(stderr.String(), 20))
	}
	return stdout.String(), nil
}

func (e *RemotionEngine) writeProps(props any) (string, func(), error) {
	data, err := json.Marshal(props)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal props: %w", err)
	}

	propsPath := filepath.Join(e.tempDir, "props-"+uuid.NewString()+".json")
	if err := os.WriteFile(propsPath, data, 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write props: %w", err)
	}
	return propsPath, func() { os.Remove(propsPath) }, nil
}

func parseComposition(output, compositionID string) (Composition, error) {
	for _, line := range strings.Split(output, "\n") {
		m := compositionLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || m[1] != compositionID {
			continue
		}

		fps, _ := strconv.ParseFloat(m[2], 64)
		width, _ := strconv.Atoi(m[3])
		height, _ := strconv.Atoi(m[4])
		frames, _ := strconv.Atoi(m[5])
		if fps <= 0 || width <= 0 || height <= 0 || frames <= 0 {
			return Composition{}, fmt.Errorf("composition %s has an invalid timeline: %q", compositionID, line)
		}

		return Composition{
			ID:               compositionID,
			DurationInFrames: frames,
			FPS:              fps,
			Width:            width,
			Height:           height,
		}, nil
	}

	return Composition{}, fmt.Errorf("composition %s not found in bundle", compositionID)
}

// parseProgress extracts "rendered/total" from a render progress line.
func parseProgress(line string) (rendered, total int, ok bool) {
	if !strings.Contains(strings.ToLower(line), "render") {
		return 0, 0, false
	}
	m := progressFrames.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	rendered, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	if total <= 0 || rendered > total {
		return 0, 0, false
	}
	return rendered, total, true
}

func scanLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	// Remotion redraws progress with carriage returns.
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		for i, b := range data {
			if b == '\n' || b == '\r' {
				return i + 1, data[:i], nil
			}
		}
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	})
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			fn(line)
		}
	}
	return scanner.Err()
}

// tailBuffer keeps the last n lines of output for error messages.
type tailBuffer struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
