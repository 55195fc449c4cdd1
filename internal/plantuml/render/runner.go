// SPDX-License-Identifier: MIT

// Package render rasterizes PlantUML source to JPEG by shelling out to the
// PlantUML jar.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/umlgrade/umlgrade/internal/log"
)

var (
	renderTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umlgrade_render_total",
		Help: "Total number of PlantUML render runs",
	}, []string{"result"})

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "umlgrade_render_duration_seconds",
		Help:    "Duration of PlantUML render runs",
		Buckets: prometheus.DefBuckets,
	})
)

// Runner renders PlantUML text via `java -jar plantuml.jar`.
type Runner struct {
	JavaBin string
	JarPath string
	Timeout time.Duration

	killDelay time.Duration
}

// NewRunner creates a renderer. Empty javaBin falls back to "java".
func NewRunner(javaBin, jarPath string, timeout time.Duration) *Runner {
	if javaBin == "" {
		javaBin = "java"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{
		JavaBin:   javaBin,
		JarPath:   jarPath,
		Timeout:   timeout,
		killDelay: 5 * time.Second,
	}
}

// Render rasterizes source to JPEG bytes. The subprocess gets SIGTERM when
// the context or the run timeout expires, then SIGKILL after a grace period.
func (r *Runner) Render(ctx context.Context, source string) ([]byte, error) {
	logger := log.WithContext(ctx, log.WithComponent("render"))

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	ring := NewLineRing(64)
	var stdout bytes.Buffer

	// #nosec G204 -- javaBin and jarPath come from validated config
	cmd := exec.CommandContext(runCtx, r.JavaBin, "-jar", r.JarPath, "-tjpg", "-pipe")
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = &stdout
	cmd.Stderr = ring
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killDelay

	start := time.Now()
	logger.Debug().
		Str("event", "render.start").
		Str("jar", r.JarPath).
		Msg("starting plantuml render")

	err := cmd.Run()
	renderDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		result := "error"
		if runCtx.Err() != nil {
			result = "timeout"
		}
		renderTotal.WithLabelValues(result).Inc()

		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		stderr := ring.LastN(20)
		logger.Error().
			Err(err).
			Str("event", "render.failed").
			Int("exit_code", code).
			Strs("stderr", stderr).
			Msg("plantuml render failed")

		if runCtx.Err() != nil {
			return nil, fmt.Errorf("plantuml render timed out after %s", r.Timeout)
		}
		return nil, &RenderError{ExitCode: code, Stderr: stderr, Err: err}
	}

	out := stdout.Bytes()
	if len(out) == 0 {
		renderTotal.WithLabelValues("empty").Inc()
		return nil, &RenderError{ExitCode: 0, Stderr: ring.LastN(20), Err: errors.New("renderer produced no output")}
	}

	renderTotal.WithLabelValues("ok").Inc()
	logger.Info().
		Str("event", "render.done").
		Int("bytes", len(out)).
		Dur("duration", time.Since(start)).
		Msg("plantuml render complete")
	return out, nil
}

// RenderToFile renders source and writes the JPEG to path.
func (r *Runner) RenderToFile(ctx context.Context, source, path string) error {
	data, err := r.Render(ctx, source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write rendered image: %w", err)
	}
	return nil
}

// Probe checks that the java binary and the jar are usable. Called at
// startup and by the readiness endpoint.
func (r *Runner) Probe(ctx context.Context) error {
	if _, err := os.Stat(r.JarPath); err != nil {
		return fmt.Errorf("plantuml jar: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// #nosec G204 -- javaBin comes from validated config
	cmd := exec.CommandContext(probeCtx, r.JavaBin, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("java not available: %w", err)
	}
	return nil
}

// RenderError carries the exit code and captured stderr of a failed run.
type RenderError struct {
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("plantuml exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
