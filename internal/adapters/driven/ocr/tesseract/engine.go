// Package tesseract recognises page text by running the tesseract CLI.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strings"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

// Ensure Engine implements the interface.
var _ driven.OCREngine = (*Engine)(nil)

// CommandRunner runs an external program.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
}

// ExecRunner runs programs with os/exec. The process is killed when ctx ends.
type ExecRunner struct{}

// Run runs name with args, feeding stdin.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Config selects the binary and recognition options.
type Config struct {
	// Binary is the tesseract executable. Defaults to "tesseract".
	Binary string

	// Language lists the tesseract languages, e.g. "deu+eng".
	Language string

	// PageSegMode is passed as --psm when positive.
	PageSegMode int
}

// Engine is an OCR engine backed by the tesseract CLI.
type Engine struct {
	cfg    Config
	runner CommandRunner
}

// New creates an engine. runner may be nil to use ExecRunner.
func New(cfg Config, runner CommandRunner) *Engine {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Engine{cfg: cfg, runner: runner}
}

// Name identifies the engine for logging.
func (e *Engine) Name() string { return "tesseract" }

// Recognize returns the text found in img. The image is streamed to the
// process as PNG.
func (e *Engine) Recognize(ctx context.Context, img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("%w: no page image", domain.ErrExtractionFailed)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%w: encoding page image: %w", domain.ErrExtractionFailed, err)
	}

	stdout, stderr, err := e.runner.Run(ctx, e.cfg.Binary, e.args(), &buf)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", domain.ErrExtractionTimeout, ctxErr)
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s: %s", domain.ErrExtractionFailed, e.cfg.Binary, msg)
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (e *Engine) args() []string {
	args := []string{"stdin", "stdout"}
	if e.cfg.Language != "" {
		args = append(args, "-l", e.cfg.Language)
	}
	if e.cfg.PageSegMode > 0 {
		args = append(args, "--psm", fmt.Sprint(e.cfg.PageSegMode))
	}
	return args
}
