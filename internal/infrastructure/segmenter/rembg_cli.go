package segmenter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"time"

	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/config"
)

// waitDelay bounds how long a killed rembg process may hold its pipes open.
const waitDelay = 2 * time.Second

// RembgCLI runs `rembg i` once per call, image on stdin and PNG on stdout.
// Cancelling the context kills the process.
type RembgCLI struct {
	path    string
	model   string
	matting AlphaMatting
}

func NewRembgCLI(cfg *config.SegmenterConfig) (*RembgCLI, error) {
	path, err := exec.LookPath(cfg.CLIPath)
	if err != nil {
		return nil, fmt.Errorf("rembg executable %q not found: %w", cfg.CLIPath, err)
	}
	return &RembgCLI{
		path:    path,
		model:   cfg.Model,
		matting: alphaMattingFrom(cfg),
	}, nil
}

func (s *RembgCLI) Name() string {
	return "rembg_cli"
}

func (s *RembgCLI) args(postProcess bool) []string {
	args := []string{"i", "-m", s.model}
	if postProcess {
		args = append(args,
			"-a",
			"-af", strconv.Itoa(s.matting.ForegroundThreshold),
			"-ab", strconv.Itoa(s.matting.BackgroundThreshold),
			"-ae", strconv.Itoa(s.matting.ErodeSize),
		)
	}
	return append(args, "-", "-")
}

func (s *RembgCLI) Segment(ctx context.Context, img image.Image, postProcess bool) (*image.NRGBA, error) {
	input, err := encodeInput(img)
	if err != nil {
		return nil, failed(err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path, s.args(postProcess)...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("stderr", tail(stderr.String(), maxErrorBodySize)).
			Msg("rembg cli failed")
		return nil, failed(fmt.Errorf("run rembg: %w", err))
	}

	out, err := decodeOutput(stdout.Bytes(), img.Bounds())
	if err != nil {
		return nil, failed(err)
	}
	return out, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
