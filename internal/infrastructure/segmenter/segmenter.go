package segmenter

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/config"
	"github.com/yokitheyo/rembgapi/internal/domain"
)

// AlphaMatting holds the refinement parameters used when post_process is set.
type AlphaMatting struct {
	ForegroundThreshold int
	BackgroundThreshold int
	ErodeSize           int
}

func alphaMattingFrom(cfg *config.SegmenterConfig) AlphaMatting {
	return AlphaMatting{
		ForegroundThreshold: cfg.AlphaMattingForegroundThreshold,
		BackgroundThreshold: cfg.AlphaMattingBackgroundThreshold,
		ErodeSize:           cfg.AlphaMattingErodeSize,
	}
}

// New builds the process-wide segmenter. It is created once at start-up and
// is safe for concurrent use.
func New(cfg *config.SegmenterConfig) (domain.Segmenter, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		zlog.Logger.Info().Msg("Initializing local matte segmenter")
		return NewLocal(cfg), nil
	case config.BackendRembgHTTP:
		zlog.Logger.Info().Str("endpoint", cfg.Endpoint).Str("model", cfg.Model).Msg("Initializing rembg http segmenter")
		return NewRembgHTTP(cfg)
	case config.BackendRembgCLI:
		zlog.Logger.Info().Str("cli_path", cfg.CLIPath).Str("model", cfg.Model).Msg("Initializing rembg cli segmenter")
		return NewRembgCLI(cfg)
	default:
		zlog.Logger.Error().Str("backend", cfg.Backend).Msg("Unsupported segmenter backend, use 'local', 'rembg_http' or 'rembg_cli'")
		return nil, fmt.Errorf("unsupported segmenter backend: %s", cfg.Backend)
	}
}

func failed(cause error) error {
	return domain.NewPipelineError(domain.StageProcessing, domain.ErrSegmentationFailed,
		"the segmentation backend could not process the image", cause)
}

func encodeInput(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeOutput reads the backend's PNG and checks it matches the input size.
func decodeOutput(data []byte, want image.Rectangle) (*image.NRGBA, error) {
	out, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode backend output: %w", err)
	}
	if out.Bounds().Dx() != want.Dx() || out.Bounds().Dy() != want.Dy() {
		return nil, fmt.Errorf("backend output is %dx%d, input was %dx%d",
			out.Bounds().Dx(), out.Bounds().Dy(), want.Dx(), want.Dy())
	}
	return imaging.Clone(out), nil
}
