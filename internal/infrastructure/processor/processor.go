package processor

import (
	"image"

	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/config"
)

// decodeHeadroom bounds full decodes to a multiple of the validation ceiling
// so that oversized uploads are still reported as TooLarge without
// allocating their pixel buffers.
const decodeHeadroom = 4

// ImageProcessor groups the stages that run around the segmentation call.
type ImageProcessor struct {
	Decoder   *Decoder
	Validator *Validator
	Encoder   *Encoder
}

func NewImageProcessor(cfg *config.ProcessingConfig) *ImageProcessor {
	p := &ImageProcessor{
		Decoder:   NewDecoder(cfg.MaxPixels * decodeHeadroom),
		Validator: NewValidator(cfg.SupportedFormats, cfg.MinDimension, cfg.MaxPixels),
		Encoder:   NewEncoder(),
	}
	zlog.Logger.Info().
		Strs("supported_formats", cfg.SupportedFormats).
		Int("min_dimension", cfg.MinDimension).
		Int64("max_pixels", cfg.MaxPixels).
		Msg("ImageProcessor initialized")
	return p
}

func GetImageDimensions(img image.Image) (width, height int) {
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy()
}
