package processor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"unicode"

	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoder turns base64 text or raw upload bytes into a DecodedImage.
// GIF and TIFF decoders are registered so those containers are recognized
// and rejected as unsupported instead of being reported as corrupt.
type Decoder struct {
	maxDecodePixels int64
}

// NewDecoder returns a Decoder. A positive maxDecodePixels refuses to
// allocate pixel buffers for images whose header declares more pixels.
func NewDecoder(maxDecodePixels int64) *Decoder {
	return &Decoder{maxDecodePixels: maxDecodePixels}
}

func (d *Decoder) DecodeBase64(payload string) (*domain.DecodedImage, error) {
	raw, err := decodeBase64(payload)
	if err != nil {
		return nil, domain.NewPipelineError(domain.StageDecoding, domain.ErrInvalidBase64,
			"image_base64 is not valid base64", err)
	}
	return d.Decode(raw)
}

func (d *Decoder) Decode(raw []byte) (*domain.DecodedImage, error) {
	if len(raw) == 0 {
		return nil, domain.NewPipelineError(domain.StageDecoding, domain.ErrCorruptImage,
			"image data is empty", nil)
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		detail := "image header is corrupt"
		if errors.Is(err, image.ErrFormat) {
			detail = "no recognizable image container"
		}
		return nil, domain.NewPipelineError(domain.StageDecoding, domain.ErrCorruptImage, detail, err)
	}

	format, ok := domain.ParseFormat(name)
	if !ok {
		return nil, domain.NewPipelineError(domain.StageDecoding, domain.ErrDecodeUnsupportedFormat,
			fmt.Sprintf("%s images are not supported (PNG, JPEG, WEBP, BMP)", strings.ToUpper(name)), nil)
	}

	declared := int64(cfg.Width) * int64(cfg.Height)
	if d.maxDecodePixels > 0 && declared > d.maxDecodePixels {
		return nil, domain.NewPipelineError(domain.StageDecoding, domain.ErrImageTooLarge,
			fmt.Sprintf("image is %dx%d (%d pixels), far above the accepted size", cfg.Width, cfg.Height, declared), nil)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.NewPipelineError(domain.StageDecoding, domain.ErrCorruptImage,
			fmt.Sprintf("%s data is truncated or corrupt", format), err)
	}

	width, height := GetImageDimensions(img)
	decoded := &domain.DecodedImage{
		Pixels:    img,
		Width:     width,
		Height:    height,
		Mode:      colorMode(img),
		Format:    format,
		SizeBytes: len(raw),
	}

	zlog.Logger.Debug().
		Str("format", string(decoded.Format)).
		Str("mode", string(decoded.Mode)).
		Int("width", width).
		Int("height", height).
		Int("size_bytes", decoded.SizeBytes).
		Msg("image decoded")

	return decoded, nil
}

// decodeBase64 accepts plain base64 or a data URL, with or without padding.
// Line breaks and spaces inside the payload are ignored.
func decodeBase64(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, errors.New("data url without payload")
		}
		s = s[idx+1:]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errors.New("empty payload")
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	if rawUnpadded, errRaw := base64.RawStdEncoding.DecodeString(s); errRaw == nil {
		return rawUnpadded, nil
	}
	return nil, err
}

func colorMode(img image.Image) domain.ColorMode {
	// png decodes truecolor without alpha into *image.RGBA, so only a
	// non-opaque RGBA buffer counts as RGBA.
	switch m := img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.NYCbCrA, *image.Alpha, *image.Alpha16:
		return domain.ModeRGBA
	case *image.RGBA:
		if !m.Opaque() {
			return domain.ModeRGBA
		}
	case *image.RGBA64:
		if !m.Opaque() {
			return domain.ModeRGBA
		}
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return domain.ModeRGBA
			}
		}
	}
	return domain.ModeRGB
}
