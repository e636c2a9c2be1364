package domain

import (
	"image"
	"strings"
	"time"
)

type Format string

const (
	FormatPNG  Format = "PNG"
	FormatJPEG Format = "JPEG"
	FormatWEBP Format = "WEBP"
	FormatBMP  Format = "BMP"
)

// KnownFormats is the set of containers the decoder can hand to the pipeline.
var KnownFormats = []Format{FormatPNG, FormatJPEG, FormatWEBP, FormatBMP}

// ParseFormat normalizes a decoder name or a file extension ("jpg", ".png",
// "jpeg") to a Format. ok is false for anything outside KnownFormats.
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "png":
		return FormatPNG, true
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "webp":
		return FormatWEBP, true
	case "bmp":
		return FormatBMP, true
	default:
		return "", false
	}
}

type ColorMode string

const (
	ModeRGB  ColorMode = "RGB"
	ModeRGBA ColorMode = "RGBA"
)

type OutputFormat string

const (
	OutputBase64 OutputFormat = "base64"
	OutputBinary OutputFormat = "binary"
	OutputURL    OutputFormat = "url"
)

func (f OutputFormat) Valid() bool {
	return f == OutputBase64 || f == OutputBinary || f == OutputURL
}

// ImageRequest is one inbound request. Exactly one of Base64 or Raw is set.
type ImageRequest struct {
	RequestID   string
	Base64      string
	Raw         []byte
	Filename    string
	Output      OutputFormat
	PostProcess bool
}

func (r *ImageRequest) HasBase64() bool {
	return r.Base64 != ""
}

func (r *ImageRequest) HasRaw() bool {
	return len(r.Raw) > 0
}

// DecodedImage is owned by the pipeline invocation that created it.
type DecodedImage struct {
	Pixels    image.Image
	Width     int
	Height    int
	Mode      ColorMode
	Format    Format
	SizeBytes int
}

type ProcessedResult struct {
	Image          *image.NRGBA
	ProcessingTime time.Duration
	OriginalWidth  int
	OriginalHeight int
}

func (r *ProcessedResult) ProcessingSeconds() float64 {
	return r.ProcessingTime.Seconds()
}

// ResponsePayload holds exactly one representation, selected by Kind.
type ResponsePayload struct {
	Kind   OutputFormat
	Base64 string
	Binary []byte
}

// ProcessOutcome is what the orchestrator hands back to the transport layer.
type ProcessOutcome struct {
	Payload        *ResponsePayload
	ProcessingTime time.Duration
	OriginalWidth  int
	OriginalHeight int
}
