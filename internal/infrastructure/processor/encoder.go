package processor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/yokitheyo/rembgapi/internal/domain"
)

type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode serializes the RGBA result. The url representation has no storage
// behind it and always fails with ErrNotImplemented.
func (e *Encoder) Encode(result *domain.ProcessedResult, format domain.OutputFormat) (*domain.ResponsePayload, error) {
	switch format {
	case domain.OutputURL:
		return nil, domain.NewPipelineError(domain.StageEncoding, domain.ErrNotImplemented,
			"output_format 'url' is not implemented, use 'base64' or 'binary'", nil)
	case domain.OutputBase64:
		data, err := EncodePNG(result.Image)
		if err != nil {
			return nil, err
		}
		return &domain.ResponsePayload{
			Kind:   domain.OutputBase64,
			Base64: base64.StdEncoding.EncodeToString(data),
		}, nil
	case domain.OutputBinary:
		data, err := EncodePNG(result.Image)
		if err != nil {
			return nil, err
		}
		return &domain.ResponsePayload{
			Kind:   domain.OutputBinary,
			Binary: data,
		}, nil
	default:
		return nil, domain.NewPipelineError(domain.StageEncoding, domain.ErrInvalidRequest,
			fmt.Sprintf("unknown output_format %q", format), nil)
	}
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("empty buffer after encoding")
	}
	return buf.Bytes(), nil
}
