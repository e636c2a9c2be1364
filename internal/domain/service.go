package domain

import (
	"context"
	"image"
)

type BackgroundService interface {
	RemoveBackground(ctx context.Context, req *ImageRequest) (*ProcessOutcome, error)
}

type Decoder interface {
	DecodeBase64(payload string) (*DecodedImage, error)
	Decode(raw []byte) (*DecodedImage, error)
}

type Validator interface {
	Validate(img *DecodedImage) error
}

// Segmenter is the only binding to the background removal model.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image, postProcess bool) (*image.NRGBA, error)
	Name() string
}

type Encoder interface {
	Encode(result *ProcessedResult, format OutputFormat) (*ResponsePayload, error)
}
