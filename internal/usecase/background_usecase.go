package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/domain"
	"github.com/yokitheyo/rembgapi/internal/infrastructure/processor"
	"github.com/yokitheyo/rembgapi/internal/metrics"
	"github.com/yokitheyo/rembgapi/internal/worker"
)

type BackgroundUsecase struct {
	decoder   domain.Decoder
	validator domain.Validator
	segmenter domain.Segmenter
	encoder   domain.Encoder
	pool      *worker.Pool
	timeout   time.Duration
}

func NewBackgroundUsecase(
	decoder domain.Decoder,
	validator domain.Validator,
	segmenter domain.Segmenter,
	encoder domain.Encoder,
	pool *worker.Pool,
	timeout time.Duration,
) *BackgroundUsecase {
	return &BackgroundUsecase{
		decoder:   decoder,
		validator: validator,
		segmenter: segmenter,
		encoder:   encoder,
		pool:      pool,
		timeout:   timeout,
	}
}

type segmentation struct {
	image   *image.NRGBA
	elapsed time.Duration
}

// RemoveBackground runs one request through decode, validate, segment and
// encode. Every returned error is a *domain.PipelineError.
func (u *BackgroundUsecase) RemoveBackground(ctx context.Context, req *domain.ImageRequest) (*domain.ProcessOutcome, error) {
	log := zlog.Logger.With().Str("request_id", req.RequestID).Logger()
	stage := domain.StageReceived
	u.enter(&log, stage)

	if err := checkRequest(req); err != nil {
		return nil, u.fail(&log, stage, err)
	}
	if req.Output == "" {
		req.Output = domain.OutputBase64
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	stage = domain.StageDecoding
	u.enter(&log, stage)
	var (
		decoded *domain.DecodedImage
		err     error
	)
	if req.HasBase64() {
		decoded, err = u.decoder.DecodeBase64(req.Base64)
	} else {
		decoded, err = u.decoder.Decode(req.Raw)
	}
	if err != nil {
		return nil, u.fail(&log, stage, err)
	}

	stage = domain.StageValidating
	u.enter(&log, stage)
	if err := u.validator.Validate(decoded); err != nil {
		return nil, u.fail(&log, stage, err)
	}

	stage = domain.StageProcessing
	u.enter(&log, stage)
	seg, err := worker.Run(ctx, u.pool, func(ctx context.Context) (segmentation, error) {
		start := time.Now()
		out, err := u.segmenter.Segment(ctx, decoded.Pixels, req.PostProcess)
		return segmentation{image: out, elapsed: time.Since(start)}, err
	})
	if err != nil {
		err = u.segmentationError(ctx, err)
		metrics.SegmentationDuration(u.segmenter.Name(), domain.CodeFor(err), seg.elapsed)
		return nil, u.fail(&log, stage, err)
	}
	if width, height := dimensions(seg.image); width != decoded.Width || height != decoded.Height {
		err := domain.NewPipelineError(stage, domain.ErrSegmentationFailed,
			"the segmentation backend returned an image of the wrong size", nil)
		metrics.SegmentationDuration(u.segmenter.Name(), domain.CodeFor(err), seg.elapsed)
		return nil, u.fail(&log, stage, err)
	}
	metrics.SegmentationDuration(u.segmenter.Name(), "ok", seg.elapsed)

	result := &domain.ProcessedResult{
		Image:          seg.image,
		ProcessingTime: seg.elapsed,
		OriginalWidth:  decoded.Width,
		OriginalHeight: decoded.Height,
	}

	stage = domain.StageEncoding
	u.enter(&log, stage)
	payload, err := u.encoder.Encode(result, req.Output)
	if err != nil {
		return nil, u.fail(&log, stage, err)
	}

	stage = domain.StageCompleted
	u.enter(&log, stage)
	metrics.PipelineTotal("ok", string(stage))

	log.Info().
		Str("filename", req.Filename).
		Int("size_bytes", decoded.SizeBytes).
		Str("format", string(decoded.Format)).
		Str("mode", string(decoded.Mode)).
		Int("width", decoded.Width).
		Int("height", decoded.Height).
		Str("output_format", string(req.Output)).
		Bool("post_process", req.PostProcess).
		Str("segmenter", u.segmenter.Name()).
		Float64("processing_time", result.ProcessingSeconds()).
		Msg("background removed")

	return &domain.ProcessOutcome{
		Payload:        payload,
		ProcessingTime: result.ProcessingTime,
		OriginalWidth:  result.OriginalWidth,
		OriginalHeight: result.OriginalHeight,
	}, nil
}

func dimensions(img *image.NRGBA) (int, int) {
	if img == nil {
		return 0, 0
	}
	return processor.GetImageDimensions(img)
}

func checkRequest(req *domain.ImageRequest) error {
	switch {
	case req.HasBase64() && req.HasRaw():
		return domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"provide either image_base64 or a file, not both", nil)
	case !req.HasBase64() && !req.HasRaw():
		return domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"an image is required", nil)
	case req.Output != "" && !req.Output.Valid():
		return domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			fmt.Sprintf("output_format %q is not one of base64, binary, url", req.Output), nil)
	}
	return nil
}

// segmentationError maps whatever the pool or backend returned to a pipeline
// error. The deadline takes precedence over the backend's own error.
func (u *BackgroundUsecase) segmentationError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		detail := fmt.Sprintf("processing did not finish within %s", u.timeout)
		if errors.Is(ctxErr, context.Canceled) {
			detail = "request was cancelled before processing finished"
		}
		return domain.NewPipelineError(domain.StageProcessing, domain.ErrProcessingTimeout, detail, err)
	}

	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return domain.NewPipelineError(domain.StageProcessing, domain.ErrSegmentationFailed,
		"the segmentation backend could not process the image", err)
}

func (u *BackgroundUsecase) enter(log *zerolog.Logger, stage domain.Stage) {
	log.Debug().Str("stage", string(stage)).Msg("pipeline stage")
}

// fail logs and counts a failed request. Errors that are not yet pipeline
// errors are tagged with the stage they surfaced in.
func (u *BackgroundUsecase) fail(log *zerolog.Logger, stage domain.Stage, err error) error {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		stage = pe.Stage
	} else {
		err = domain.NewPipelineError(stage, domain.ErrInternal, "", err)
	}

	status := domain.StatusFor(err)
	event := log.Warn()
	if status >= 500 {
		event = log.Error()
	}
	event.
		Err(err).
		Str("stage", string(stage)).
		Str("code", domain.CodeFor(err)).
		Int("status", status).
		Msg("pipeline failed")

	metrics.PipelineTotal(domain.CodeFor(err), string(stage))
	return err
}
