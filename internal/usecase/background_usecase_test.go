package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/config"
	"github.com/yokitheyo/rembgapi/internal/domain"
	"github.com/yokitheyo/rembgapi/internal/infrastructure/processor"
	"github.com/yokitheyo/rembgapi/internal/worker"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

// fakeSegmenter clears the alpha of the left half unless fn overrides it.
type fakeSegmenter struct {
	calls atomic.Int32
	fn    func(ctx context.Context, img image.Image, postProcess bool) (*image.NRGBA, error)
}

func (f *fakeSegmenter) Name() string {
	return "fake"
}

func (f *fakeSegmenter) Segment(ctx context.Context, img image.Image, postProcess bool) (*image.NRGBA, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, img, postProcess)
	}
	return halfCutout(img), nil
}

func halfCutout(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < out.Bounds().Dx()/2; x++ {
			out.Pix[y*out.Stride+x*4+3] = 0
		}
	}
	return out
}

func newUsecase(seg domain.Segmenter, timeout time.Duration, poolSize int) *BackgroundUsecase {
	proc := processor.NewImageProcessor(&config.ProcessingConfig{
		SupportedFormats: []string{"png", "jpeg", "webp", "bmp"},
		MinDimension:     10,
		MaxPixels:        4096 * 4096,
	})
	return NewBackgroundUsecase(proc.Decoder, proc.Validator, seg, proc.Encoder, worker.NewPool(poolSize), timeout)
}

func jpegBase64(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodePayload(t *testing.T, payload *domain.ResponsePayload) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(payload.Base64)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestRemoveBackground_JPEG800x600(t *testing.T) {
	seg := &fakeSegmenter{}
	u := newUsecase(seg, 30*time.Second, 2)

	out, err := u.RemoveBackground(context.Background(), &domain.ImageRequest{
		RequestID: "req-1",
		Base64:    jpegBase64(t, 800, 600, color.RGBA{R: 90, G: 160, B: 40, A: 255}),
		Output:    domain.OutputBase64,
	})
	require.NoError(t, err)

	assert.Equal(t, 800, out.OriginalWidth)
	assert.Equal(t, 600, out.OriginalHeight)
	assert.Positive(t, out.ProcessingTime)
	assert.Equal(t, domain.OutputBase64, out.Payload.Kind)

	img := decodePayload(t, out.Payload)
	assert.Equal(t, image.Rect(0, 0, 800, 600), img.Bounds())
	_, _, _, a := img.At(10, 10).RGBA()
	assert.Zero(t, a)
	_, _, _, a = img.At(700, 10).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, int32(1), seg.calls.Load())
}

func TestRemoveBackground_DefaultsToBase64AndForwardsPostProcess(t *testing.T) {
	var got atomic.Bool
	seg := &fakeSegmenter{fn: func(ctx context.Context, img image.Image, postProcess bool) (*image.NRGBA, error) {
		got.Store(postProcess)
		return halfCutout(img), nil
	}}
	u := newUsecase(seg, time.Second, 1)

	out, err := u.RemoveBackground(context.Background(), &domain.ImageRequest{
		Base64:      jpegBase64(t, 64, 48, color.White),
		PostProcess: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutputBase64, out.Payload.Kind)
	assert.True(t, got.Load())
}

func TestRemoveBackground_RawBinary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 32, 32))))

	u := newUsecase(&fakeSegmenter{}, time.Second, 1)
	out, err := u.RemoveBackground(context.Background(), &domain.ImageRequest{
		Raw:      buf.Bytes(),
		Filename: "photo.png",
		Output:   domain.OutputBinary,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutputBinary, out.Payload.Kind)
	assert.True(t, bytes.HasPrefix(out.Payload.Binary, []byte("\x89PNG")))
}

func TestRemoveBackground_Failures(t *testing.T) {
	segErr := errors.New("onnx session crashed")
	valid := jpegBase64(t, 64, 48, color.White)

	tests := []struct {
		name       string
		req        domain.ImageRequest
		seg        func(ctx context.Context, img image.Image, pp bool) (*image.NRGBA, error)
		wantKind   error
		wantStatus int
		wantStage  domain.Stage
		wantCalls  int32
	}{
		{
			name:       "no input",
			req:        domain.ImageRequest{},
			wantKind:   domain.ErrInvalidRequest,
			wantStatus: 400,
			wantStage:  domain.StageReceived,
		},
		{
			name:       "both inputs",
			req:        domain.ImageRequest{Base64: valid, Raw: []byte{1}},
			wantKind:   domain.ErrInvalidRequest,
			wantStatus: 400,
			wantStage:  domain.StageReceived,
		},
		{
			name:       "unknown output format",
			req:        domain.ImageRequest{Base64: valid, Output: "gif"},
			wantKind:   domain.ErrInvalidRequest,
			wantStatus: 400,
			wantStage:  domain.StageReceived,
		},
		{
			name:       "invalid base64",
			req:        domain.ImageRequest{Base64: "%%%not base64%%%"},
			wantKind:   domain.ErrInvalidBase64,
			wantStatus: 400,
			wantStage:  domain.StageDecoding,
		},
		{
			name:       "corrupt png",
			req:        domain.ImageRequest{Raw: append([]byte("\x89PNG\r\n\x1a\n"), 0, 0, 0, 13, 'I', 'H')},
			wantKind:   domain.ErrCorruptImage,
			wantStatus: 400,
			wantStage:  domain.StageDecoding,
		},
		{
			name:       "too small",
			req:        domain.ImageRequest{Base64: jpegBase64(t, 5, 5, color.White)},
			wantKind:   domain.ErrImageTooSmall,
			wantStatus: 422,
			wantStage:  domain.StageValidating,
		},
		{
			name: "segmenter pipeline error",
			req:  domain.ImageRequest{Base64: valid},
			seg: func(ctx context.Context, img image.Image, pp bool) (*image.NRGBA, error) {
				return nil, domain.NewPipelineError(domain.StageProcessing, domain.ErrSegmentationFailed, "backend down", segErr)
			},
			wantKind:   domain.ErrSegmentationFailed,
			wantStatus: 500,
			wantStage:  domain.StageProcessing,
			wantCalls:  1,
		},
		{
			name: "segmenter plain error",
			req:  domain.ImageRequest{Base64: valid},
			seg: func(ctx context.Context, img image.Image, pp bool) (*image.NRGBA, error) {
				return nil, segErr
			},
			wantKind:   domain.ErrSegmentationFailed,
			wantStatus: 500,
			wantStage:  domain.StageProcessing,
			wantCalls:  1,
		},
		{
			name: "segmenter returns wrong size",
			req:  domain.ImageRequest{Base64: valid},
			seg: func(ctx context.Context, img image.Image, pp bool) (*image.NRGBA, error) {
				return image.NewNRGBA(image.Rect(0, 0, 10, 10)), nil
			},
			wantKind:   domain.ErrSegmentationFailed,
			wantStatus: 500,
			wantStage:  domain.StageProcessing,
			wantCalls:  1,
		},
		{
			name:       "url output",
			req:        domain.ImageRequest{Base64: valid, Output: domain.OutputURL},
			wantKind:   domain.ErrNotImplemented,
			wantStatus: 501,
			wantStage:  domain.StageEncoding,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := &fakeSegmenter{fn: tt.seg}
			u := newUsecase(seg, time.Second, 1)

			out, err := u.RemoveBackground(context.Background(), &tt.req)
			assert.Nil(t, out)
			require.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantStatus, domain.StatusFor(err))
			assert.NotContains(t, domain.MessageFor(err), "onnx")

			var pe *domain.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantStage, pe.Stage)
			assert.Equal(t, tt.wantCalls, seg.calls.Load())
		})
	}
}

func TestRemoveBackground_Timeout(t *testing.T) {
	seg := &fakeSegmenter{fn: func(ctx context.Context, img image.Image, pp bool) (*image.NRGBA, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	u := newUsecase(seg, 50*time.Millisecond, 1)

	start := time.Now()
	_, err := u.RemoveBackground(context.Background(), &domain.ImageRequest{Base64: jpegBase64(t, 64, 48, color.White)})
	require.ErrorIs(t, err, domain.ErrProcessingTimeout)
	assert.Equal(t, 504, domain.StatusFor(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRemoveBackground_LateResultIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	var first atomic.Bool
	first.Store(true)

	seg := &fakeSegmenter{fn: func(ctx context.Context, img image.Image, pp bool) (*image.NRGBA, error) {
		if first.CompareAndSwap(true, false) {
			// Ignores cancellation and answers late with a different image.
			defer close(finished)
			<-release
			return image.NewNRGBA(image.Rect(0, 0, 64, 48)), nil
		}
		return halfCutout(img), nil
	}}
	u := newUsecase(seg, 50*time.Millisecond, 2)

	_, err := u.RemoveBackground(context.Background(), &domain.ImageRequest{RequestID: "slow", Base64: jpegBase64(t, 64, 48, color.White)})
	require.ErrorIs(t, err, domain.ErrProcessingTimeout)

	close(release)
	<-finished

	u.timeout = time.Second
	out, err := u.RemoveBackground(context.Background(), &domain.ImageRequest{RequestID: "next", Base64: jpegBase64(t, 40, 30, color.White)})
	require.NoError(t, err)
	assert.Equal(t, 40, out.OriginalWidth)
	img := decodePayload(t, out.Payload)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
}

func TestRemoveBackground_ConcurrentRequestsStayIsolated(t *testing.T) {
	seg := &fakeSegmenter{fn: func(ctx context.Context, img image.Image, pp bool) (*image.NRGBA, error) {
		// Larger images take longer so the two calls overlap and finish out of order.
		time.Sleep(time.Duration(img.Bounds().Dx()/4) * time.Millisecond)
		return halfCutout(img), nil
	}}
	u := newUsecase(seg, 5*time.Second, 2)

	sizes := [][2]int{{200, 120}, {40, 60}}
	colors := []color.Color{color.RGBA{R: 250, A: 255}, color.RGBA{B: 250, A: 255}}
	payloads := make([]string, len(sizes))
	for i := range sizes {
		payloads[i] = jpegBase64(t, sizes[i][0], sizes[i][1], colors[i])
	}
	outs := make([]*domain.ProcessOutcome, len(sizes))

	var wg sync.WaitGroup
	for i := range sizes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := u.RemoveBackground(context.Background(), &domain.ImageRequest{
				Base64: payloads[i],
			})
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	for i, out := range outs {
		require.NotNil(t, out)
		assert.Equal(t, sizes[i][0], out.OriginalWidth)
		assert.Equal(t, sizes[i][1], out.OriginalHeight)

		img := decodePayload(t, out.Payload)
		require.Equal(t, image.Rect(0, 0, sizes[i][0], sizes[i][1]), img.Bounds())
		r, _, b, _ := img.At(sizes[i][0]-1, 0).RGBA()
		if i == 0 {
			assert.Greater(t, r, b)
		} else {
			assert.Greater(t, b, r)
		}
	}
	assert.Greater(t, outs[0].ProcessingTime, outs[1].ProcessingTime)
}
