package segmenter

import (
	"context"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/config"
	"github.com/yokitheyo/rembgapi/internal/domain"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func testConfig() *config.SegmenterConfig {
	return &config.SegmenterConfig{
		Backend:                         config.BackendLocal,
		Model:                           "u2net",
		AlphaMattingForegroundThreshold: 240,
		AlphaMattingBackgroundThreshold: 10,
		AlphaMattingErodeSize:           10,
		LocalTolerance:                  0.12,
		LocalWorkingMax:                 1024,
		LocalBlurSigma:                  1.5,
	}
}

// subject draws a red square on a white canvas, with a white hole in the
// middle of the square.
func subject(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red := color.NRGBA{R: 200, G: 20, B: 20, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, white)
		}
	}
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			img.SetNRGBA(x, y, red)
		}
	}
	for y := h/2 - h/16; y < h/2+h/16; y++ {
		for x := w/2 - w/16; x < w/2+w/16; x++ {
			img.SetNRGBA(x, y, white)
		}
	}
	return img
}

func TestLocal_Segment(t *testing.T) {
	s := NewLocal(testConfig())
	assert.Equal(t, "local", s.Name())

	out, err := s.Segment(context.Background(), subject(160, 120), false)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 160, 120), out.Bounds())

	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A, "corner is background")
	assert.Equal(t, uint8(0), out.NRGBAAt(159, 119).A)
	assert.Equal(t, uint8(0), out.NRGBAAt(20, 60).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(50, 40).A, "subject stays opaque")
	assert.Equal(t, uint8(255), out.NRGBAAt(80, 60).A, "enclosed hole is not reachable from the border")

	px := out.NRGBAAt(50, 40)
	assert.Equal(t, color.NRGBA{R: 200, G: 20, B: 20, A: 255}, px)
}

func TestLocal_SegmentDownscalesWorkingCopy(t *testing.T) {
	cfg := testConfig()
	cfg.LocalWorkingMax = 64

	out, err := NewLocal(cfg).Segment(context.Background(), subject(640, 480), false)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 640, 480), out.Bounds())

	assert.Equal(t, uint8(0), out.NRGBAAt(5, 5).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(200, 150).A)
}

func TestLocal_SegmentPostProcessSoftensEdge(t *testing.T) {
	s := NewLocal(testConfig())
	img := subject(160, 120)

	hard, err := s.Segment(context.Background(), img, false)
	require.NoError(t, err)
	soft, err := s.Segment(context.Background(), img, true)
	require.NoError(t, err)

	assert.Equal(t, uint8(0), soft.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(255), soft.NRGBAAt(60, 45).A)

	partial := func(img *image.NRGBA) int {
		n := 0
		for i := 3; i < len(img.Pix); i += 4 {
			if img.Pix[i] != 0 && img.Pix[i] != 255 {
				n++
			}
		}
		return n
	}
	assert.Zero(t, partial(hard))
	assert.Positive(t, partial(soft))
}

func TestLocal_SegmentUniformImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	out, err := NewLocal(testConfig()).Segment(context.Background(), img, false)
	require.NoError(t, err)
	for i := 3; i < len(out.Pix); i += 4 {
		require.Equal(t, uint8(0), out.Pix[i])
	}
}

func TestLocal_SegmentDoesNotMutateInput(t *testing.T) {
	img := subject(64, 48)
	before := append([]uint8(nil), img.Pix...)

	_, err := NewLocal(testConfig()).Segment(context.Background(), img, true)
	require.NoError(t, err)
	assert.Equal(t, before, img.Pix)
}

func TestLocal_SegmentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NewLocal(testConfig()).Segment(ctx, subject(64, 48), false)
	assert.Nil(t, out)
	require.ErrorIs(t, err, domain.ErrSegmentationFailed)
	assert.Equal(t, 500, domain.StatusFor(err))
}

func TestBorderColor(t *testing.T) {
	img := subject(40, 40)
	img.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 255})

	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, borderColor(img))

	transparent := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	assert.Equal(t, color.NRGBA{A: 255}, borderColor(transparent))
}

func TestNew_Backends(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name())

	cfg.Backend = config.BackendRembgHTTP
	cfg.Endpoint = "http://rembg:7000/"
	s, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "rembg_http", s.Name())

	cfg.Endpoint = ""
	_, err = New(cfg)
	assert.Error(t, err)

	cfg.Backend = config.BackendRembgCLI
	cfg.CLIPath = "definitely-not-a-rembg-binary"
	_, err = New(cfg)
	assert.Error(t, err)

	cfg.Backend = "onnx"
	_, err = New(cfg)
	assert.Error(t, err)
}
