package segmenter

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/yokitheyo/rembgapi/internal/config"
)

const (
	// maxDistanceSq is the squared RGB distance between black and white.
	maxDistanceSq = 3 * 255 * 255
	// ctxCheckMask sets how often the flood fill polls the context.
	ctxCheckMask = 1<<14 - 1
)

// Local removes backgrounds without a model. It estimates the background
// colour from the image border and flood-fills everything reachable from the
// border within the configured tolerance. Regions enclosed by the subject
// stay opaque.
type Local struct {
	toleranceSq float64
	workingMax  int
	blurSigma   float64
	matting     AlphaMatting
}

func NewLocal(cfg *config.SegmenterConfig) *Local {
	return &Local{
		toleranceSq: cfg.LocalTolerance * cfg.LocalTolerance * maxDistanceSq,
		workingMax:  cfg.LocalWorkingMax,
		blurSigma:   cfg.LocalBlurSigma,
		matting:     alphaMattingFrom(cfg),
	}
}

func (s *Local) Name() string {
	return "local"
}

func (s *Local) Segment(ctx context.Context, img image.Image, postProcess bool) (*image.NRGBA, error) {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, failed(fmt.Errorf("empty image"))
	}

	work := s.workingCopy(src)

	mask, err := s.matte(ctx, work)
	if err != nil {
		return nil, failed(err)
	}
	if postProcess {
		mask = s.refine(mask)
	}

	if mask.Bounds().Dx() != w || mask.Bounds().Dy() != h {
		mask = toGray(resize.Resize(uint(w), uint(h), mask, resize.Bilinear))
	}

	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, failed(err)
		}
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		alpha := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x := 0; x < w; x++ {
			row[x*4+3] = uint8(uint16(row[x*4+3]) * uint16(alpha[x]) / 255)
		}
	}

	return src, nil
}

func (s *Local) workingCopy(src *image.NRGBA) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	longest := max(w, h)
	if s.workingMax <= 0 || longest <= s.workingMax {
		return src
	}
	scale := float64(s.workingMax) / float64(longest)
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	return imaging.Clone(resize.Resize(uint(nw), uint(nh), src, resize.Bilinear))
}

// matte returns a mask where 0 marks background and 255 marks subject.
func (s *Local) matte(ctx context.Context, img *image.NRGBA) (*image.Gray, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	bg := borderColor(img)

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}

	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))

	push := func(x, y int) {
		i := y*w + x
		if visited[i] {
			return
		}
		visited[i] = true
		if !s.isBackground(img.Pix[y*img.Stride+x*4:], bg) {
			return
		}
		mask.Pix[y*mask.Stride+x] = 0
		queue = append(queue, i)
	}

	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for head := 0; head < len(queue); head++ {
		if head&ctxCheckMask == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		x, y := queue[head]%w, queue[head]/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	return mask, nil
}

func (s *Local) isBackground(px []uint8, bg color.NRGBA) bool {
	if px[3] == 0 {
		return true
	}
	dr := float64(px[0]) - float64(bg.R)
	dg := float64(px[1]) - float64(bg.G)
	db := float64(px[2]) - float64(bg.B)
	return dr*dr+dg*dg+db*db <= s.toleranceSq
}

// refine softens the mask edge and snaps it back to hard values outside the
// [background, foreground] threshold band.
func (s *Local) refine(mask *image.Gray) *image.Gray {
	blurred := imaging.Blur(mask, s.blurSigma)
	fg := uint8(s.matting.ForegroundThreshold)
	bg := uint8(s.matting.BackgroundThreshold)

	out := image.NewGray(mask.Bounds())
	for i := range out.Pix {
		v := blurred.Pix[i*4]
		switch {
		case v >= fg:
			out.Pix[i] = 255
		case v <= bg:
			out.Pix[i] = 0
		default:
			out.Pix[i] = v
		}
	}
	return out
}

// borderColor takes the per-channel median of the opaque border pixels.
func borderColor(img *image.NRGBA) color.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var hist [3][256]int
	n := 0

	sample := func(x, y int) {
		px := img.Pix[y*img.Stride+x*4:]
		if px[3] == 0 {
			return
		}
		hist[0][px[0]]++
		hist[1][px[1]]++
		hist[2][px[2]]++
		n++
	}
	for x := 0; x < w; x++ {
		sample(x, 0)
		sample(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		sample(0, y)
		sample(w-1, y)
	}

	if n == 0 {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{
		R: median(&hist[0], n),
		G: median(&hist[1], n),
		B: median(&hist[2], n),
		A: 255,
	}
}

func median(hist *[256]int, n int) uint8 {
	seen := 0
	for v, c := range hist {
		seen += c
		if seen*2 >= n {
			return uint8(v)
		}
	}
	return 255
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return out
}
