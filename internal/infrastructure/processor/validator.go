package processor

import (
	"fmt"
	"strings"

	"github.com/yokitheyo/rembgapi/internal/domain"
)

// Validator applies the format, minimum size and pixel ceiling checks in
// that order and stops at the first violation.
type Validator struct {
	allowed      map[domain.Format]struct{}
	allowedNames string
	minDimension int
	maxPixels    int64
}

func NewValidator(formats []string, minDimension int, maxPixels int64) *Validator {
	allowed := make(map[domain.Format]struct{}, len(formats))
	names := make([]string, 0, len(formats))
	for _, name := range formats {
		f, ok := domain.ParseFormat(name)
		if !ok {
			continue
		}
		if _, dup := allowed[f]; dup {
			continue
		}
		allowed[f] = struct{}{}
		names = append(names, string(f))
	}
	return &Validator{
		allowed:      allowed,
		allowedNames: strings.Join(names, ", "),
		minDimension: minDimension,
		maxPixels:    maxPixels,
	}
}

func (v *Validator) Validate(img *domain.DecodedImage) error {
	if _, ok := v.allowed[img.Format]; !ok {
		return domain.NewPipelineError(domain.StageValidating, domain.ErrUnsupportedFormat,
			fmt.Sprintf("format %s is not accepted (accepted: %s)", img.Format, v.allowedNames), nil)
	}

	if img.Width < v.minDimension || img.Height < v.minDimension {
		return domain.NewPipelineError(domain.StageValidating, domain.ErrImageTooSmall,
			fmt.Sprintf("image is %dx%d, minimum is %dx%d pixels", img.Width, img.Height, v.minDimension, v.minDimension), nil)
	}

	if pixels := int64(img.Width) * int64(img.Height); pixels > v.maxPixels {
		return domain.NewPipelineError(domain.StageValidating, domain.ErrImageTooLarge,
			fmt.Sprintf("image is %dx%d (%d pixels), maximum is %d pixels", img.Width, img.Height, pixels, v.maxPixels), nil)
	}

	return nil
}
