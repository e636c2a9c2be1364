package dto

import (
	"encoding/base64"

	"github.com/yokitheyo/rembgapi/internal/domain"
)

const successMessage = "Image processed successfully"

type RemoveBackgroundResponse struct {
	Success        bool    `json:"success"`
	OutputFormat   string  `json:"output_format"`
	ImageData      string  `json:"image_data"`
	ProcessingTime float64 `json:"processing_time"`
	OriginalSize   [2]int  `json:"original_size"`
	Message        string  `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Code    int    `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// MapOutcomeToResponse builds the JSON body. A binary payload cannot travel
// inside JSON, so it is base64 encoded while output_format keeps the
// requested value.
func MapOutcomeToResponse(out *domain.ProcessOutcome, requested domain.OutputFormat) *RemoveBackgroundResponse {
	data := out.Payload.Base64
	if out.Payload.Kind == domain.OutputBinary {
		data = base64.StdEncoding.EncodeToString(out.Payload.Binary)
	}
	return &RemoveBackgroundResponse{
		Success:        true,
		OutputFormat:   string(requested),
		ImageData:      data,
		ProcessingTime: out.ProcessingTime.Seconds(),
		OriginalSize:   [2]int{out.OriginalWidth, out.OriginalHeight},
		Message:        successMessage,
	}
}

func MapErrorToResponse(err error) (int, *ErrorResponse) {
	status := domain.StatusFor(err)
	return status, &ErrorResponse{
		Success: false,
		Error:   domain.CodeFor(err),
		Detail:  domain.MessageFor(err),
		Code:    status,
	}
}
