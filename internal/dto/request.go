package dto

import "github.com/yokitheyo/rembgapi/internal/domain"

type RemoveBackgroundRequest struct {
	ImageBase64  string `json:"image_base64"`
	OutputFormat string `json:"output_format"`
	PostProcess  bool   `json:"post_process"`
}

// ToImageRequest maps the JSON body to a pipeline request. An empty
// output_format means base64.
func (r *RemoveBackgroundRequest) ToImageRequest(requestID string) *domain.ImageRequest {
	output := domain.OutputFormat(r.OutputFormat)
	if output == "" {
		output = domain.OutputBase64
	}
	return &domain.ImageRequest{
		RequestID:   requestID,
		Base64:      r.ImageBase64,
		Output:      output,
		PostProcess: r.PostProcess,
	}
}
