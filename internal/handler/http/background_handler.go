package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/domain"
	"github.com/yokitheyo/rembgapi/internal/dto"
	"github.com/yokitheyo/rembgapi/internal/handler/middleware"
)

const (
	serviceName    = "background-removal-api"
	serviceVersion = "1.0.0"
)

type BackgroundHandler struct {
	service       domain.BackgroundService
	maxUploadSize int64
}

func NewBackgroundHandler(service domain.BackgroundService, maxUploadSizeMB int) *BackgroundHandler {
	return &BackgroundHandler{
		service:       service,
		maxUploadSize: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

func (h *BackgroundHandler) RegisterRoutes(engine *ginext.Engine) {
	engine.POST("/api/v1/remove-background", h.RemoveBackground)
	engine.POST("/api/v1/remove-background-file", h.RemoveBackgroundFile)
	engine.GET("/api/v1/health", h.Health)
}

// RemoveBackground POST /api/v1/remove-background
func (h *BackgroundHandler) RemoveBackground(c *ginext.Context) {
	body, err := h.readBody(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var req dto.RemoveBackgroundRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		h.writeError(c, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"request body is not valid JSON", err))
		return
	}
	if req.ImageBase64 == "" {
		h.writeError(c, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"image_base64 is required", nil))
		return
	}

	imageReq := req.ToImageRequest(middleware.RequestID(c))
	if !imageReq.Output.Valid() {
		h.writeError(c, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			fmt.Sprintf("output_format must be one of base64, binary, url, got %q", req.OutputFormat), nil))
		return
	}

	zlog.Logger.Info().
		Str("request_id", imageReq.RequestID).
		Str("output_format", string(imageReq.Output)).
		Bool("post_process", imageReq.PostProcess).
		Int("payload_bytes", len(req.ImageBase64)).
		Msg("remove background request")

	outcome, err := h.service.RemoveBackground(c.Request.Context(), imageReq)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.MapOutcomeToResponse(outcome, imageReq.Output))
}

// RemoveBackgroundFile POST /api/v1/remove-background-file
func (h *BackgroundHandler) RemoveBackgroundFile(c *ginext.Context) {
	if c.Request.ContentLength > h.maxUploadSize {
		h.writeError(c, h.tooLarge(nil))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	// Получаем файл из формы
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			h.writeError(c, h.tooLarge(err))
			return
		}
		zlog.Logger.Warn().Err(err).Msg("failed to get file from request")
		h.writeError(c, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"multipart field 'file' is required", err))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		h.writeError(c, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"failed to read uploaded file", err))
		return
	}
	if len(raw) == 0 {
		h.writeError(c, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"uploaded file is empty", nil))
		return
	}

	postProcess, err := postProcessFlag(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	imageReq := &domain.ImageRequest{
		RequestID:   middleware.RequestID(c),
		Raw:         raw,
		Filename:    header.Filename,
		Output:      domain.OutputBinary,
		PostProcess: postProcess,
	}

	zlog.Logger.Info().
		Str("request_id", imageReq.RequestID).
		Str("filename", header.Filename).
		Str("content_type", header.Header.Get("Content-Type")).
		Int("size", len(raw)).
		Bool("post_process", postProcess).
		Msg("remove background file upload")

	outcome, err := h.service.RemoveBackground(c.Request.Context(), imageReq)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("X-Processing-Time", strconv.FormatFloat(outcome.ProcessingTime.Seconds(), 'f', 3, 64))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", outputFilename(header.Filename)))
	c.Data(http.StatusOK, "image/png", outcome.Payload.Binary)
}

// Health GET /api/v1/health
func (h *BackgroundHandler) Health(c *ginext.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Version: serviceVersion,
	})
}

// Helper methods

func (h *BackgroundHandler) readBody(c *ginext.Context) ([]byte, error) {
	if c.Request.ContentLength > h.maxUploadSize {
		return nil, h.tooLarge(nil)
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize))
	if err != nil {
		if isTooLarge(err) {
			return nil, h.tooLarge(err)
		}
		return nil, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			"failed to read request body", err)
	}
	return body, nil
}

func (h *BackgroundHandler) tooLarge(cause error) error {
	return domain.NewPipelineError(domain.StageReceived, domain.ErrPayloadTooLarge,
		fmt.Sprintf("request body exceeds %d MB", h.maxUploadSize/(1024*1024)), cause)
}

func (h *BackgroundHandler) writeError(c *ginext.Context, err error) {
	status, body := dto.MapErrorToResponse(err)
	if status >= http.StatusInternalServerError {
		zlog.Logger.Error().Err(err).Str("request_id", middleware.RequestID(c)).Int("status", status).Msg("request failed")
	}
	c.JSON(status, body)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// postProcessFlag reads post_process from the form, falling back to the
// query string. Missing means false.
func postProcessFlag(c *ginext.Context) (bool, error) {
	raw := c.PostForm("post_process")
	if raw == "" {
		raw = c.Query("post_process")
	}
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.NewPipelineError(domain.StageReceived, domain.ErrInvalidRequest,
			fmt.Sprintf("post_process must be a boolean, got %q", raw), err)
	}
	return v, nil
}

func outputFilename(uploaded string) string {
	base := filepath.Base(strings.ReplaceAll(uploaded, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		if r == '"' || r == ';' || r < 0x20 {
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return "nobg_" + base + ".png"
}
