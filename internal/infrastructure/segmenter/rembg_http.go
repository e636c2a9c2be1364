package segmenter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/config"
)

const (
	removePath       = "/api/remove"
	maxErrorBodySize = 512
	maxOutputSize    = 256 << 20
)

// RembgHTTP talks to a `rembg s` server.
//
//	curl -X POST "$ENDPOINT/api/remove" -F "file=@image.png" -F "model=u2net" -F "a=true"
type RembgHTTP struct {
	client   *http.Client
	endpoint string
	model    string
	matting  AlphaMatting
}

func NewRembgHTTP(cfg *config.SegmenterConfig) (*RembgHTTP, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rembg endpoint is required")
	}
	return &RembgHTTP{
		client:   &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		matting:  alphaMattingFrom(cfg),
	}, nil
}

func (s *RembgHTTP) Name() string {
	return "rembg_http"
}

func (s *RembgHTTP) Segment(ctx context.Context, img image.Image, postProcess bool) (*image.NRGBA, error) {
	input, err := encodeInput(img)
	if err != nil {
		return nil, failed(err)
	}

	body, contentType, err := s.form(input, postProcess)
	if err != nil {
		return nil, failed(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+removePath, body)
	if err != nil {
		return nil, failed(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, failed(fmt.Errorf("do request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		zlog.Logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(snippet)).
			Msg("rembg server returned an error")
		return nil, failed(fmt.Errorf("rembg request failed with status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputSize))
	if err != nil {
		return nil, failed(fmt.Errorf("read response: %w", err))
	}

	out, err := decodeOutput(data, img.Bounds())
	if err != nil {
		return nil, failed(err)
	}
	return out, nil
}

func (s *RembgHTTP) form(input []byte, postProcess bool) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(input); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}

	fields := map[string]string{
		"model": s.model,
		"a":     strconv.FormatBool(postProcess),
	}
	if postProcess {
		fields["af"] = strconv.Itoa(s.matting.ForegroundThreshold)
		fields["ab"] = strconv.Itoa(s.matting.BackgroundThreshold)
		fields["ae"] = strconv.Itoa(s.matting.ErodeSize)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
