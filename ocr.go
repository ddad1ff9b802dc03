package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OCRClient talks to an OCR service in the style of ddddocr's
// ocr_api_server: POST a base64 image, read the text back.
type OCRClient struct {
	endpoint string
	client   *http.Client
}

func NewOCRClient(endpoint string, timeout time.Duration) *OCRClient {
	return &OCRClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *OCRClient) Classify(ctx context.Context, img []byte) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("OCR endpoint not configured")
	}

	payload := base64.StdEncoding.EncodeToString(img)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read OCR response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{URL: c.endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return strings.TrimSpace(string(body)), nil
}
