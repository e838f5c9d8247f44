// Package classifier talks to the object classification service and polls
// it with camera frames during a round.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is where the classification service listens by default.
const DefaultBaseURL = "http://localhost:5000"

const jpegQuality = 80

type frameRequest struct {
	Word  string `json:"word"`
	Frame string `json:"frame"`
}

type frameResponse struct {
	WordInImage bool `json:"word_in_image"`
}

// Client submits frames to the classification service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the service at baseURL. A nil httpClient
// uses a client with a short timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// ProcessFrame asks whether word appears in frame, a data URL of an image.
func (c *Client) ProcessFrame(ctx context.Context, word, frame string) (bool, error) {
	body, err := json.Marshal(frameRequest{Word: word, Frame: frame})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process_frame", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("process frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("process frame: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out frameResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("process frame: decode response: %w", err)
	}
	return out.WordInImage, nil
}

// EncodeFrame renders img as a JPEG data URL.
func EncodeFrame(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
