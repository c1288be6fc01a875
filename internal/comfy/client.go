// Package comfy is the HTTP and websocket client for a ComfyUI backend.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/renderfleet/comfyrelay/internal/config"
)

// probeTimeout bounds a single liveness request.
const probeTimeout = 2 * time.Second

// Client talks to one ComfyUI backend.
type Client struct {
	baseURL string
	wsURL   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a backend client from configuration.
func New(cfg config.Config, logger *slog.Logger) *Client {
	wsURL := cfg.ComfyWSURL
	if wsURL == "" {
		wsURL = config.DeriveWSURL(cfg.ComfyAPIURL)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.ComfyAPIURL, "/"),
		wsURL:   wsURL,
		http:    &http.Client{},
		logger:  logger,
	}
}

// BaseURL returns the backend HTTP base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// SystemStats probes the backend liveness endpoint. A nil error means the
// backend answered 200.
func (c *Client) SystemStats(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("system_stats returned %s", resp.Status)
	}
	return nil
}

// EnsureReady polls the liveness endpoint until it answers 200, at fixed
// intervals, giving up after maxAttempts. It is a pure precondition gate:
// exactly one success or an UnreachableError, never a partial result.
func (c *Client) EnsureReady(ctx context.Context, maxAttempts int, delay time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	var lastErr error

	probe := func() error {
		attempts++
		if err := c.SystemStats(ctx); err != nil {
			lastErr = err
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1)),
		ctx,
	)

	if err := backoff.Retry(probe, policy); err != nil {
		return &UnreachableError{URL: c.baseURL, Attempts: attempts, LastErr: lastErr}
	}

	c.logger.Info("comfyui server is reachable", "attempt", attempts)
	return nil
}

type queueRequest struct {
	Prompt    any            `json:"prompt"`
	ClientID  string         `json:"client_id"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

type queueResponse struct {
	PromptID string `json:"prompt_id"`
}

// QueuePrompt submits a workflow and returns the backend's prompt id.
// apiKey, when non-empty, is injected for paid Comfy.org API nodes.
func (c *Client) QueuePrompt(ctx context.Context, wf any, clientID, apiKey string) (string, error) {
	payload := queueRequest{Prompt: wf, ClientID: clientID}
	if apiKey != "" {
		payload.ExtraData = map[string]any{"api_key_comfy_org": apiKey}
		c.logger.Info("comfy.org api key injected into submission")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SubmissionError{Detail: "encode payload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Detail: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &SubmissionError{Detail: "backend unreachable", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{Detail: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &SubmissionError{Detail: fmt.Sprintf("backend returned %s: %s", resp.Status, respBody)}
	}

	var result queueResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &SubmissionError{Detail: "decode response", Err: err}
	}
	if result.PromptID == "" {
		return "", &SubmissionError{Detail: fmt.Sprintf("no prompt id in response: %s", respBody)}
	}

	return result.PromptID, nil
}

// History fetches the history record for a prompt id. Returns nil when the
// backend has no record yet.
func (c *Client) History(ctx context.Context, promptID string) (*History, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history returned %s", resp.Status)
	}

	// The endpoint returns a map keyed by prompt id.
	var records map[string]*History
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return records[promptID], nil
}

// loaderClasses describes where each model category is advertised inside the
// /object_info response.
var loaderClasses = []struct {
	class    string
	field    string
	category string
}{
	{"CheckpointLoaderSimple", "ckpt_name", "checkpoints"},
	{"VAELoader", "vae_name", "vae"},
	{"LoraLoader", "lora_name", "loras"},
	{"ControlNetLoader", "control_net_name", "controlnet"},
}

type objectInfoNode struct {
	Input struct {
		Required map[string][]json.RawMessage `json:"required"`
	} `json:"input"`
}

// AvailableModels fetches the backend's advertised model inventory, keyed by
// category. The inventory can change between deployments, so it is never
// cached.
func (c *Client) AvailableModels(ctx context.Context) (map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/object_info", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch object_info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object_info returned %s", resp.Status)
	}

	var info map[string]objectInfoNode
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode object_info: %w", err)
	}

	models := make(map[string][]string)
	for _, loader := range loaderClasses {
		node, ok := info[loader.class]
		if !ok {
			continue
		}
		candidates, ok := node.Input.Required[loader.field]
		if !ok || len(candidates) == 0 {
			continue
		}
		// The first element of the candidate tuple is the list of names.
		var names []string
		if err := json.Unmarshal(candidates[0], &names); err != nil {
			continue
		}
		models[loader.category] = names
	}

	return models, nil
}

// imageContentTypes maps filename extensions to the MIME type sent on upload.
var imageContentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// ContentTypeFor infers an upload MIME type from a filename, defaulting to
// image/png.
func ContentTypeFor(filename string) string {
	parts := strings.Split(strings.ToLower(filename), ".")
	if ct, ok := imageContentTypes[parts[len(parts)-1]]; ok {
		return ct
	}
	return "image/png"
}

// UploadImage uploads image bytes to the backend's input storage under the
// given filename via multipart/form-data.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte, overwrite bool) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	header.Set("Content-Type", ContentTypeFor(filename))
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write form part: %w", err)
	}
	if err := writer.WriteField("overwrite", fmt.Sprintf("%t", overwrite)); err != nil {
		return fmt.Errorf("write overwrite field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned %s", resp.Status)
	}

	c.logger.Info("uploaded input image", "filename", filename, "bytes", len(data))
	return nil
}

// ViewURL builds the backend-native download URL for a result locator.
func (c *Client) ViewURL(loc ResultLocator) string {
	params := url.Values{}
	params.Set("filename", loc.Filename)
	params.Set("subfolder", loc.Subfolder)
	params.Set("type", loc.Type)
	return c.baseURL + "/view?" + params.Encode()
}

// FetchImage downloads the raw bytes for a result locator.
func (c *Client) FetchImage(ctx context.Context, loc ResultLocator) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ViewURL(loc), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
