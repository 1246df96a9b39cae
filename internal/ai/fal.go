package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultFalModel    = "fal-ai/bytedance/seedream/v4/edit"
	defaultFalQueueURL = "https://queue.fal.run"
	defaultFalRestURL  = "https://rest.alpha.fal.ai"
)

// FalClient talks to fal.ai: storage uploads on the REST host, edits
// through the queue API (submit, poll status, fetch result).
type FalClient struct {
	APIKey       string
	Model        string
	QueueURL     string
	RestURL      string
	PollInterval time.Duration
	Client       *http.Client
}

func NewFalClient(apiKey, model, queueURL, restURL string, pollInterval time.Duration) *FalClient {
	if model == "" {
		model = defaultFalModel
	}
	if queueURL == "" {
		queueURL = defaultFalQueueURL
	}
	if restURL == "" {
		restURL = defaultFalRestURL
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &FalClient{
		APIKey:       apiKey,
		Model:        model,
		QueueURL:     strings.TrimRight(queueURL, "/"),
		RestURL:      strings.TrimRight(restURL, "/"),
		PollInterval: pollInterval,
		Client:       &http.Client{Timeout: 90 * time.Second},
	}
}

type falUploadInitReq struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type falUploadInitResp struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

type falImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type falEditReq struct {
	Prompt              string       `json:"prompt"`
	ImageURLs           []string     `json:"image_urls"`
	NumImages           int          `json:"num_images"`
	MaxImages           int          `json:"max_images"`
	EnableSafetyChecker bool         `json:"enable_safety_checker"`
	EnhancePromptMode   string       `json:"enhance_prompt_mode"`
	ImageSize           falImageSize `json:"image_size"`
}

type falSubmitResp struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falStatusResp struct {
	Status string `json:"status"`
}

type falEditResp struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (p *FalClient) check() error {
	if p.Client == nil {
		return errors.New("fal: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return errors.New("fal: api key is required")
	}
	return nil
}

func (p *FalClient) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := p.check(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: fal: empty payload", ErrUpload)
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	ext := ".png"
	if m := mimetype.Lookup(contentType); m != nil && m.Extension() != "" {
		ext = m.Extension()
	}

	var initResp falUploadInitResp
	initURL := p.RestURL + "/storage/upload/initiate?storage_type=fal-cdn-v3"
	if err := p.doJSON(ctx, http.MethodPost, initURL, falUploadInitReq{
		ContentType: contentType,
		FileName:    "upload" + ext,
	}, &initResp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if initResp.UploadURL == "" || initResp.FileURL == "" {
		return "", fmt.Errorf("%w: fal: upload initiate returned no urls", ErrUpload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, initResp.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	return initResp.FileURL, nil
}

func (p *FalClient) Edit(ctx context.Context, imageURL, prompt string) (string, error) {
	if err := p.check(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInference, err)
	}

	var submitted falSubmitResp
	submitURL := fmt.Sprintf("%s/%s", p.QueueURL, strings.Trim(p.Model, "/"))
	if err := p.doJSON(ctx, http.MethodPost, submitURL, falEditReq{
		Prompt:              prompt,
		ImageURLs:           []string{imageURL},
		NumImages:           1,
		MaxImages:           1,
		EnableSafetyChecker: true,
		EnhancePromptMode:   "standard",
		ImageSize:           falImageSize{Width: 2048, Height: 2048},
	}, &submitted); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInference, err)
	}

	statusURL, responseURL := submitted.StatusURL, submitted.ResponseURL
	if statusURL == "" || responseURL == "" {
		if submitted.RequestID == "" {
			return "", fmt.Errorf("%w: fal: submit returned no request id", ErrInference)
		}
		base := fmt.Sprintf("%s/%s/requests/%s", p.QueueURL, appID(p.Model), submitted.RequestID)
		statusURL, responseURL = base+"/status", base
	}

	if err := p.waitCompleted(ctx, statusURL); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInference, err)
	}

	var result falEditResp
	if err := p.doJSON(ctx, http.MethodGet, responseURL, nil, &result); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInference, err)
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return "", fmt.Errorf("%w: no image generated", ErrInference)
	}
	return result.Images[0].URL, nil
}

func (p *FalClient) waitCompleted(ctx context.Context, statusURL string) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		var st falStatusResp
		if err := p.doJSON(ctx, http.MethodGet, statusURL, nil, &st); err != nil {
			return err
		}
		switch st.Status {
		case "COMPLETED":
			return nil
		case "IN_QUEUE", "IN_PROGRESS":
			timer.Reset(p.PollInterval)
		default:
			return fmt.Errorf("fal: unexpected request status %q", st.Status)
		}
	}
}

func (p *FalClient) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fal: decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("fal: %s", msg)
}

// appID trims a model path to owner/app, which is where fal serves
// request status for nested endpoints like "fal-ai/bytedance/seedream/v4/edit".
func appID(model string) string {
	parts := strings.Split(strings.Trim(model, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}
