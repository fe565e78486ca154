// Package provider implements the provider adapters: the kie.ai HTTP API and an
// in-memory mock for local development.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tutu-network/reelq/internal/domain"
)

// DefaultKieBaseURL is the production kie.ai API root.
const DefaultKieBaseURL = "https://api.kie.ai/api/v1"

// KieConfig configures the kie.ai adapter.
type KieConfig struct {
	BaseURL         string
	Timeout         time.Duration // per API request, default 60s
	DownloadTimeout time.Duration // one artifact download including the body, default 30m
	UserAgent       string
}

// Kie talks to the kie.ai job API over HTTP.
type Kie struct {
	baseURL   string
	userAgent string
	http      *http.Client
	dl        *http.Client // no client timeout; Download sets a context deadline
	dlTimeout time.Duration
	builder   RequestBuilder
	logger    *log.Entry
}

// NewKie creates a kie.ai adapter.
func NewKie(cfg KieConfig) *Kie {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultKieBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "reelq"
	}
	return &Kie{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		dl:        &http.Client{},
		dlTimeout: cfg.DownloadTimeout,
		builder:   KieRequestBuilder{},
		logger:    log.WithField("component", "provider.kie"),
	}
}

// SetRequestBuilder replaces the request mapping.
func (k *Kie) SetRequestBuilder(b RequestBuilder) { k.builder = b }

// ResolveModel returns the model name sent on submission.
func (k *Kie) ResolveModel(p domain.Payload) string { return k.builder.ResolveModel(p) }

// ─── Wire types ─────────────────────────────────────────────────────────────

type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

type recordInfo struct {
	TaskID     string          `json:"taskId"`
	State      string          `json:"state"`
	Status     string          `json:"status"`
	ResultJSON json.RawMessage `json:"resultJson"`
	VideoURL   string          `json:"videoUrl"`
	URL        string          `json:"url"`
	FailMsg    string          `json:"failMsg"`
	Error      string          `json:"error"`
}

type resultPayload struct {
	ResultURLs []string `json:"resultUrls"`
	VideoURL   string   `json:"videoUrl"`
	URL        string   `json:"url"`
}

// ─── Submit ─────────────────────────────────────────────────────────────────

// Submit creates a provider job and returns its id.
func (k *Kie) Submit(ctx context.Context, secret string, payload domain.Payload) (string, error) {
	body := k.builder.Build(payload)
	k.logger.WithField("model", body.Model).Debug("createTask")

	resp, err := k.do(ctx, http.MethodPost, "/jobs/createTask", secret, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		switch resp.StatusCode {
		case http.StatusPaymentRequired:
			return "", &domain.JobError{Kind: domain.KindInsufficientCredit, StatusCode: 402, Message: "Insufficient Credits (402)."}
		case http.StatusTooManyRequests:
			return "", &domain.JobError{Kind: domain.KindRateLimited, StatusCode: 429, Message: "Rate Limit Exceeded (429)."}
		}
		msg := env.text()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &domain.JobError{Kind: domain.KindSubmission, StatusCode: resp.StatusCode, Message: "API Request Failed: " + msg}
	}
	if decodeErr != nil {
		return "", &domain.JobError{Kind: domain.KindSubmission, Message: "Task Rejected: unreadable response", Err: decodeErr}
	}

	if env.Code == http.StatusPaymentRequired {
		return "", &domain.JobError{Kind: domain.KindInsufficientCredit, StatusCode: 402, Message: "Insufficient Credits (402)."}
	}
	var data struct {
		TaskID string `json:"taskId"`
	}
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &data)
	}
	if env.Code != http.StatusOK || data.TaskID == "" {
		return "", &domain.JobError{Kind: domain.KindSubmission, StatusCode: env.Code, Message: "Task Rejected: " + env.text()}
	}
	return data.TaskID, nil
}

// ─── Poll ───────────────────────────────────────────────────────────────────

// Poll fetches the current state of a provider job. Errors are transient; terminal
// provider failures are reported as PollFailed.
func (k *Kie) Poll(ctx context.Context, secret, jobID string) (domain.PollResult, error) {
	resp, err := k.do(ctx, http.MethodGet, "/jobs/recordInfo?taskId="+url.QueryEscape(jobID), secret, nil)
	if err != nil {
		return domain.PollResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.PollResult{}, fmt.Errorf("recordInfo returned %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return domain.PollResult{}, fmt.Errorf("parse recordInfo: %w", err)
	}
	var info recordInfo
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &info); err != nil {
			return domain.PollResult{}, fmt.Errorf("parse recordInfo data: %w", err)
		}
	}

	status := info.State
	if status == "" {
		status = info.Status
	}
	status = strings.ToUpper(status)
	res := domain.PollResult{State: domain.PollPending, RawStatus: status}

	switch status {
	case "SUCCESS", "SUCCEEDED", "COMPLETED":
		res.State = domain.PollSucceeded
		res.ResultRef = resultURL(info)
	case "FAIL", "FAILED":
		res.State = domain.PollFailed
		res.Message = info.FailMsg
		if res.Message == "" {
			res.Message = info.Error
		}
	}
	return res, nil
}

// resultURL reads the artifact location from resultJson, then from the direct fields.
// resultJson may be a JSON object or a string holding one.
func resultURL(info recordInfo) string {
	raw := bytes.TrimSpace(info.ResultJSON)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			raw = []byte(s)
		}
	}
	if len(raw) > 0 && raw[0] == '{' {
		var r resultPayload
		if json.Unmarshal(raw, &r) == nil {
			switch {
			case len(r.ResultURLs) > 0 && r.ResultURLs[0] != "":
				return r.ResultURLs[0]
			case r.VideoURL != "":
				return r.VideoURL
			case r.URL != "":
				return r.URL
			}
		}
	}
	if info.VideoURL != "" {
		return info.VideoURL
	}
	return info.URL
}

// ─── Download ───────────────────────────────────────────────────────────────

// Download fetches the artifact bytes. Non-sora results are first exchanged for a
// signed download URL, falling back to ref.
func (k *Kie) Download(ctx context.Context, secret string, payload domain.Payload, ref string) ([]byte, error) {
	target := ref
	if !IsSora(payload.Settings.Model) {
		target = k.resolveDownloadURL(ctx, secret, ref)
	}

	ctx, cancel := context.WithTimeout(ctx, k.dlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &domain.JobError{Kind: domain.KindDownload, Message: "Download failed: bad url", Err: err}
	}
	req.Header.Set("User-Agent", k.userAgent)

	resp, err := k.dl.Do(req)
	if err != nil {
		return nil, &domain.JobError{Kind: domain.KindDownload, Message: "Download failed: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.JobError{
			Kind:       domain.KindDownload,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Download failed: Failed to download video bytes (%d)", resp.StatusCode),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.JobError{Kind: domain.KindDownload, Message: "Download failed: " + err.Error(), Err: err}
	}
	return data, nil
}

func (k *Kie) resolveDownloadURL(ctx context.Context, secret, fileURL string) string {
	resp, err := k.do(ctx, http.MethodPost, "/common/download-url", secret, map[string]string{"url": fileURL})
	if err != nil {
		k.logger.WithError(err).Warn("download-url lookup failed, using raw url")
		return fileURL
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Code != http.StatusOK {
		return fileURL
	}
	var signed string
	if err := json.Unmarshal(env.Data, &signed); err != nil || signed == "" {
		return fileURL
	}
	return signed
}

// ─── Balance ────────────────────────────────────────────────────────────────

// FetchBalance returns the remaining credits of secret.
func (k *Kie) FetchBalance(ctx context.Context, secret string) (int64, error) {
	resp, err := k.do(ctx, http.MethodGet, "/chat/credit", secret, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("credit endpoint returned %d", resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, fmt.Errorf("parse credit response: %w", err)
	}
	var credits float64
	if err := json.Unmarshal(env.Data, &credits); err != nil {
		return 0, fmt.Errorf("parse credit value: %w", err)
	}
	return int64(credits), nil
}

// ─── Transport ──────────────────────────────────────────────────────────────

func (k *Kie) do(ctx context.Context, method, path, secret string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("User-Agent", k.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return k.http.Do(req)
}
