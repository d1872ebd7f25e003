package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"petassist/internal/domain"
)

// OpenAI implements domain.Provider for the OpenAI chat completions API and
// for Azure OpenAI deployments.
type OpenAI struct {
	name       string
	apiKey     string
	apiBase    string
	model      string
	apiVersion string
	deployment string
	retries    int
	client     *http.Client
	logger     *slog.Logger
}

type OpenAIConfig struct {
	Name    string
	APIKey  string
	APIBase string
	Model   string
	// Azure mode is on when Deployment is set. Requests go to
	// {APIBase}/openai/deployments/{Deployment}/chat/completions.
	Deployment string
	APIVersion string
	Retries    int
	Client     *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Deployment != "" {
		if cfg.APIVersion == "" {
			cfg.APIVersion = "2024-06-01"
		}
		if cfg.Model == "" {
			cfg.Model = cfg.Deployment
		}
	} else if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
		if cfg.Deployment != "" {
			cfg.Name = "azure"
		}
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &OpenAI{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		model:      cfg.Model,
		apiVersion: cfg.APIVersion,
		deployment: cfg.Deployment,
		retries:    cfg.Retries,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Models() []string {
	if o.deployment != "" {
		return []string{o.model}
	}
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"}
}

func (o *OpenAI) azure() bool { return o.deployment != "" }

func (o *OpenAI) endpoint(path string) string {
	if o.azure() {
		return o.apiBase + "/openai/deployments/" + url.PathEscape(o.deployment) + path +
			"?api-version=" + url.QueryEscape(o.apiVersion)
	}
	return o.apiBase + path
}

func (o *OpenAI) authorize(req *http.Request) {
	if o.azure() {
		req.Header.Set("api-key", o.apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
}

func (o *OpenAI) Healthy(ctx context.Context) error {
	target := o.apiBase + "/models"
	if o.azure() {
		target = o.apiBase + "/openai/models?api-version=" + url.QueryEscape(o.apiVersion)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	o.authorize(req)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", o.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", o.name, resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model          string       `json:"model,omitempty"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	Temperature    *float64     `json:"temperature,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
	Stream         bool         `json:"stream"`
}

type oaiFormat struct {
	Type string `json:"type"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body := oaiRequest{Messages: make([]oaiMessage, 0, len(req.Messages))}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, oaiMessage{Role: m.Role, Content: m.Content})
	}
	if !o.azure() {
		body.Model = req.Model
		if body.Model == "" {
			body.Model = o.model
		}
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.JSONOutput {
		body.ResponseFormat = &oaiFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, o.name, o.retries, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint("/chat/completions"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		o.authorize(r)
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := &domain.ChatResponse{
		FinishReason: "stop",
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	if len(oaiResp.Choices) > 0 {
		out.Content = oaiResp.Choices[0].Message.Content
		out.FinishReason = oaiResp.Choices[0].FinishReason
	}
	return out, nil
}
