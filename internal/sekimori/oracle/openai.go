package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bdobrica/Sekimori/common/retry"
)

const (
	defaultOracleBase  = "https://api.openai.com/v1"
	defaultOracleModel = "gpt-4o-mini"
	defaultTimeout     = 30 * time.Second
)

// Config configures the OpenAI-compatible oracle provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint.  Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use.  Defaults to gpt-4o-mini when empty.
	Model string

	// Timeout is the HTTP request timeout.  Defaults to 30 s.
	Timeout time.Duration
}

// openAIProvider implements Provider using the OpenAI chat completions API
// with JSON-mode output so the answer is always syntactically parseable.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

// New returns a Provider backed by the OpenAI (or compatible) chat API.
// The returned provider is safe for concurrent use.
func New(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOracleBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOracleModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// assessSystemPrompt instructs the model to score one proposed action.
// The score bands are stated explicitly; the schema in schema.go enforces
// them again after the fact.
const assessSystemPrompt = `You are the risk assessment oracle for Sekimori, the action approval engine of an AI assistant.

You are given one privileged action an autonomous agent wants to perform, with its parameters and situational context.  Estimate how risky executing it would be for the user.

RULES (strict -- do not deviate):
1. Respond ONLY with valid JSON.  No markdown, no code fences, no text outside JSON.
2. You never execute, approve, or reject anything -- you only score.
3. risk_score is an integer 0-100.  risk_category must match the score band:
   LOW 0-30, MEDIUM 31-60, HIGH 61-80, CRITICAL 81-100.
4. Irreversible, destructive, financial, or credential-touching actions score high.
5. requires_approval and auto_approve are recommendations only; the policy engine makes the binding decision.

JSON schema for your response:
{
  "risk_score":        <integer 0-100>,
  "risk_category":     "LOW" | "MEDIUM" | "HIGH" | "CRITICAL",
  "requires_approval": <boolean>,
  "auto_approve":      <boolean>,
  "reasoning":         "<one or two sentences>",
  "factors":           ["<contributing factor>", ...]
}`

// recommendSystemPrompt asks for an advisory second opinion on an existing
// request.  The answer is shown to humans; it never decides anything.
const recommendSystemPrompt = `You are the risk assessment oracle for Sekimori, the action approval engine of an AI assistant.

A request is awaiting a human decision.  You are given the full request including the risk score you previously assigned.  Give an advisory opinion on what the human should do.

RULES (strict -- do not deviate):
1. Respond ONLY with valid JSON.  No markdown, no code fences, no text outside JSON.
2. Your opinion is advisory.  It never overrides policy or the human.
3. Recommend "modify" only when a concrete change would make the action acceptable, and describe that change in suggested_modifications.

JSON schema for your response:
{
  "recommendation":          "approve" | "reject" | "modify",
  "confidence":              <integer 0-100>,
  "reasoning":               "<one or two sentences>",
  "suggested_modifications": {"<field>": <changed value>, ...}
}`

// Assess scores the proposed action.
func (p *openAIProvider) Assess(ctx context.Context, in AssessInput) (*Assessment, error) {
	user, err := json.Marshal(map[string]any{
		"action":      in.Action,
		"description": in.Description,
		"parameters":  in.Parameters,
		"context":     in.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal assess input: %w", err)
	}

	content, err := p.complete(ctx, assessSystemPrompt, string(user))
	if err != nil {
		return nil, err
	}

	var a Assessment
	if err := decodeValidated(assessmentCompiled, content, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Recommend produces an advisory opinion on an existing request.
func (p *openAIProvider) Recommend(ctx context.Context, in RecommendInput) (*Recommendation, error) {
	user, err := json.Marshal(map[string]any{
		"action":        in.Action,
		"description":   in.Description,
		"parameters":    in.Parameters,
		"context":       in.Context,
		"risk_score":    in.RiskScore,
		"risk_category": in.RiskCategory,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal recommend input: %w", err)
	}

	content, err := p.complete(ctx, recommendSystemPrompt, string(user))
	if err != nil {
		return nil, err
	}

	var rec Recommendation
	if err := decodeValidated(recommendationCompiled, content, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// complete performs one JSON-mode chat completion and returns the message
// content.  Transient upstream failures (429, 5xx, transport errors) are
// retried with backoff; everything else fails immediately.
func (p *openAIProvider) complete(ctx context.Context, system, user string) ([]byte, error) {
	body := oaiRequest{
		Model: p.cfg.Model,
		Messages: []oaiMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:      512,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal request: %w", err)
	}

	var content []byte
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
		},
	}, func() error {
		content, err = p.completeOnce(ctx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (p *openAIProvider) completeOnce(ctx context.Context, data []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("oracle: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w (HTTP 429)", ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrUnavailable, resp.StatusCode)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("%w: decode API response: %v", ErrMalformed, err)
	}

	if oaiResp.Error != nil {
		return nil, fmt.Errorf("%w: API error (%s): %s", ErrUnavailable, oaiResp.Error.Type, oaiResp.Error.Message)
	}

	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned (HTTP %d)", ErrMalformed, resp.StatusCode)
	}

	return []byte(oaiResp.Choices[0].Message.Content), nil
}
