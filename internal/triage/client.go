package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/spec-kit/triage-service/internal/domain"
)

// Request carries the ticket fields embedded into the triage prompt.
type Request struct {
	CustomerName  string
	CustomerEmail string
	Subject       string
	Message       string
}

// Result is the validated outcome of one triage call. It is ephemeral:
// consumed once to mutate a ticket, never persisted on its own.
type Result struct {
	Category  domain.TicketCategory
	Sentiment int
	Urgency   domain.TicketUrgency
	Draft     string
}

// Client calls an OpenAI-compatible chat-completions endpoint and converts
// free-form model output into a Result or a typed *Error. One attempt per
// call; retry policy belongs to the caller.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Client) { t.httpClient = c }
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(t *Client) { t.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(t *Client) { t.temperature = temperature }
}

// NewClient creates a triage client. Endpoint and apiKey may be empty;
// Triage then fails with a config error instead of the process crashing.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		endpoint:    endpoint,
		apiKey:      apiKey,
		model:       "gpt-4o-mini",
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const systemPrompt = "Return valid JSON only. No markdown or explanations."

const userPromptTemplate = `You are a support triage assistant.
Analyze the ticket and return ONLY strict JSON with this shape:
{
  "category": "BILLING" | "TECHNICAL" | "FEATURE_REQUEST",
  "sentiment": number from 1-10,
  "urgency": "HIGH" | "MEDIUM" | "LOW",
  "draftResponse": string
}

Ticket:
Name: %s
Email: %s
Subject: %s
Message: %s`

// draftMinLen is the minimum usable draft length after trimming.
const draftMinLen = 10

// Triage classifies a ticket via the external model.
func (c *Client) Triage(ctx context.Context, req Request) (*Result, error) {
	if c.endpoint == "" || c.apiKey == "" {
		return nil, newConfigError("missing OPENAI_ENDPOINT or OPENAI_KEY")
	}

	body := completionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, req.CustomerName, req.CustomerEmail, req.Subject, req.Message)},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newTransportError("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, newTransportError("create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, newTransportError("http request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError("read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newTransportError(fmt.Sprintf("completion call failed (status %d): %s", resp.StatusCode, respBody), nil)
	}

	var completion completionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, newBadOutputError("unmarshal completion envelope", err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, newBadOutputError("completion response missing message content", nil)
	}

	return parseResult(completion.Choices[0].Message.Content)
}

// --- completion wire format ---

type completionRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
}

type completionChoice struct {
	Message chatMessage `json:"message"`
}

// --- output parsing ---

// resultPayload is the shape the model is instructed to return. Sentiment
// is decoded as a pointer so a missing field is distinguishable from 0.
type resultPayload struct {
	Category      string   `json:"category"`
	Sentiment     *float64 `json:"sentiment"`
	Urgency       string   `json:"urgency"`
	DraftResponse string   `json:"draftResponse"`
}

var codeFence = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// stripCodeFence removes Markdown fencing that models still wrap JSON in
// despite instructions.
func stripCodeFence(content string) string {
	if match := codeFence.FindStringSubmatch(content); match != nil {
		return match[1]
	}
	return content
}

func parseResult(content string) (*Result, error) {
	raw := stripCodeFence(content)

	var payload resultPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, newBadOutputError("model returned malformed triage JSON", err)
	}

	category := domain.TicketCategory(payload.Category)
	if !category.IsValid() {
		return nil, newBadOutputError(fmt.Sprintf("unknown category %q", payload.Category), nil)
	}
	urgency := domain.TicketUrgency(payload.Urgency)
	if !urgency.IsValid() {
		return nil, newBadOutputError(fmt.Sprintf("unknown urgency %q", payload.Urgency), nil)
	}
	if payload.Sentiment == nil {
		return nil, newBadOutputError("sentiment missing or not a number", nil)
	}
	draft := strings.TrimSpace(payload.DraftResponse)
	if len(draft) < draftMinLen {
		return nil, newBadOutputError("draft response too short", nil)
	}

	return &Result{
		Category:  category,
		Sentiment: clampSentiment(*payload.Sentiment),
		Urgency:   urgency,
		Draft:     draft,
	}, nil
}

// clampSentiment rounds to the nearest integer and clamps into [1,10].
// Valid non-integer numbers are coerced rather than rejected.
func clampSentiment(value float64) int {
	rounded := int(math.Round(value))
	if rounded < 1 {
		return 1
	}
	if rounded > 10 {
		return 10
	}
	return rounded
}
