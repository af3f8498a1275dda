package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ambia/internal/health"
	"ambia/internal/models"
)

const maxResponseBytes = 4 << 20

// GeneratorClient calls the page generator over HTTP
type GeneratorClient struct {
	url        string
	httpClient *http.Client
	health     *health.Tracker
}

// NewGeneratorClient creates a client for url. Every call is bounded by timeout.
func NewGeneratorClient(url string, timeout time.Duration, tracker *health.Tracker) *GeneratorClient {
	return &GeneratorClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		health:     tracker,
	}
}

type generateRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// Generate posts the query and returns the raw page body
func (c *GeneratorClient) Generate(ctx context.Context, userID, query string) (json.RawMessage, error) {
	if c.url == "" {
		return nil, ErrGeneratorUnavailable
	}
	return postJSON(ctx, c.httpClient, c.url, generateRequest{UserID: userID, Query: query}, c.health, health.CollaboratorGenerator)
}

// EnricherClient calls the layout producer for ambient records over HTTP
type EnricherClient struct {
	url        string
	httpClient *http.Client
	health     *health.Tracker
}

// NewEnricherClient creates a client for url. Every call is bounded by timeout.
func NewEnricherClient(url string, timeout time.Duration, tracker *health.Tracker) *EnricherClient {
	return &EnricherClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		health:     tracker,
	}
}

// Enrich posts the record and returns the layout body
func (c *EnricherClient) Enrich(ctx context.Context, record *models.AmbientRecord) (json.RawMessage, error) {
	if c.url == "" {
		return nil, ErrGeneratorUnavailable
	}
	return postJSON(ctx, c.httpClient, c.url, record, c.health, health.CollaboratorEnricher)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, tracker *health.Tracker, name health.Collaborator) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		tracker.RecordFailure(name, err)
		return nil, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		tracker.RecordFailure(name, err)
		return nil, fmt.Errorf("failed to read %s response: %w", name, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s returned status %d: %s", name, resp.StatusCode, truncateText(string(respBody), 200))
		if health.IsQuotaError(resp.StatusCode, string(respBody)) {
			tracker.SetCooldown(name, health.ParseCooldownDuration(resp.StatusCode, string(respBody)))
		} else {
			tracker.RecordFailure(name, err)
		}
		return nil, err
	}

	tracker.RecordSuccess(name)
	return json.RawMessage(respBody), nil
}

// FallbackPayload is the minimal page returned when generator output is unusable
func FallbackPayload(query string) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"components": []map[string]any{
			{
				"type":  "text",
				"title": query,
				"data":  map[string]string{"message": "content unavailable"},
			},
		},
		"fallback": true,
	})
	return payload
}

// NormalizePayload accepts generator output that is a JSON object and
// substitutes FallbackPayload for anything else. fallback reports the substitution.
func NormalizePayload(query string, raw json.RawMessage) (payload json.RawMessage, fallback bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return FallbackPayload(query), true
	}
	return json.RawMessage(trimmed), false
}

func truncateText(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
