package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Generator produces meeting notes from a transcript
type Generator interface {
	Generate(ctx context.Context, transcript string) (string, error)
}

const (
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-haiku-4-5"

	systemPrompt = `You are an AI assistant specialized in summarizing meeting transcripts.
Your task is to analyze the provided meeting transcript and generate comprehensive meeting notes.
Focus on extracting:
1. Key decisions made during the meeting (in bullet points)
2. Action items with assignees and deadlines if mentioned (in bullet points)
3. Follow-up tasks or pending items that need attention
Be concise, clear, and organized. Ignore small talk and focus on substantive discussion.`
)

// AnthropicGenerator generates notes via the Anthropic Messages API
type AnthropicGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicGenerator creates a generator using the given API key
func NewAnthropicGenerator(apiKey string) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	return &AnthropicGenerator{
		apiKey:  apiKey,
		model:   defaultAnthropicModel,
		baseURL: defaultAnthropicURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate produces structured meeting notes for the transcript
func (g *AnthropicGenerator) Generate(ctx context.Context, transcript string) (string, error) {
	logrus.WithField("transcript_length", len(transcript)).Info("Generating meeting notes")

	reqBody := anthropicRequest{
		Model:     g.model,
		MaxTokens: 1024,
		System:    systemPrompt,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: "Here is the meeting transcript to summarize:\n\n" + transcript,
			},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Anthropic API: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parsing Anthropic response: %w", err)
	}

	var generated string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			generated += block.Text
		}
	}
	if generated == "" {
		return "", fmt.Errorf("empty response from Anthropic API")
	}

	logrus.WithField("notes_length", len(generated)).Info("Meeting notes generated")
	return generated, nil
}

// MockGenerator returns fixed notes without calling any model
type MockGenerator struct {
	Notes string
	Err   error

	// Calls counts Generate invocations
	Calls int
}

// Generate returns the configured notes text
func (mg *MockGenerator) Generate(_ context.Context, transcript string) (string, error) {
	mg.Calls++
	if mg.Err != nil {
		return "", mg.Err
	}
	if mg.Notes != "" {
		return mg.Notes, nil
	}
	return fmt.Sprintf("[Mock notes for %d chars of transcript]", len(transcript)), nil
}
