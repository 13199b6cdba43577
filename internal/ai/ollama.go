package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ollama-chat/internal/model"
)

// ErrUnavailable marks failures to reach the Ollama server at all, as opposed
// to errors it returned. Handlers map it to 503.
var ErrUnavailable = errors.New("ollama unavailable")

const systemPrompt = "You are a helpful AI assistant running locally via Ollama. " +
	"Be concise, accurate, and friendly. " +
	"If you don't know something, say so."

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaAgent talks to Ollama's native API: /api/chat for conversational
// turns (NDJSON when streaming) and /api/generate for one-shot prompts.
type OllamaAgent struct {
	cfg        Config
	httpClient *http.Client
}

func NewOllamaAgent(cfg Config) *OllamaAgent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaAgent{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Chat sends one conversational turn and waits for the complete response.
func (a *OllamaAgent) Chat(ctx context.Context, history []model.Message, userMessage string) (string, error) {
	reqBody := map[string]interface{}{
		"model":    a.cfg.Model,
		"messages": buildWireMessages(history, userMessage),
		"stream":   false,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request failed: %w", err)
	}

	resp, err := a.post(ctx, "/api/chat", bodyBytes)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response failed: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}

// StreamChat streams one conversational turn, invoking onChunk for every
// non-empty fragment in arrival order, and returns the accumulated text.
// An onChunk error aborts the stream and is returned unchanged.
func (a *OllamaAgent) StreamChat(
	ctx context.Context,
	history []model.Message,
	userMessage string,
	onChunk func(chunk string) error,
) (string, error) {
	reqBody := map[string]interface{}{
		"model":    a.cfg.Model,
		"messages": buildWireMessages(history, userMessage),
		"stream":   true,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal stream request failed: %w", err)
	}

	resp, err := a.post(ctx, "/api/chat", bodyBytes)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stream response status %d: %s", resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done  bool   `json:"done"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama stream error: %s", chunk.Error)
		}

		if text := chunk.Message.Content; text != "" {
			full.WriteString(text)
			if err := onChunk(text); err != nil {
				return "", err
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan stream failed: %w", err)
	}
	return full.String(), nil
}

// GenerateTitle asks the model for a short conversation title based on the
// opening message. Used by the title worker, never on the request path.
func (a *OllamaAgent) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	prompt := "Write a short title (at most six words) for a chat that starts with the " +
		"following message. Reply with the title only, no quotes.\n\n" + userMessage

	reqBody := map[string]interface{}{
		"model":  a.cfg.Model,
		"prompt": prompt,
		"stream": false,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request failed: %w", err)
	}

	resp, err := a.post(ctx, "/api/generate", bodyBytes)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generate response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("generate response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse generate response failed: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}
	return strings.Trim(strings.TrimSpace(parsed.Response), `"`), nil
}

func (a *OllamaAgent) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	url := strings.TrimRight(a.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// buildWireMessages prepends the system prompt and maps stored roles to
// Ollama's lower-case role names. Stored SYSTEM messages are skipped; the
// preamble owns that slot.
func buildWireMessages(history []model.Message, userMessage string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: model.RoleSystem.APIName(), Content: systemPrompt})
	for _, m := range history {
		if m.Role == model.RoleSystem {
			continue
		}
		messages = append(messages, ChatMessage{Role: m.Role.APIName(), Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: model.RoleUser.APIName(), Content: userMessage})
	return messages
}
