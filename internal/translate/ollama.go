package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const ollamaSystemPrompt = "You are a subtitle translator. Reply with the translation only, without quotes, notes or explanations."

type ollamaClient struct {
	endpoint    string
	model       string
	temperature float64
	http        *http.Client
}

func NewOllamaClient(endpoint, model string, temperature float64) Client {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaClient{
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       model,
		temperature: temperature,
		http:        http.DefaultClient,
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *ollamaClient) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	payload := ollamaRequest{
		Model:   c.model,
		Prompt:  translationPrompt(text, sourceCode, targetCode),
		System:  ollamaSystemPrompt,
		Stream:  true,
		Options: ollamaOptions{Temperature: c.temperature},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode ollama response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func translationPrompt(text, sourceCode, targetCode string) string {
	return fmt.Sprintf("Translate the following text from %s to %s:\n\n%s",
		displayName(sourceCode), displayName(targetCode), text)
}

func displayName(code string) string {
	if l, err := Lookup(code); err == nil {
		return l.Name
	}
	return code
}
