package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// DefaultReplyPath locates the reply text in an OpenAI-style response body.
const DefaultReplyPath = "choices.0.message.content"

// maxErrorBody caps how much of a failed response ends up in ProviderError.
const maxErrorBody = 512

// HTTPCompleter posts chat-style completion requests to one provider endpoint.
type HTTPCompleter struct {
	Provider  string
	Endpoint  string
	APIKey    string
	ReplyPath string
	Client    *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Complete sends the prompt and extracts the reply with ReplyPath.
func (c *HTTPCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    p.Model,
		Messages: []chatMessage{{Role: "user", Content: instruction(p.CheckType) + p.Content}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: c.Provider, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: c.Provider, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return "", &ProviderError{Provider: c.Provider, StatusCode: resp.StatusCode, Message: string(raw)}
	}

	path := c.ReplyPath
	if path == "" {
		path = DefaultReplyPath
	}
	reply := gjson.GetBytes(raw, path)
	if !reply.Exists() {
		return "", &ProviderError{Provider: c.Provider, StatusCode: resp.StatusCode, Message: "reply missing at " + path}
	}
	return reply.String(), nil
}

func instruction(checkType string) string {
	switch checkType {
	case "grammar":
		return "Check the grammar of the following text and list each problem:\n\n"
	case "spelling":
		return "Check the spelling of the following text and list each misspelled word:\n\n"
	case "":
		return "Check the following text:\n\n"
	default:
		return "Check the following text (" + checkType + "):\n\n"
	}
}
