package openaicompat

import (
	"github.com/behole/institutionalized/llm"
)

// Message is one Chat Completions message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the Chat Completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

// Usage is the token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the Chat Completions response body.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// BuildMessages renders the system prompt (if any) and the user prompt.
func BuildMessages(spec llm.AgentSpec) []Message {
	msgs := make([]Message, 0, 2)
	if spec.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: spec.SystemPrompt})
	}
	return append(msgs, Message{Role: "user", Content: spec.Prompt})
}

// ToRawReply converts a response with at least one choice.
func ToRawReply(resp ChatResponse) *llm.RawReply {
	choice := resp.Choices[0]
	reply := &llm.RawReply{
		Text:      choice.Message.Content,
		ModelEcho: resp.Model,
		ProviderMetadata: map[string]string{
			llm.MetaResponseID:   resp.ID,
			llm.MetaFinishReason: choice.FinishReason,
		},
	}
	if resp.Usage != nil {
		reply.InputTokens = resp.Usage.PromptTokens
		reply.OutputTokens = resp.Usage.CompletionTokens
	}
	return reply
}
