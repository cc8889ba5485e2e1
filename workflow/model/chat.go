// Package model provides the chat-model contract used by the LLM-backed
// extraction and drafting capabilities, plus provider adapters.
package model

import (
	"context"
	"errors"
)

// ChatModel is a provider-neutral chat completion client.
//
// Implementations convert Messages to the provider's wire format, respect
// context cancellation, and return the assistant's text.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser, RoleAssistant.
	Role string

	Content string
}

// Standard roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is a completion result.
type ChatOut struct {
	// Text is the concatenated assistant text.
	Text string

	// TokensUsed is input plus output tokens when the provider reports them.
	TokensUsed int
}

// ErrMissingAPIKey is returned by adapters constructed without credentials.
var ErrMissingAPIKey = errors.New("model: API key is required")

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("model: empty response")

// SplitSystem separates system messages, joined by blank lines, from the
// rest of the conversation. Providers with a dedicated system parameter use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	var rest []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
