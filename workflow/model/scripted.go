package model

import (
	"context"
	"sync"
)

// Reply is one scripted answer: Text, or Err when set.
type Reply struct {
	Text string
	Err  error
}

// ScriptedModel answers each Chat call with the next Reply and records the
// conversation it was sent. The final reply repeats once the script runs
// out; an empty script answers with empty text.
type ScriptedModel struct {
	Replies []Reply

	mu    sync.Mutex
	calls [][]Message
}

// Replying scripts one successful reply per text.
func Replying(texts ...string) *ScriptedModel {
	m := &ScriptedModel{}
	for _, t := range texts {
		m.Replies = append(m.Replies, Reply{Text: t})
	}
	return m
}

// Failing returns a model whose every call fails with err.
func Failing(err error) *ScriptedModel {
	return &ScriptedModel{Replies: []Reply{{Err: err}}}
}

// Chat implements ChatModel.
func (m *ScriptedModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.mu.Unlock()

	if len(m.Replies) == 0 {
		return ChatOut{}, nil
	}
	r := m.Replies[min(n, len(m.Replies)-1)]
	if r.Err != nil {
		return ChatOut{}, r.Err
	}
	return ChatOut{Text: r.Text}, nil
}

// Calls returns the conversations received so far, oldest first.
func (m *ScriptedModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}
