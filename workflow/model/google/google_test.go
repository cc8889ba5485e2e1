package google

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/negotiatorai/negotiator/workflow/model"
)

type fakeGenerator struct {
	system string
	parts  []genai.Part
	resp   *genai.GenerateContentResponse
	err    error
}

func (f *fakeGenerator) generate(_ context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	f.system = system
	f.parts = parts
	return f.resp, f.err
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("```json\n"), genai.Text(`{"price": 80}`), genai.Text("\n```")}},
		}},
		UsageMetadata: &genai.UsageMetadata{TotalTokenCount: 17},
	}}
	m := NewChatModel("test-key", "")
	m.client = fake

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "Extract facts."},
		{Role: model.RoleUser, Content: "Offer text"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "```json\n{\"price\": 80}\n```" {
		t.Errorf("unexpected text %q", out.Text)
	}
	if out.TokensUsed != 17 {
		t.Errorf("expected 17 tokens, got %d", out.TokensUsed)
	}
	if fake.system != "Extract facts." || len(fake.parts) != 1 {
		t.Errorf("unexpected request: system=%q parts=%d", fake.system, len(fake.parts))
	}
	if m.modelName != DefaultModel {
		t.Errorf("expected default model, got %q", m.modelName)
	}
}

func TestChatModel_Errors(t *testing.T) {
	msgs := []model.Message{{Role: model.RoleUser, Content: "hi"}}

	if _, err := NewChatModel("", "").Chat(context.Background(), msgs); !errors.Is(err, model.ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}

	m := NewChatModel("k", "")
	m.client = &fakeGenerator{resp: &genai.GenerateContentResponse{}}
	if _, err := m.Chat(context.Background(), msgs); !errors.Is(err, model.ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}

	boom := errors.New("quota exceeded")
	m.client = &fakeGenerator{err: boom}
	if _, err := m.Chat(context.Background(), msgs); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
