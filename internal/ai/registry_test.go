package ai

import (
	"context"
	"strings"
	"testing"
	"time"
)

type stubEditor struct{ model string }

func (s *stubEditor) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	return "http://stub/upload", nil
}

func (s *stubEditor) Edit(ctx context.Context, imageURL, prompt string) (string, error) {
	return "http://stub/" + s.model, nil
}

func TestRegistry_RoutesByNormalizedName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" FAL ", func(ctx context.Context, model string) (Editor, error) {
		return &stubEditor{model: model}, nil
	})

	ed, err := reg.Get(context.Background(), "fal", "  seedream  ")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := ed.(*stubEditor).model; got != "seedream" {
		t.Fatalf("model = %q, want trimmed seedream", got)
	}
}

func TestRegistry_UnknownProviderListsRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fal", func(ctx context.Context, model string) (Editor, error) { return &stubEditor{}, nil })
	reg.Register("alt", func(ctx context.Context, model string) (Editor, error) { return &stubEditor{}, nil })

	_, err := reg.Get(context.Background(), "ollama", "")
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "alt, fal") {
		t.Fatalf("expected registered names in error, got %q", err.Error())
	}
}

func TestNewDefaultRegistry_Fal(t *testing.T) {
	reg := NewDefaultRegistry("key", "fal-ai/custom/edit", "https://queue.example/", "", 2*time.Second)

	ed, err := reg.Get(context.Background(), "fal", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	fal, ok := ed.(*FalClient)
	if !ok {
		t.Fatalf("expected *FalClient, got %T", ed)
	}
	if fal.Model != "fal-ai/custom/edit" || fal.QueueURL != "https://queue.example" || fal.RestURL != defaultFalRestURL {
		t.Fatalf("unexpected client settings: %+v", fal)
	}
	if fal.PollInterval != 2*time.Second {
		t.Fatalf("PollInterval = %s", fal.PollInterval)
	}

	ed, err = reg.Get(context.Background(), "fal", "fal-ai/other")
	if err != nil {
		t.Fatalf("get with model: %v", err)
	}
	if got := ed.(*FalClient).Model; got != "fal-ai/other" {
		t.Fatalf("Model = %q, want explicit model", got)
	}
}
