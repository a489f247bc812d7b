package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewOpenAIProvider_RequiresAPIKey(t *testing.T) {
	p, err := NewOpenAIProvider("", "", "text-embedding-3-small", 1536)
	if err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
	if p != nil {
		t.Errorf("expected nil provider on error, got %v", p)
	}
}

func TestNewOpenAIProvider_DefaultsDimensions(t *testing.T) {
	p, err := NewOpenAIProvider("", "sk-test", "text-embedding-3-small", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Dimensions(); got != 1536 {
		t.Errorf("expected default 1536, got %d", got)
	}
}

func TestOpenAIProvider_Embed_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := openAIResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{0.1, 0.2, 0.3}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(server.URL, "sk-test", "text-embedding-3-small", 3)
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	vec, err := p.Embed(context.Background(), "abstract idea")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec.Slice()) != 3 {
		t.Errorf("expected 3-dim vector, got %d", len(vec.Slice()))
	}
}

func TestOpenAIProvider_EmbedBatch_EmptyInput(t *testing.T) {
	p, err := NewOpenAIProvider("", "sk-test", "text-embedding-3-small", 1536)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil, got %v", vecs)
	}
}

func TestOpenAIProvider_EmbedBatch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Error: &struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			}{Message: "invalid api key", Type: "invalid_request_error"},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(server.URL, "sk-bad", "text-embedding-3-small", 1536)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = p.Embed(context.Background(), "test")
	if err == nil {
		t.Error("expected error from unauthorized response, got nil")
	}
}

func TestOpenAIProvider_EmbedBatch_MismatchedCountIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(openAIResponse{})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(server.URL, "sk-test", "text-embedding-3-small", 1536)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = p.EmbedBatch(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Error("expected error for mismatched embedding count, got nil")
	}
}

func TestNoopProvider_Embed(t *testing.T) {
	p := NewNoopProvider(1536)
	_, err := p.Embed(context.Background(), "some text")
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

func TestNoopProvider_Dimensions(t *testing.T) {
	p := NewNoopProvider(768)
	if got := p.Dimensions(); got != 768 {
		t.Errorf("expected 768, got %d", got)
	}
}
