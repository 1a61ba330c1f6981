package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		data := []map[string]interface{}{}
		for i := range req.Input {
			vec := []float32{0, 0, 0}
			vec[i%3] = 2
			data = append(data, map[string]interface{}{"index": i, "embedding": vec})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "secret")
	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    srv.URL + "/v1/",
		APIKeyEnv:  "TEST_EMBED_KEY",
		Dimensions: 3,
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("unexpected vectors %v", vecs)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected one retry, got %d calls", calls)
	}
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad/embeddings":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2]}]}`))
		}
	}))
	defer srv.Close()

	bad, _ := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/bad", Dimensions: 2})
	if _, err := bad.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error on 401")
	}

	wrongDim, _ := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Dimensions: 4})
	if _, err := wrongDim.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}
