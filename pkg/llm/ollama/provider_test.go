package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chat-gateway-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
	Raw     map[string]interface{} `json:"-"`
}

// newCapturingServer replies with body and hands every decoded request to got.
func newCapturingServer(t *testing.T, status int, body string, got chan<- capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, generateEndpoint, r.URL.Path)

		var raw map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		encoded, _ := json.Marshal(raw)
		var req capturedRequest
		assert.NoError(t, json.Unmarshal(encoded, &req))
		req.Raw = raw
		if got != nil {
			got <- req
		}

		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(seq func(func(string, error) bool)) ([]string, error) {
	var texts []string
	var last error
	for text, err := range seq {
		if err != nil {
			last = err
			break
		}
		texts = append(texts, text)
	}
	return texts, last
}

func TestRequestPayload(t *testing.T) {
	seed := 42
	tests := []struct {
		name       string
		req        *llm.Request
		wantStop   bool
		wantSeed   bool
		wantSystem bool
	}{
		{
			name: "optional fields omitted",
			req:  &llm.Request{Prompt: "hi", Params: llm.Params{MaxTokens: 77}},
		},
		{
			name:       "everything supplied",
			req:        &llm.Request{Prompt: "hi", SystemPrompt: "be brief", Params: llm.Params{MaxTokens: 77, Stop: "END", Seed: &seed}},
			wantStop:   true,
			wantSeed:   true,
			wantSystem: true,
		},
		{
			name: "zero sampling values are still sent",
			req:  &llm.Request{Prompt: "hi", Params: llm.Params{Temperature: 0, TopK: 0, MaxTokens: 77}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan capturedRequest, 1)
			srv := newCapturingServer(t, http.StatusOK, `{"response":"ok","done":true}`, got)

			out := NewOllamaProvider(srv.URL, "llama3", time.Second).Complete(context.Background(), tt.req)
			require.NoError(t, out.Err)
			assert.Equal(t, "ok", out.Text)

			req := <-got
			assert.Equal(t, "llama3", req.Model)
			assert.False(t, req.Stream)
			assert.EqualValues(t, 77, req.Options["num_predict"])
			assert.Contains(t, req.Options, "temperature")
			assert.Contains(t, req.Options, "top_k")

			_, hasStop := req.Options["stop"]
			_, hasSeed := req.Options["seed"]
			_, hasSystem := req.Raw["system"]
			assert.Equal(t, tt.wantStop, hasStop)
			assert.Equal(t, tt.wantSeed, hasSeed)
			assert.Equal(t, tt.wantSystem, hasSystem)
			if tt.wantSeed {
				assert.EqualValues(t, 42, req.Options["seed"])
				assert.Equal(t, []interface{}{"END"}, req.Options["stop"])
			}
		})
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr string
	}{
		{name: "success", status: http.StatusOK, body: `{"response":"hello","done":true}`, want: "hello"},
		{name: "bad status", status: http.StatusInternalServerError, body: `boom`, wantErr: "status 500"},
		{name: "error field", status: http.StatusOK, body: `{"error":"model not found"}`, wantErr: "model not found"},
		{name: "garbage body", status: http.StatusOK, body: `not json`, wantErr: "unmarshal response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCapturingServer(t, tt.status, tt.body, nil)
			out := NewOllamaProvider(srv.URL, "llama3", time.Second).Complete(context.Background(), &llm.Request{Prompt: "hi"})

			assert.Equal(t, llm.KindLocal, out.Kind)
			assert.Equal(t, "llama3", out.Model)
			if tt.wantErr != "" {
				require.Error(t, out.Err)
				assert.Contains(t, out.Err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, out.Err)
			assert.Equal(t, tt.want, out.Text)
		})
	}
}

func TestMediaRejected(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:0", "llama3", time.Second)
	req := &llm.Request{Prompt: "hi", Media: &llm.Media{MimeType: "image/png", Data: []byte{1}}}

	assert.ErrorIs(t, p.Complete(context.Background(), req).Err, llm.ErrMediaUnsupported)

	_, err := collect(p.Stream(context.Background(), req))
	assert.ErrorIs(t, err, llm.ErrMediaUnsupported)
}

func TestStream(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    []string
		wantErr string
	}{
		{
			name:   "fragments until done",
			status: http.StatusOK,
			body:   "{\"response\":\"hel\"}\n{\"response\":\"lo\"}\n{\"response\":\"\",\"done\":true}\n{\"response\":\"ignored\"}\n",
			want:   []string{"hel", "lo"},
		},
		{
			name:   "malformed and blank lines skipped",
			status: http.StatusOK,
			body:   "{\"response\":\"a\"}\n{broken\n\n{\"response\":\"b\",\"done\":true}\n",
			want:   []string{"a", "b"},
		},
		{
			name:    "error line ends the stream",
			status:  http.StatusOK,
			body:    "{\"response\":\"a\"}\n{\"error\":\"out of memory\"}\n",
			want:    []string{"a"},
			wantErr: "out of memory",
		},
		{
			name:    "bad status",
			status:  http.StatusNotFound,
			body:    "no such model",
			wantErr: "status 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan capturedRequest, 1)
			srv := newCapturingServer(t, tt.status, tt.body, got)

			texts, err := collect(NewOllamaProvider(srv.URL, "llama3", time.Second).Stream(context.Background(), &llm.Request{Prompt: "hi"}))
			assert.True(t, (<-got).Stream)
			assert.Equal(t, tt.want, texts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"response":"hel"}`)
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	p := NewOllamaProvider(srv.URL, "llama3", 100*time.Millisecond)

	type result struct {
		texts []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		texts, err := collect(p.Stream(context.Background(), &llm.Request{Prompt: "hi"}))
		done <- result{texts, err}
	}()

	select {
	case res := <-done:
		assert.Equal(t, []string{"hel"}, res.texts)
		require.Error(t, res.err)
		assert.ErrorIs(t, res.err, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		t.Fatal("stalled stream was not abandoned")
	}
}

func TestStreamSlowConsumerIsNotIdle(t *testing.T) {
	srv := newCapturingServer(t, http.StatusOK, "{\"response\":\"a\"}\n{\"response\":\"b\",\"done\":true}\n", nil)
	p := NewOllamaProvider(srv.URL, "llama3", 50*time.Millisecond)

	var texts []string
	for text, err := range p.Stream(context.Background(), &llm.Request{Prompt: "hi"}) {
		require.NoError(t, err)
		texts = append(texts, text)
		time.Sleep(150 * time.Millisecond)
	}
	assert.Equal(t, []string{"a", "b"}, texts)
}
