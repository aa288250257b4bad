package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"chat-gateway-be/pkg/llm"
)

const generateEndpoint = "/api/generate"

type OllamaProvider struct {
	BaseURL      string
	ModelName    string
	Client       *http.Client
	StreamClient *http.Client
	// IdleTimeout bounds the silence between two streamed lines. Zero disables it.
	IdleTimeout time.Duration
}

// Ensure OllamaProvider implements Backend
var _ llm.Backend = &OllamaProvider{}

// NewOllamaProvider builds a local backend. timeout bounds a whole
// synchronous call, the wait for the first byte of a streamed one and every
// gap between streamed lines.
func NewOllamaProvider(baseURL, modelName string, timeout time.Duration) *OllamaProvider {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &OllamaProvider{
		BaseURL:   baseURL,
		ModelName: modelName,
		Client: &http.Client{
			Timeout: timeout,
		},
		StreamClient: &http.Client{
			Transport: transport,
		},
		IdleTimeout: timeout,
	}
}

// --- Request/Response structs (Internal to this package) ---

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

// Sampling values are always sent, zero included. Only stop and seed are
// optional so the server picks its own behaviour when they are absent.
type generateOptions struct {
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	TopK             int      `json:"top_k"`
	NumPredict       int      `json:"num_predict"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	Stop             []string `json:"stop,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// --- Interface Implementation ---

func (o *OllamaProvider) Kind() llm.Kind {
	return llm.KindLocal
}

func (o *OllamaProvider) Model(requested string) string {
	if requested != "" {
		return requested
	}
	return o.ModelName
}

func (o *OllamaProvider) Complete(ctx context.Context, req *llm.Request) llm.Outcome {
	out := llm.Outcome{Kind: llm.KindLocal, Model: o.Model(req.Model)}
	if req.Media != nil {
		out.Err = llm.ErrMediaUnsupported
		return out
	}

	start := time.Now()
	httpReq, err := o.newRequest(ctx, req, false)
	if err != nil {
		out.Err = err
		return out
	}

	resp, err := o.Client.Do(httpReq)
	if err != nil {
		out.Err = fmt.Errorf("ollama request failed: %w", err)
		return out
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	out.Latency = time.Since(start)
	if err != nil {
		out.Err = fmt.Errorf("read response: %w", err)
		return out
	}

	if resp.StatusCode != http.StatusOK {
		out.Err = fmt.Errorf("ollama error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
		return out
	}

	var genResp generateResponse
	if err := json.Unmarshal(bodyBytes, &genResp); err != nil {
		out.Err = fmt.Errorf("unmarshal response: %w", err)
		return out
	}
	if genResp.Error != "" {
		out.Err = fmt.Errorf("ollama error: %s", genResp.Error)
		return out
	}

	out.Text = genResp.Response
	return out
}

func (o *OllamaProvider) Stream(ctx context.Context, req *llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if req.Media != nil {
			yield("", llm.ErrMediaUnsupported)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		httpReq, err := o.newRequest(ctx, req, true)
		if err != nil {
			yield("", err)
			return
		}

		resp, err := o.StreamClient.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("ollama request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", fmt.Errorf("ollama error: status %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		idle := newIdleTimer(o.IdleTimeout, cancel)
		defer idle.stop()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				idle.reset()
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				// Partial or keep-alive lines are not fatal
				idle.reset()
				continue
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("ollama error: %s", chunk.Error))
				return
			}
			if chunk.Response != "" {
				// the consumer's own time does not count as backend silence
				idle.stop()
				if !yield(chunk.Response, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
			idle.reset()
		}

		if idle.fired() {
			yield("", fmt.Errorf("ollama stream idle for %s: %w", o.IdleTimeout, context.DeadlineExceeded))
			return
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read stream: %w", err))
			return
		}
		// Body ended without a done line.
		if ctx.Err() != nil {
			yield("", fmt.Errorf("read stream: %w", ctx.Err()))
		}
	}
}

// idleTimer cancels a streamed call when the backend stays silent too long.
type idleTimer struct {
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimer(timeout time.Duration, cancel context.CancelFunc) *idleTimer {
	t := &idleTimer{timeout: timeout}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, func() {
			t.expired.Store(true)
			cancel()
		})
	}
	return t
}

func (t *idleTimer) reset() {
	if t.timer != nil && !t.expired.Load() {
		t.timer.Reset(t.timeout)
	}
}

func (t *idleTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *idleTimer) fired() bool {
	return t.expired.Load()
}

func (o *OllamaProvider) newRequest(ctx context.Context, req *llm.Request, stream bool) (*http.Request, error) {
	payload := generateRequest{
		Model:  o.Model(req.Model),
		Prompt: req.Prompt,
		System: req.SystemPrompt,
		Stream: stream,
		Options: generateOptions{
			Temperature:      req.Params.Temperature,
			TopP:             req.Params.TopP,
			TopK:             req.Params.TopK,
			NumPredict:       req.Params.MaxTokens,
			FrequencyPenalty: req.Params.FrequencyPenalty,
			PresencePenalty:  req.Params.PresencePenalty,
			Seed:             req.Params.Seed,
		},
	}
	if req.Params.Stop != "" {
		payload.Options.Stop = []string{req.Params.Stop}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+generateEndpoint, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}
