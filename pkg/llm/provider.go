package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"
)

// Kind tags a generation backend. Only Local and Cloud exist.
type Kind string

const (
	KindLocal Kind = "local"
	KindCloud Kind = "cloud"
)

// ParseKind maps a client supplied tag onto a Kind. Anything that is not
// "local" is treated as cloud, matching how clients select the hosted model.
func ParseKind(s string) Kind {
	if s == string(KindLocal) {
		return KindLocal
	}
	return KindCloud
}

var (
	ErrMediaUnsupported = errors.New("backend does not accept file input")
	ErrNotConfigured    = errors.New("backend not configured")
)

// Params holds inference parameters shared by every backend.
// Stop and Seed are optional and are left out of backend payloads when unset.
type Params struct {
	Temperature      float64
	TopP             float64
	TopK             int
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             string
	Seed             *int
}

func DefaultParams() Params {
	return Params{
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
		MaxTokens:   2048,
	}
}

// ParamRangeError names an integer parameter that does not fit the 32-bit
// fields backends use.
type ParamRangeError struct {
	Field string
}

func (e *ParamRangeError) Error() string {
	return fmt.Sprintf("%s out of range", e.Field)
}

func (p Params) Validate() error {
	ints := []struct {
		field string
		value int
	}{
		{"top_k", p.TopK},
		{"max_tokens", p.MaxTokens},
	}
	if p.Seed != nil {
		ints = append(ints, struct {
			field string
			value int
		}{"seed", *p.Seed})
	}

	for _, i := range ints {
		if int64(i.value) < math.MinInt32 || int64(i.value) > math.MaxInt32 {
			return &ParamRangeError{Field: i.field}
		}
	}
	return nil
}

// Media is a binary part (image, video, audio) sent next to the prompt.
type Media struct {
	MimeType string
	Data     []byte
}

// Request is one generation call.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Params       Params
	Media        *Media
}

// Outcome is the result of a synchronous call. Err is set instead of
// returning a second value so fallback policy can reason over it directly.
type Outcome struct {
	Text    string
	Err     error
	Latency time.Duration
	Model   string
	Kind    Kind
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Backend is the capability shared by the local and cloud generators.
type Backend interface {
	Kind() Kind

	// Model resolves the model name actually used for a requested name.
	Model(requested string) string

	// Complete runs the request to completion.
	Complete(ctx context.Context, req *Request) Outcome

	// Stream yields text fragments as they are produced. A non-nil error
	// element ends the sequence. Stopping iteration cancels the call.
	Stream(ctx context.Context, req *Request) iter.Seq2[string, error]
}
