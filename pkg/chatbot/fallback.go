package chatbot

import (
	"fmt"

	"chat-gateway-be/pkg/llm"
)

// Decision is what the orchestrator does with a backend outcome.
type Decision int

const (
	// Accept keeps the outcome as the reply.
	Accept Decision = iota
	// RetryOnCloud reruns the whole request against the cloud backend.
	RetryOnCloud
	// GiveUp turns the error into the reply text.
	GiveUp
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case RetryOnCloud:
		return "retry_on_cloud"
	default:
		return "give_up"
	}
}

// DecideFallback is the single-hop policy: only a failed local call with a
// cloud backend available is retried. Cloud never falls back to local.
func DecideFallback(selected llm.Kind, err error, cloudAvailable bool) Decision {
	if err == nil {
		return Accept
	}
	if selected == llm.KindLocal && cloudAvailable {
		return RetryOnCloud
	}
	return GiveUp
}

const noReply = "No reply."

func failureText(selected llm.Kind, err error) string {
	if selected == llm.KindLocal {
		return fmt.Sprintf("Local model error (no fallback): %v", err)
	}
	return fmt.Sprintf("Cloud model error: %v", err)
}

// streamFailureText is the bracketed error fragment a failed stream ends with.
func streamFailureText(selected llm.Kind, err error) string {
	if selected == llm.KindLocal {
		return fmt.Sprintf("[Local model error and no fallback: %v]", err)
	}
	return fmt.Sprintf("[Cloud model error: %v]", err)
}

func fallbackText(localErr error, fb llm.Outcome) string {
	if fb.Failed() {
		return fmt.Sprintf("Local & fallback error: %v | Fallback: %v", localErr, fb.Err)
	}
	if fb.Text == "" {
		return fmt.Sprintf("Local model failed, fallback used: %v", localErr)
	}
	return fb.Text
}
