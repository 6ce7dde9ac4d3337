package tools

import (
	"fmt"
	"strings"
)

type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureConnection  FailureKind = "connection"
	FailureNotFound    FailureKind = "not_found"
	FailureAuth        FailureKind = "auth"
	FailureRateLimit   FailureKind = "rate_limit"
	FailureServerError FailureKind = "server_error"
	FailureUnknown     FailureKind = "unknown"
)

// Retryable reports whether another attempt could succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureConnection, FailureRateLimit, FailureServerError:
		return true
	}
	return false
}

var failureMarkers = []struct {
	kind    FailureKind
	markers []string
}{
	{FailureTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{FailureConnection, []string{"connection", "network", "unreachable", "refused", "reset by peer", "eof"}},
	{FailureNotFound, []string{"not found", "no such", "404", "no relevant"}},
	{FailureAuth, []string{"unauthorized", "forbidden", "401", "403", "auth", "api key", "permission"}},
	{FailureRateLimit, []string{"rate limit", "too many requests", "429", "throttl"}},
	{FailureServerError, []string{"500", "502", "503", "504", "internal server", "server error", "unavailable", "bad gateway"}},
}

// ClassifyFailure buckets free-form failure text. The first matching kind wins.
func ClassifyFailure(text string) FailureKind {
	lower := strings.ToLower(text)
	for _, fm := range failureMarkers {
		for _, m := range fm.markers {
			if strings.Contains(lower, m) {
				return fm.kind
			}
		}
	}
	return FailureUnknown
}

// Failure describes a tool call that did not succeed after all attempts.
type Failure struct {
	Tool     string      `json:"tool"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Attempts int         `json:"attempts"`
	Invalid  bool        `json:"invalid_params,omitempty"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %s", f.Tool, f.Attempts, f.Kind, f.Message)
}

const (
	fallbackTrouble    = "I'm having trouble accessing that information right now. Let me try again, or I can connect you with our support team."
	fallbackOrderFound = "I couldn't find that order number. Could you verify the order number or provide the email address used for the order?"
	fallbackOrderID    = "Could you share your order number? I'll look it up right away."
	fallbackOrder      = "I'm unable to retrieve your order details at the moment. Please provide your email address, and I'll look it up another way, or I can connect you with our support team."
	fallbackKnowledge  = "I want to give you accurate information. Let me connect you with our support team who can help you with this."
	fallbackNoPolicy   = "I couldn't find a policy that answers that. Could you rephrase your question, or would you like me to connect you with our support team?"
	fallbackPincode    = "Could you share a valid 6-digit pincode? I'll check delivery options for it right away."
	fallbackProduct    = "I couldn't find that product. Could you share the exact product name or product ID?"
	fallbackGeneric    = "I'm experiencing a technical issue. Let me connect you with our support team who can assist you better."
)

// Fallback is the customer-facing sentence used in place of the tool's data.
func (f *Failure) Fallback() string {
	if f == nil {
		return ""
	}
	if f.Kind == FailureTimeout || f.Kind == FailureConnection {
		return fallbackTrouble
	}
	switch f.Tool {
	case OrderStatus:
		if f.Invalid {
			return fallbackOrderID
		}
		if f.Kind == FailureNotFound {
			return fallbackOrderFound
		}
		return fallbackOrder
	case KnowledgeSearch:
		if f.Kind == FailureNotFound || f.Invalid {
			return fallbackNoPolicy
		}
		return fallbackKnowledge
	case ShippingCheck:
		if f.Invalid {
			return fallbackPincode
		}
	case ProductInfo:
		if f.Kind == FailureNotFound || f.Invalid {
			return fallbackProduct
		}
	}
	return fallbackGeneric
}
