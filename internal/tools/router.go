package tools

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/conversation"
)

var (
	pincodePattern   = regexp.MustCompile(`\b\d{6}\b`)
	orderIDPattern   = regexp.MustCompile(`(?:^|[^\d])#?(\d{4,5}|\d{7,})(?:[^\d]|$)`)
	productIDPattern = regexp.MustCompile(`\b[A-Za-z]{2,}-\d{3,}\b`)
	amountPattern    = regexp.MustCompile(`(?i)(?:₹|\brs\.?|\binr)\s*([\d,]+(?:\.\d+)?)`)
)

// Trigger tables, consulted in cascade order by Select.
var (
	shippingKeywords = []string{"pincode", "pin code", "cash on delivery", "cod", "deliver to", "ship to", "shipping to", "delivery to", "serviceable"}
	orderKeywords    = []string{"order", "track", "tracking", "where is", "where's", "when will", "eta", "status", "shipped", "delivery", "courier", "arrive"}
	productKeywords  = []string{"product", "size", "sizes", "color", "colour", "in stock", "available in", "material", "price", "fabric", "fit"}
	policyKeywords   = []string{"policy", "return", "refund", "exchange", "shipping", "cancel", "warranty", "how to", "how do i", "can i", "what if", "do you"}
)

type RouterOptions struct {
	// MaxRetries is the number of extra attempts for retryable failures.
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	Logger     zerolog.Logger
}

type Router struct {
	registry   *Registry
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	logger     zerolog.Logger
}

func NewRouter(registry *Registry, opts RouterOptions) *Router {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 250 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Router{
		registry:   registry,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
	}
}

func (r *Router) Registry() *Registry { return r.registry }

// Select picks at most one tool for the message. continued reports whether
// the message was judged to continue the active topic.
func (r *Router) Select(message string, topic conversation.Topic, continued bool) string {
	lower := strings.ToLower(message)
	name := selectTool(lower, topic, continued)
	if name != "" && !r.registry.Has(name) {
		return ""
	}
	return name
}

func selectTool(lower string, topic conversation.Topic, continued bool) string {
	if pincodePattern.MatchString(lower) || containsKeyword(lower, shippingKeywords) {
		return ShippingCheck
	}
	if orderIDPattern.MatchString(lower) && containsKeyword(lower, orderKeywords) {
		return OrderStatus
	}
	isProduct := containsKeyword(lower, productKeywords)
	isPolicy := containsKeyword(lower, policyKeywords)
	if continued && topic.IsOrderTopic() && !isProduct && !isPolicy {
		return OrderStatus
	}
	if isProduct {
		return ProductInfo
	}
	if isPolicy || strings.HasSuffix(strings.TrimSpace(lower), "?") {
		return KnowledgeSearch
	}
	return ""
}

// Extract builds the parameters for the named tool. An order id stated in
// the message wins over the one carried by the active topic.
func (r *Router) Extract(name, message string, topic conversation.Topic) Params {
	switch name {
	case OrderStatus:
		if id := ExtractOrderID(message); id != "" {
			return Params{OrderID: id}
		}
		if topic.IsOrderTopic() {
			return Params{OrderID: topic.EntityID}
		}
		return Params{}
	case ShippingCheck:
		return Params{
			Pincode:    pincodePattern.FindString(message),
			OrderValue: extractAmount(message),
		}
	case ProductInfo:
		return Params{
			ProductID:   productIDPattern.FindString(message),
			ProductName: message,
		}
	case KnowledgeSearch:
		return Params{Query: message, TopK: defaultTopK}
	}
	return Params{}
}

// ExtractOrderID returns the first 4-5 digit token, or a run of seven or more
// digits. Six-digit tokens are pincodes.
func ExtractOrderID(message string) string {
	m := orderIDPattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return m[1]
}

func extractAmount(message string) float64 {
	m := amountPattern.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

// Execute runs the tool, retrying retryable failures with a fixed delay. A
// nil Failure means the result succeeded.
func (r *Router) Execute(ctx context.Context, name string, p Params) (Result, *Failure) {
	tool, err := r.registry.Get(name)
	if err != nil {
		return fail(name, err), &Failure{Tool: name, Kind: FailureUnknown, Message: err.Error()}
	}

	var (
		last     Result
		attempts int
	)
	op := func() (Result, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		res := tool.Execute(callCtx, p)
		res.Tool = name
		last = res
		if res.Success {
			return res, nil
		}
		callErr := errors.New(res.Error)
		if strings.HasPrefix(res.Error, ErrInvalidParams.Error()) || !ClassifyFailure(res.Error).Retryable() {
			return res, backoff.Permanent(callErr)
		}
		r.logger.Debug().Str("tool", name).Int("attempt", attempts).Str("error", res.Error).Msg("tool attempt failed")
		return res, callErr
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.retryDelay)),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
	)
	if err == nil {
		return res, nil
	}

	msg := last.Error
	if msg == "" {
		msg = err.Error()
		last = fail(name, err)
	}
	f := &Failure{
		Tool:     name,
		Kind:     ClassifyFailure(msg),
		Message:  msg,
		Attempts: attempts,
		Invalid:  strings.HasPrefix(msg, ErrInvalidParams.Error()),
	}
	r.logger.Warn().Str("tool", name).Str("kind", string(f.Kind)).Int("attempts", attempts).Msg("tool failed")
	return last, f
}

func containsKeyword(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if matchesWord(lower, kw) {
			return true
		}
	}
	return false
}

// matchesWord finds kw in text on word boundaries, allowing a plural "s",
// so "cod" does not match "code" but "return" matches "returns".
func matchesWord(text, kw string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if end < len(text) && text[end] == 's' {
			end++
		}
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
