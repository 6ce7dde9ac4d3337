package tools

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/conversation"
	"github.com/stellarlinkco/cxagent/internal/store"
)

func sampleStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	b, err := brand.WriteSample(brand.NewRegistry(t.TempDir(), zerolog.Nop()))
	require.NoError(t, err)
	_, err = s.SeedBrand(context.Background(), b)
	require.NoError(t, err)
	return s
}

func sampleRouter(t *testing.T) *Router {
	t.Helper()
	s := sampleStore(t)
	reg := NewRegistry(
		NewOrderTool(brand.SampleID, s),
		NewKnowledgeTool(brand.SampleID, s),
		NewShippingTool(1500, true),
		NewProductTool(brand.SampleID, s),
	)
	return NewRouter(reg, RouterOptions{MaxRetries: 1, RetryDelay: time.Millisecond, Timeout: time.Second})
}

// scriptedTool fails with the queued errors, then succeeds.
type scriptedTool struct {
	name   string
	errs   []string
	calls  atomic.Int32
	params Params
}

func (s *scriptedTool) Spec() Spec { return Spec{Name: s.name} }

func (s *scriptedTool) Execute(ctx context.Context, p Params) Result {
	n := int(s.calls.Add(1))
	s.params = p
	if n <= len(s.errs) {
		return Result{Error: s.errs[n-1]}
	}
	return Result{Success: true, Data: "ok"}
}

func orderTopic(id string) conversation.Topic {
	return conversation.Topic{Kind: conversation.TopicOrder, EntityID: id, Confidence: conversation.ConfidenceExplicit}
}

func TestSelect_Cascade(t *testing.T) {
	r := sampleRouter(t)
	none := conversation.Topic{}

	tests := []struct {
		msg  string
		want string
	}{
		{"ship to pincode 400001", ShippingCheck},
		{"Do you deliver to 560001?", ShippingCheck},
		{"is cash on delivery available", ShippingCheck},
		{"where is order 12345", OrderStatus},
		{"Where's my order 12345?", OrderStatus},
		{"track #12348 please", OrderStatus},
		{"order 99999999 status", OrderStatus},
		{"12345", ""},
		{"what sizes does the denim jacket come in", ProductInfo},
		{"what's your return policy?", KnowledgeSearch},
		{"how do i exchange a dress", KnowledgeSearch},
		{"is this real?", KnowledgeSearch},
		{"thanks a lot", ""},
		{"my code is broken", ""},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Select(tt.msg, none, false))
		})
	}
}

func TestSelect_OrderFollowUp(t *testing.T) {
	r := sampleRouter(t)
	topic := orderTopic("12345")

	assert.Equal(t, OrderStatus, r.Select("why is it late?", topic, true))
	assert.Equal(t, KnowledgeSearch, r.Select("why is it late?", topic, false))
	assert.Equal(t, KnowledgeSearch, r.Select("what is the return policy?", topic, true))
	assert.Equal(t, ProductInfo, r.Select("does it come in another size", topic, true))
}

func TestSelect_UnregisteredTool(t *testing.T) {
	r := NewRouter(NewRegistry(NewShippingTool(1500, true)), RouterOptions{})
	assert.Equal(t, "", r.Select("where is order 12345", conversation.Topic{}, false))
	assert.Equal(t, ShippingCheck, r.Select("pincode 110001", conversation.Topic{}, false))
}

func TestExtract(t *testing.T) {
	r := sampleRouter(t)

	assert.Equal(t, Params{OrderID: "12345"}, r.Extract(OrderStatus, "why is it late?", orderTopic("12345")))
	assert.Equal(t, Params{OrderID: "12348"}, r.Extract(OrderStatus, "and order 12348?", orderTopic("12345")))
	assert.Equal(t, Params{}, r.Extract(OrderStatus, "where is it", conversation.Topic{}))
	assert.Equal(t, Params{Pincode: "400001", OrderValue: 1200}, r.Extract(ShippingCheck, "ship to 400001, order of Rs. 1,200", conversation.Topic{}))
	assert.Equal(t, "FH-1002", r.Extract(ProductInfo, "is FH-1002 in stock", conversation.Topic{}).ProductID)
	assert.Equal(t, Params{Query: "return policy?", TopK: 3}, r.Extract(KnowledgeSearch, "return policy?", conversation.Topic{}))
}

func TestExtractOrderID_SkipsPincodes(t *testing.T) {
	assert.Equal(t, "", ExtractOrderID("pincode 400001"))
	assert.Equal(t, "1234", ExtractOrderID("order #1234"))
	assert.Equal(t, "99999999", ExtractOrderID("order 99999999"))
}

func TestExecute_Order(t *testing.T) {
	r := sampleRouter(t)
	ctx := context.Background()

	res, failure := r.Execute(ctx, OrderStatus, Params{OrderID: "12345"})
	require.Nil(t, failure)
	assert.True(t, res.Success)
	o, isOrder := res.Data.(*store.Order)
	require.True(t, isOrder)
	assert.Equal(t, "shipped", o.Status)

	res, failure = r.Execute(ctx, OrderStatus, Params{OrderID: "99999999"})
	require.NotNil(t, failure)
	assert.False(t, res.Success)
	assert.Equal(t, FailureNotFound, failure.Kind)
	assert.Equal(t, 1, failure.Attempts)
	assert.Contains(t, failure.Fallback(), "verify the order number")
}

func TestExecute_Knowledge(t *testing.T) {
	r := sampleRouter(t)
	ctx := context.Background()

	res, failure := r.Execute(ctx, KnowledgeSearch, Params{Query: "What's your return policy?"})
	require.Nil(t, failure)
	data := res.Data.(KnowledgeData)
	assert.Equal(t, "returns", data.Top().ID)
	assert.Equal(t, ConfidenceHigh, data.Confidence)

	_, failure = r.Execute(ctx, KnowledgeSearch, Params{Query: "xylophone lessons"})
	require.NotNil(t, failure)
	assert.Equal(t, FailureNotFound, failure.Kind)

	_, failure = r.Execute(ctx, KnowledgeSearch, Params{Query: "hi"})
	require.NotNil(t, failure)
	assert.True(t, failure.Invalid)
}

func TestExecute_Shipping(t *testing.T) {
	r := sampleRouter(t)
	ctx := context.Background()

	res, failure := r.Execute(ctx, ShippingCheck, Params{Pincode: "400001", OrderValue: 999})
	require.Nil(t, failure)
	data := res.Data.(ShippingData)
	assert.True(t, data.Serviceable)
	assert.Equal(t, "Mumbai", data.City)
	assert.Equal(t, float64(100), data.ShippingCost)
	assert.False(t, data.FreeShipping)

	res, _ = r.Execute(ctx, ShippingCheck, Params{Pincode: "400099", OrderValue: 2000})
	data = res.Data.(ShippingData)
	assert.True(t, data.Serviceable)
	assert.Equal(t, "4-6", data.DeliveryDays)
	assert.Zero(t, data.ShippingCost)
	assert.True(t, data.FreeShipping)

	res, _ = r.Execute(ctx, ShippingCheck, Params{Pincode: "799001"})
	data = res.Data.(ShippingData)
	assert.False(t, data.Serviceable)
	assert.Contains(t, data.Note, "799001")

	res, failure = r.Execute(ctx, ShippingCheck, Params{})
	require.Nil(t, failure, "a question without a pincode is answered from policy")
	data = res.Data.(ShippingData)
	assert.True(t, data.PolicyOnly)
	assert.True(t, data.CODAvailable)
	assert.Equal(t, float64(1500), data.FreeShippingThreshold)
	assert.Contains(t, data.Note, "pincode")

	_, failure = r.Execute(ctx, ShippingCheck, Params{Pincode: "12ab56"})
	require.NotNil(t, failure)
	assert.True(t, failure.Invalid)
	assert.Contains(t, failure.Fallback(), "6-digit pincode")
}

func TestExecute_Product(t *testing.T) {
	r := sampleRouter(t)
	ctx := context.Background()

	res, failure := r.Execute(ctx, ProductInfo, Params{ProductID: "FH-1001"})
	require.Nil(t, failure)
	assert.Equal(t, "id", res.Data.(ProductData).MatchedBy)

	res, failure = r.Execute(ctx, ProductInfo, Params{ProductName: "what sizes does the denim jacket come in"})
	require.Nil(t, failure)
	data := res.Data.(ProductData)
	assert.Equal(t, "FH-1001", data.Product.ProductID)
	assert.Equal(t, "name", data.MatchedBy)

	res, failure = r.Execute(ctx, ProductInfo, Params{ProductID: "FH-9999", ProductName: "white sneakers price"})
	require.Nil(t, failure)
	assert.Equal(t, "FH-1002", res.Data.(ProductData).Product.ProductID)

	_, failure = r.Execute(ctx, ProductInfo, Params{ProductName: "purple umbrella"})
	require.NotNil(t, failure)
	assert.Equal(t, FailureNotFound, failure.Kind)
	assert.Contains(t, failure.Fallback(), "product name")
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	tool := &scriptedTool{name: OrderStatus, errs: []string{"connection refused"}}
	r := NewRouter(NewRegistry(tool), RouterOptions{MaxRetries: 1, RetryDelay: time.Millisecond})

	res, failure := r.Execute(context.Background(), OrderStatus, Params{OrderID: "1"})
	require.Nil(t, failure)
	assert.True(t, res.Success)
	assert.Equal(t, OrderStatus, res.Tool)
	assert.EqualValues(t, 2, tool.calls.Load())
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	tool := &scriptedTool{name: OrderStatus, errs: []string{"request timed out", "request timed out", "request timed out"}}
	r := NewRouter(NewRegistry(tool), RouterOptions{MaxRetries: 1, RetryDelay: time.Millisecond})

	_, failure := r.Execute(context.Background(), OrderStatus, Params{OrderID: "1"})
	require.NotNil(t, failure)
	assert.Equal(t, FailureTimeout, failure.Kind)
	assert.Equal(t, 2, failure.Attempts)
	assert.Equal(t, fallbackTrouble, failure.Fallback())
}

func TestExecute_DoesNotRetryPermanentFailures(t *testing.T) {
	tool := &scriptedTool{name: KnowledgeSearch, errs: []string{"401 unauthorized"}}
	r := NewRouter(NewRegistry(tool), RouterOptions{MaxRetries: 3, RetryDelay: time.Millisecond})

	_, failure := r.Execute(context.Background(), KnowledgeSearch, Params{Query: "returns"})
	require.NotNil(t, failure)
	assert.Equal(t, FailureAuth, failure.Kind)
	assert.EqualValues(t, 1, tool.calls.Load())
	assert.Equal(t, fallbackKnowledge, failure.Fallback())
}

type slowTool struct{}

func (slowTool) Spec() Spec { return Spec{Name: ShippingCheck} }

func (slowTool) Execute(ctx context.Context, p Params) Result {
	<-ctx.Done()
	return fail(ShippingCheck, ctx.Err())
}

func TestExecute_TimeoutFailsIntoFallback(t *testing.T) {
	r := NewRouter(NewRegistry(slowTool{}), RouterOptions{MaxRetries: 0, Timeout: 10 * time.Millisecond})
	_, failure := r.Execute(context.Background(), ShippingCheck, Params{Pincode: "400001"})
	require.NotNil(t, failure)
	assert.Equal(t, FailureTimeout, failure.Kind)
}

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRouter(NewRegistry(), RouterOptions{})
	res, failure := r.Execute(context.Background(), "nope", Params{})
	require.NotNil(t, failure)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrUnknownTool.Error())
	assert.Equal(t, fallbackGeneric, failure.Fallback())
}

func TestClassifyFailure(t *testing.T) {
	tests := map[string]FailureKind{
		"context deadline exceeded":        FailureTimeout,
		"dial tcp: connection refused":     FailureConnection,
		"unexpected EOF":                   FailureConnection,
		"order 1: not found":               FailureNotFound,
		"No relevant information found":    FailureNotFound,
		"403 Forbidden":                    FailureAuth,
		"429 Too Many Requests":            FailureRateLimit,
		"503 Service Unavailable":          FailureServerError,
		"something odd":                    FailureUnknown,
		"invalid params: pincode required": FailureUnknown,
	}
	for text, want := range tests {
		assert.Equal(t, want, ClassifyFailure(text), text)
	}
	assert.True(t, FailureRateLimit.Retryable())
	assert.False(t, FailureNotFound.Retryable())
	assert.False(t, FailureAuth.Retryable())
}

func TestFailureFallbacks(t *testing.T) {
	assert.Equal(t, fallbackOrder, (&Failure{Tool: OrderStatus, Kind: FailureServerError}).Fallback())
	assert.Equal(t, fallbackOrderFound, (&Failure{Tool: OrderStatus, Kind: FailureNotFound}).Fallback())
	assert.Equal(t, fallbackOrderID, (&Failure{Tool: OrderStatus, Kind: FailureUnknown, Invalid: true}).Fallback())
	assert.Equal(t, fallbackPincode, (&Failure{Tool: ShippingCheck, Kind: FailureUnknown, Invalid: true}).Fallback())
	assert.Equal(t, fallbackTrouble, (&Failure{Tool: ProductInfo, Kind: FailureConnection}).Fallback())
	assert.Equal(t, fallbackGeneric, (&Failure{Tool: ShippingCheck, Kind: FailureUnknown}).Fallback())
	assert.Empty(t, (*Failure)(nil).Fallback())
	assert.True(t, errors.As(error(&Failure{Tool: OrderStatus}), new(*Failure)))
}

func TestRegistry_Specs(t *testing.T) {
	reg := NewRegistry(NewShippingTool(1500, true), NewOrderTool("b", nil))
	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, ShippingCheck, specs[0].Name)
	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownTool)
}
