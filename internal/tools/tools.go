// Package tools holds the brand-scoped data lookups the agent can call and
// the router that picks one per turn.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	OrderStatus     = "get_order_status"
	KnowledgeSearch = "search_knowledge"
	ShippingCheck   = "check_shipping_eligibility"
	ProductInfo     = "get_product_info"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrInvalidParams = errors.New("invalid params")
)

// Params is the union of every tool's inputs. Each tool reads only its own fields.
type Params struct {
	OrderID     string  `json:"order_id,omitempty"`
	Pincode     string  `json:"pincode,omitempty"`
	OrderValue  float64 `json:"order_value,omitempty"`
	Query       string  `json:"query,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	ProductID   string  `json:"product_id,omitempty"`
	ProductName string  `json:"product_name,omitempty"`
}

// Result is the uniform outcome of a tool call. Data is tool specific:
// *store.Order, KnowledgeData, ShippingData or ProductData.
type Result struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(tool string, data any) Result {
	return Result{Tool: tool, Success: true, Data: data}
}

func fail(tool string, err error) Result {
	return Result{Tool: tool, Error: err.Error()}
}

func invalid(tool, reason string) Result {
	return fail(tool, fmt.Errorf("%w: %s", ErrInvalidParams, reason))
}

type Spec struct {
	Name        string
	Description string
	Params      []string
}

type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, p Params) Result
}

// Registry is a per-orchestrator set of tools keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Spec().Name] = t
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, found := r.tools[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
