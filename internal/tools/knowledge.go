package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/stellarlinkco/cxagent/internal/store"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"

	defaultTopK = 3
)

var errNoRelevant = errors.New("no relevant information found")

type PolicySource interface {
	SearchPolicies(ctx context.Context, brandID, query string, limit int) ([]store.PolicyHit, error)
}

type KnowledgeData struct {
	Confidence string            `json:"confidence"`
	TopScore   float64           `json:"top_score"`
	Results    []store.PolicyHit `json:"results"`
}

// Top returns the best passage.
func (d KnowledgeData) Top() store.PolicyHit {
	if len(d.Results) == 0 {
		return store.PolicyHit{}
	}
	return d.Results[0]
}

type KnowledgeTool struct {
	brandID  string
	policies PolicySource
}

func NewKnowledgeTool(brandID string, policies PolicySource) *KnowledgeTool {
	return &KnowledgeTool{brandID: brandID, policies: policies}
}

func (t *KnowledgeTool) Spec() Spec {
	return Spec{
		Name:        KnowledgeSearch,
		Description: "Search the brand's policy documents and FAQs",
		Params:      []string{"query", "top_k"},
	}
}

func (t *KnowledgeTool) Execute(ctx context.Context, p Params) Result {
	query := strings.TrimSpace(p.Query)
	if len([]rune(query)) < 3 {
		return invalid(KnowledgeSearch, "query too short (min 3 characters)")
	}
	topK := p.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	hits, err := t.policies.SearchPolicies(ctx, t.brandID, query, topK)
	if err != nil {
		return fail(KnowledgeSearch, err)
	}
	if len(hits) == 0 {
		return fail(KnowledgeSearch, errNoRelevant)
	}

	score := coverage(query, hits[0])
	return ok(KnowledgeSearch, KnowledgeData{
		Confidence: confidenceLevel(score),
		TopScore:   score,
		Results:    hits,
	})
}

// coverage is the share of query keywords present in the passage.
func coverage(query string, hit store.PolicyHit) float64 {
	kws := store.Keywords(query)
	if len(kws) == 0 {
		return 0
	}
	text := strings.ToLower(hit.Title + " " + hit.Content)
	found := 0
	for _, kw := range kws {
		if strings.Contains(text, kw) {
			found++
		}
	}
	return float64(found) / float64(len(kws))
}

func confidenceLevel(score float64) string {
	switch {
	case score >= 0.75:
		return ConfidenceHigh
	case score >= 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
