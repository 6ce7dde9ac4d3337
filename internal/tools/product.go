package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/stellarlinkco/cxagent/internal/store"
)

var errProductNotFound = errors.New("product not found")

type ProductSource interface {
	GetProduct(ctx context.Context, brandID, productID string) (*store.Product, error)
	ListProducts(ctx context.Context, brandID string) ([]store.Product, error)
}

type ProductData struct {
	Product   store.Product `json:"product"`
	MatchedBy string        `json:"matched_by"`
}

type ProductTool struct {
	brandID  string
	products ProductSource
}

func NewProductTool(brandID string, products ProductSource) *ProductTool {
	return &ProductTool{brandID: brandID, products: products}
}

func (t *ProductTool) Spec() Spec {
	return Spec{
		Name:        ProductInfo,
		Description: "Get product details, pricing, sizes and availability",
		Params:      []string{"product_id", "product_name"},
	}
}

func (t *ProductTool) Execute(ctx context.Context, p Params) Result {
	id := strings.TrimSpace(p.ProductID)
	name := strings.TrimSpace(p.ProductName)
	if id == "" && name == "" {
		return invalid(ProductInfo, "product_id or product_name is required")
	}

	if id != "" {
		prod, err := t.products.GetProduct(ctx, t.brandID, id)
		if err == nil {
			return ok(ProductInfo, ProductData{Product: *prod, MatchedBy: "id"})
		}
		if !errors.Is(err, store.ErrNotFound) || name == "" {
			return fail(ProductInfo, err)
		}
	}

	catalog, err := t.products.ListProducts(ctx, t.brandID)
	if err != nil {
		return fail(ProductInfo, err)
	}
	prod, found := matchProduct(name, catalog)
	if !found {
		return fail(ProductInfo, fmt.Errorf("%q: %w", name, errProductNotFound))
	}
	return ok(ProductInfo, ProductData{Product: prod, MatchedBy: "name"})
}

// matchProduct scores every catalog name against each keyword of the text
// and returns the best total.
func matchProduct(text string, catalog []store.Product) (store.Product, bool) {
	if len(catalog) == 0 {
		return store.Product{}, false
	}
	names := make([]string, len(catalog))
	for i, p := range catalog {
		names[i] = strings.ToLower(p.Name)
	}

	scores := make([]int, len(catalog))
	hits := make([]int, len(catalog))
	for _, kw := range store.Keywords(text) {
		if productStopWords[kw] {
			continue
		}
		for _, m := range fuzzy.Find(kw, names) {
			// Only whole-word hits count; fuzzy alone matches scattered letters.
			if !strings.Contains(names[m.Index], kw) {
				continue
			}
			scores[m.Index] += m.Score + 1
			hits[m.Index]++
		}
	}

	best := -1
	for i := range catalog {
		if hits[i] == 0 {
			continue
		}
		if best < 0 || hits[i] > hits[best] || (hits[i] == hits[best] && scores[i] > scores[best]) {
			best = i
		}
	}
	if best < 0 {
		return store.Product{}, false
	}
	return catalog[best], true
}

var productStopWords = map[string]bool{
	"product": true, "size": true, "sizes": true, "color": true, "colour": true,
	"stock": true, "available": true, "price": true, "material": true, "fabric": true,
	"fit": true, "have": true, "much": true, "cost": true, "does": true, "come": true,
}
