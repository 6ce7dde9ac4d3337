package store

import (
	"strings"
	"time"
)

type Order struct {
	BrandID           string    `json:"brand_id" yaml:"-"`
	OrderID           string    `json:"order_id" yaml:"order_id"`
	CustomerName      string    `json:"customer_name,omitempty" yaml:"customer_name"`
	Status            string    `json:"status" yaml:"status"`
	Items             []string  `json:"items,omitempty" yaml:"items"`
	Total             float64   `json:"total" yaml:"total"`
	Carrier           string    `json:"carrier,omitempty" yaml:"carrier"`
	TrackingNumber    string    `json:"tracking_number,omitempty" yaml:"tracking_number"`
	EstimatedDelivery string    `json:"estimated_delivery,omitempty" yaml:"estimated_delivery"`
	DelayReason       string    `json:"delay_reason,omitempty" yaml:"delay_reason"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

func (o *Order) IsDelayed() bool {
	return strings.EqualFold(o.Status, "delayed") || o.DelayReason != ""
}

type Policy struct {
	BrandID  string `json:"brand_id" yaml:"-"`
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Category string `json:"category" yaml:"category"`
	Content  string `json:"content" yaml:"content"`
}

// PolicyHit is a ranked search result. Rank is the raw bm25 value (lower is
// better); Relevance is normalized to [0,1] within one result set.
type PolicyHit struct {
	Policy
	Rank      float64 `json:"rank"`
	Relevance float64 `json:"relevance"`
}

type Product struct {
	BrandID     string   `json:"brand_id" yaml:"-"`
	ProductID   string   `json:"product_id" yaml:"product_id"`
	Name        string   `json:"name" yaml:"name"`
	Category    string   `json:"category,omitempty" yaml:"category"`
	Price       float64  `json:"price" yaml:"price"`
	InStock     bool     `json:"in_stock" yaml:"in_stock"`
	Sizes       []string `json:"sizes,omitempty" yaml:"sizes"`
	Colors      []string `json:"colors,omitempty" yaml:"colors"`
	Description string   `json:"description,omitempty" yaml:"description"`
}
