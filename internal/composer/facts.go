package composer

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/cxagent/internal/escalation"
	"github.com/stellarlinkco/cxagent/internal/store"
	"github.com/stellarlinkco/cxagent/internal/tools"
)

// Facts is the verified data for one turn. Each slot is filled by at most
// one tool; nil slots were not looked up.
type Facts struct {
	Order      *store.Order         `json:"order,omitempty"`
	Knowledge  *tools.KnowledgeData `json:"knowledge,omitempty"`
	Shipping   *tools.ShippingData  `json:"shipping,omitempty"`
	Product    *tools.ProductData   `json:"product,omitempty"`
	Failure    *tools.Failure       `json:"failure,omitempty"`
	Escalation *escalation.Verdict  `json:"escalation,omitempty"`
	// Confidence is the caller's confidence in the answer, nil meaning certain.
	Confidence *float64 `json:"confidence,omitempty"`
	// Notes are extra caller-verified statements.
	Notes []string `json:"notes,omitempty"`
}

// Merge returns f with the non-empty slots of other layered on top.
func (f Facts) Merge(other Facts) Facts {
	if other.Order != nil {
		f.Order = other.Order
	}
	if other.Knowledge != nil {
		f.Knowledge = other.Knowledge
	}
	if other.Shipping != nil {
		f.Shipping = other.Shipping
	}
	if other.Product != nil {
		f.Product = other.Product
	}
	if other.Failure != nil {
		f.Failure = other.Failure
	}
	if other.Escalation != nil {
		f.Escalation = other.Escalation
	}
	if other.Confidence != nil {
		f.Confidence = other.Confidence
	}
	f.Notes = append(append([]string(nil), f.Notes...), other.Notes...)
	return f
}

// Lines renders the facts as the enumerated list shown to the model.
func (f Facts) Lines() []string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	if o := f.Order; o != nil {
		add("Order ID: %s", o.OrderID)
		add("Order status: %s", o.Status)
		if len(o.Items) > 0 {
			add("Items: %s", strings.Join(o.Items, ", "))
		}
		if o.Total > 0 {
			add("Order total: ₹%.0f", o.Total)
		}
		if o.Carrier != "" {
			add("Courier: %s", o.Carrier)
		}
		if o.TrackingNumber != "" {
			add("Tracking number: %s", o.TrackingNumber)
		}
		if o.EstimatedDelivery != "" {
			add("Estimated delivery: %s", o.EstimatedDelivery)
		}
		if o.DelayReason != "" {
			add("Delay reason: %s", o.DelayReason)
		}
	}
	if k := f.Knowledge; k != nil {
		for _, hit := range k.Results {
			add("%s: %s", hit.Title, hit.Content)
		}
		add("Policy match confidence: %s", k.Confidence)
	}
	if s := f.Shipping; s != nil && s.PolicyOnly {
		add("Cash on delivery available: %t", s.CODAvailable)
		add("Free shipping threshold: ₹%.0f", s.FreeShippingThreshold)
		add("Note: %s", s.Note)
	} else if s != nil {
		add("Pincode: %s", s.Pincode)
		add("Serviceable: %t", s.Serviceable)
		if s.Serviceable {
			add("Location: %s", s.City)
			add("Delivery time: %s business days", s.DeliveryDays)
			add("Cash on delivery available: %t", s.CODAvailable)
			add("Shipping cost: ₹%.0f", s.ShippingCost)
			add("Free shipping threshold: ₹%.0f", s.FreeShippingThreshold)
		}
		if s.Note != "" {
			add("Note: %s", s.Note)
		}
	}
	if p := f.Product; p != nil {
		add("Product: %s (%s)", p.Product.Name, p.Product.ProductID)
		add("Price: ₹%.0f", p.Product.Price)
		add("In stock: %t", p.Product.InStock)
		if len(p.Product.Sizes) > 0 {
			add("Sizes: %s", strings.Join(p.Product.Sizes, ", "))
		}
		if len(p.Product.Colors) > 0 {
			add("Colors: %s", strings.Join(p.Product.Colors, ", "))
		}
		if p.Product.Description != "" {
			add("Description: %s", p.Product.Description)
		}
	}
	if fl := f.Failure; fl != nil {
		add("Lookup failed: %s (%s)", fl.Tool, fl.Kind)
	}
	lines = append(lines, f.Notes...)
	return lines
}

func (f Facts) Empty() bool {
	return len(f.Lines()) == 0
}
