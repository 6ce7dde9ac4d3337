package composer

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/cxagent/internal/emotion"
)

const (
	fallbackFrustrated    = "I understand your concern and I'm here to help. Let me look into this for you right away."
	fallbackGeneral       = "I'm here to help! Could you provide a bit more detail so I can assist you better?"
	fallbackClarification = "I want to make sure I understand correctly. Could you provide a bit more detail?"
	fallbackEscalation    = "Let me connect you with our support team who can assist you better."
	fallbackFailure       = "I'm experiencing a technical issue. Let me connect you with our support team who can assist you better."
)

// Fallback is the deterministic reply for a scenario, built only from facts.
func Fallback(s Scenario, f Facts, label emotion.Label) string {
	switch s {
	case ScenarioEscalation:
		if f.Escalation != nil && f.Escalation.SuggestedMessage != "" {
			return f.Escalation.SuggestedMessage
		}
		return fallbackEscalation
	case ScenarioToolFailure:
		if msg := f.Failure.Fallback(); msg != "" {
			return msg
		}
		return fallbackFailure
	case ScenarioClarification:
		return fallbackClarification
	case ScenarioOrderStatus, ScenarioDelayExplanation, ScenarioFrustratedWithOrder:
		if f.Order == nil {
			break
		}
		text := orderSentence(f)
		if s == ScenarioFrustratedWithOrder || label.IsNegative() {
			text = "I understand how frustrating this is, and I'm sorry. " + text
		}
		return text
	case ScenarioPolicyQuestion:
		if f.Knowledge != nil && len(f.Knowledge.Results) > 0 {
			top := f.Knowledge.Top()
			return fmt.Sprintf("Here's what our %s says: %s", strings.ToLower(top.Title), top.Content)
		}
	case ScenarioShippingInfo:
		if f.Shipping != nil {
			return shippingSentence(f)
		}
	case ScenarioProductInfo:
		if f.Product != nil {
			return productSentence(f)
		}
	}
	if label.IsNegative() {
		return fallbackFrustrated
	}
	return fallbackGeneral
}

func orderSentence(f Facts) string {
	o := f.Order
	var parts []string
	switch strings.ToLower(o.Status) {
	case "shipped":
		parts = append(parts, fmt.Sprintf("Your order #%s has been shipped", o.OrderID))
	case "processing":
		parts = append(parts, fmt.Sprintf("Your order #%s is being prepared by our warehouse team", o.OrderID))
	case "delivered":
		parts = append(parts, fmt.Sprintf("Your order #%s has been delivered", o.OrderID))
	case "delayed":
		parts = append(parts, fmt.Sprintf("Your order #%s is running late", o.OrderID))
	default:
		parts = append(parts, fmt.Sprintf("Your order #%s is currently %s", o.OrderID, o.Status))
	}
	if o.Carrier != "" && o.TrackingNumber != "" {
		parts[0] += fmt.Sprintf(" with %s (tracking number %s)", o.Carrier, o.TrackingNumber)
	}
	text := parts[0] + "."
	if o.DelayReason != "" {
		text += " " + strings.TrimSuffix(o.DelayReason, ".") + "."
	}
	if o.EstimatedDelivery != "" && !strings.EqualFold(o.Status, "delivered") {
		text += fmt.Sprintf(" The estimated delivery date is %s.", o.EstimatedDelivery)
	}
	return text
}

func shippingSentence(f Facts) string {
	s := f.Shipping
	if s.PolicyOnly {
		text := "Cash on delivery is not available at the moment."
		if s.CODAvailable {
			text = "Yes, cash on delivery is available."
		}
		text += fmt.Sprintf(" Orders above ₹%.0f ship free.", s.FreeShippingThreshold)
		return text + " " + s.Note + "."
	}
	if !s.Serviceable {
		if s.Note != "" {
			return s.Note + "."
		}
		return fmt.Sprintf("Sorry, we don't currently deliver to pincode %s.", s.Pincode)
	}
	text := fmt.Sprintf("Yes, we deliver to %s (%s) in %s business days.", s.Pincode, s.City, s.DeliveryDays)
	if s.FreeShipping {
		text += " Shipping is free for this order."
	} else {
		text += fmt.Sprintf(" Shipping costs ₹%.0f, and orders above ₹%.0f ship free.", s.ShippingCost, s.FreeShippingThreshold)
	}
	if s.CODAvailable {
		text += " Cash on delivery is available."
	}
	return text
}

func productSentence(f Facts) string {
	p := f.Product.Product
	stock := "in stock"
	if !p.InStock {
		stock = "currently out of stock"
	}
	text := fmt.Sprintf("The %s is priced at ₹%.0f and is %s.", p.Name, p.Price, stock)
	if len(p.Sizes) > 0 {
		text += " Sizes: " + strings.Join(p.Sizes, ", ") + "."
	}
	if len(p.Colors) > 0 {
		text += " Colors: " + strings.Join(p.Colors, ", ") + "."
	}
	return text
}
