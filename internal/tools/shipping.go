package tools

import (
	"context"
	"fmt"
	"strings"
)

const standardShippingCost = 100

type area struct {
	city string
	days string
}

var serviceableAreas = map[string]area{
	"110001": {"Delhi", "2-3"},
	"400001": {"Mumbai", "2-3"},
	"560001": {"Bangalore", "2-3"},
	"600001": {"Chennai", "3-4"},
	"700001": {"Kolkata", "3-4"},
	"500001": {"Hyderabad", "3-4"},
	"302001": {"Jaipur", "3-5"},
	"380001": {"Ahmedabad", "3-5"},
	"411001": {"Pune", "2-4"},
}

// Metro regions are served even when the exact pincode is not listed.
var serviceableRegions = map[string]bool{
	"110": true, "400": true, "560": true, "600": true, "700": true, "500": true,
}

// ShippingData answers a delivery question. PolicyOnly is set when no pincode
// was given; only the brand-wide COD and free-shipping terms are filled in.
type ShippingData struct {
	Pincode               string  `json:"pincode"`
	Serviceable           bool    `json:"serviceable"`
	City                  string  `json:"city,omitempty"`
	DeliveryDays          string  `json:"delivery_days,omitempty"`
	CODAvailable          bool    `json:"cod_available"`
	ShippingCost          float64 `json:"shipping_cost"`
	FreeShipping          bool    `json:"free_shipping"`
	FreeShippingThreshold float64 `json:"free_shipping_threshold"`
	OrderValue            float64 `json:"order_value"`
	Note                  string  `json:"note,omitempty"`
	PolicyOnly            bool    `json:"policy_only,omitempty"`
}

const pincodeRequestNote = "Share your 6-digit pincode to check delivery to your area"

type ShippingTool struct {
	threshold float64
	cod       bool
}

// NewShippingTool uses the brand's free-shipping threshold and COD policy.
func NewShippingTool(freeShippingThreshold float64, codAvailable bool) *ShippingTool {
	return &ShippingTool{threshold: freeShippingThreshold, cod: codAvailable}
}

func (t *ShippingTool) Spec() Spec {
	return Spec{
		Name:        ShippingCheck,
		Description: "Check whether a pincode is serviceable and estimate delivery time and cost",
		Params:      []string{"pincode", "order_value"},
	}
}

func (t *ShippingTool) Execute(ctx context.Context, p Params) Result {
	if err := ctx.Err(); err != nil {
		return fail(ShippingCheck, err)
	}
	pin := strings.TrimSpace(p.Pincode)
	if pin == "" {
		return ok(ShippingCheck, ShippingData{
			CODAvailable:          t.cod,
			FreeShippingThreshold: t.threshold,
			OrderValue:            p.OrderValue,
			FreeShipping:          p.OrderValue > 0 && p.OrderValue >= t.threshold,
			Note:                  pincodeRequestNote,
			PolicyOnly:            true,
		})
	}
	if len(pin) != 6 || strings.Trim(pin, "0123456789") != "" {
		return invalid(ShippingCheck, "pincode must be 6 digits")
	}

	free := p.OrderValue >= t.threshold
	data := ShippingData{
		Pincode:               pin,
		FreeShipping:          free,
		FreeShippingThreshold: t.threshold,
		OrderValue:            p.OrderValue,
	}
	if a, found := serviceableAreas[pin]; found {
		data.Serviceable = true
		data.City = a.city
		data.DeliveryDays = a.days
		data.CODAvailable = t.cod
		if !free {
			data.ShippingCost = standardShippingCost
		}
		return ok(ShippingCheck, data)
	}
	if serviceableRegions[pin[:3]] {
		data.Serviceable = true
		data.City = "Your area"
		data.DeliveryDays = "4-6"
		data.CODAvailable = t.cod
		if !free {
			data.ShippingCost = standardShippingCost
		}
		data.Note = "Delivery time may vary for your specific location"
		return ok(ShippingCheck, data)
	}
	data.FreeShipping = false
	data.Note = fmt.Sprintf("Sorry, we don't currently deliver to pincode %s", pin)
	return ok(ShippingCheck, data)
}
