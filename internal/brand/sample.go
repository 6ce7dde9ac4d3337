package brand

import (
	"fmt"
	"os"
	"path/filepath"
)

// SampleID is the brand written by `cxagent onboard`.
const SampleID = "fashionhub"

func Sample() *Brand {
	return &Brand{
		ID:       SampleID,
		Name:     "FashionHub",
		Industry: "fashion",
		Domain:   "fashionhub.in",
		Active:   true,
		Voice: Voice{
			Tone:             "friendly_professional",
			Formality:        "casual",
			EmojiUsage:       "minimal",
			EmojiPreferences: map[string]string{"greeting": "👋", "thanks": "🙏", "delivery": "📦"},
			SignaturePhrases: []string{"Happy to help!", "Style made simple"},
			ForbiddenPhrases: []string{"calm down", "as I already said"},
		},
		Policies: Policies{
			ReturnWindowDays:      30,
			FreeShippingThreshold: 1500,
			CODAvailable:          boolPtr(true),
			InternationalShipping: boolPtr(false),
			ForbiddenActions:      []string{"offer discounts or coupons", "change delivery addresses"},
		},
	}
}

const sampleOrders = `orders:
  - order_id: "12345"
    customer_name: Priya Sharma
    status: shipped
    items: [Blue Denim Jacket, White Canvas Sneakers]
    total: 3798
    carrier: BlueDart
    tracking_number: BD784512369IN
    estimated_delivery: "2025-01-20"
  - order_id: "12348"
    customer_name: Rahul Verma
    status: delayed
    items: [Floral Summer Dress]
    total: 1899
    carrier: Delhivery
    tracking_number: DL552190348IN
    estimated_delivery: "2025-01-24"
    delay_reason: Heavy rain disrupted operations at the Mumbai sorting hub
  - order_id: "12350"
    customer_name: Ananya Iyer
    status: processing
    items: [Classic White Shirt, Slim Fit Chinos]
    total: 2598
    estimated_delivery: "2025-01-26"
  - order_id: "12353"
    customer_name: Karan Mehta
    status: delivered
    items: [Leather Belt]
    total: 799
    carrier: Ekart
    tracking_number: EK993417265IN
    estimated_delivery: "2025-01-15"
`

const samplePolicies = `policies:
  - id: returns
    title: Return Policy
    category: returns
    content: Our return policy allows a return within 30 days of delivery. Products must be unused, unwashed and have original tags attached. Refunds are processed to the original payment method within 5-7 business days after the return is received.
  - id: exchanges
    title: Exchange Policy
    category: returns
    content: Size and colour exchanges are free within 30 days of delivery, subject to stock availability. Raise an exchange from the My Orders page and our courier will pick up the item.
  - id: shipping
    title: Shipping Policy
    category: shipping
    content: Orders above 1500 rupees ship free. Orders below 1500 rupees carry a flat shipping fee of 100 rupees. Metro cities receive deliveries in 2-4 business days, other locations in 4-7 business days. We currently ship within India only.
  - id: cod
    title: Cash on Delivery
    category: payments
    content: Cash on Delivery is available on orders up to 10000 rupees at serviceable pincodes. Please keep the exact amount ready at the time of delivery.
  - id: cancellation
    title: Cancellation Policy
    category: orders
    content: Orders can be cancelled free of charge before they are shipped. Once shipped, the order can be refused at the doorstep.
`

const sampleProducts = `products:
  - product_id: FH-1001
    name: Blue Denim Jacket
    category: jackets
    price: 2499
    in_stock: true
    sizes: [S, M, L, XL]
    colors: [blue]
    description: Classic mid-wash denim jacket with button front and two chest pockets.
  - product_id: FH-1002
    name: White Canvas Sneakers
    category: footwear
    price: 1299
    in_stock: true
    sizes: ["6", "7", "8", "9", "10"]
    colors: [white]
    description: Lightweight canvas sneakers with a cushioned sole.
  - product_id: FH-1003
    name: Floral Summer Dress
    category: dresses
    price: 1899
    in_stock: false
    sizes: [XS, S, M, L]
    colors: [yellow, pink]
    description: Flowy cotton midi dress with a floral print.
  - product_id: FH-1004
    name: Slim Fit Chinos
    category: trousers
    price: 1599
    in_stock: true
    sizes: ["30", "32", "34", "36"]
    colors: [khaki, navy, olive]
    description: Stretch cotton chinos with a tapered slim fit.
`

// WriteSample registers the sample brand in r and writes its seed files.
func WriteSample(r *Registry) (*Brand, error) {
	if err := r.Register(Sample()); err != nil {
		return nil, err
	}
	b, err := r.Get(SampleID)
	if err != nil {
		return nil, err
	}
	seeds := map[string]string{
		OrdersFile:   sampleOrders,
		PoliciesFile: samplePolicies,
		ProductsFile: sampleProducts,
	}
	for name, content := range seeds {
		if err := os.WriteFile(filepath.Join(b.Dir, name), []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	return b, nil
}
