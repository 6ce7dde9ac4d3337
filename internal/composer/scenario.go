package composer

import "github.com/stellarlinkco/cxagent/internal/emotion"

type Scenario string

const (
	ScenarioOrderStatus         Scenario = "order_status_query"
	ScenarioDelayExplanation    Scenario = "delay_explanation"
	ScenarioFrustratedWithOrder Scenario = "frustrated_customer_with_order"
	ScenarioFrustrated          Scenario = "frustrated_customer"
	ScenarioPolicyQuestion      Scenario = "policy_question"
	ScenarioShippingInfo        Scenario = "shipping_info"
	ScenarioProductInfo         Scenario = "product_info"
	ScenarioToolFailure         Scenario = "tool_failure"
	ScenarioGeneral             Scenario = "general_query"
	ScenarioEscalation          Scenario = "escalation"
	ScenarioClarification       Scenario = "clarification"
)

var scenarioInstructions = map[Scenario]string{
	ScenarioOrderStatus: `Customer asked about their order status.
Provide the order status in a natural, friendly way. Include courier and tracking details if they are in the facts.`,
	ScenarioDelayExplanation: `Customer's order is delayed and they are asking about it.
Explain the delay with empathy using the delay reason from the facts, give the estimated delivery date from the facts, and reassure the customer.`,
	ScenarioFrustratedWithOrder: `The customer is FRUSTRATED about their order.
Respond with:
1. EMPATHY first (acknowledge their frustration)
2. EXPLANATION (what is happening with the order, from the facts)
3. NEXT STEP (what they can expect)
Be warm and understanding.`,
	ScenarioFrustrated: `The customer is FRUSTRATED or ANGRY.
Acknowledge their frustration first, then ask for the details you need to help. Do not be defensive.`,
	ScenarioPolicyQuestion: `Customer asked about a policy.
Explain the policy in simple, customer-friendly terms using only the policy text in the facts.`,
	ScenarioShippingInfo: `Customer asked about delivery to a location.
Tell them whether we deliver there, how long it takes and what it costs, using only the facts.`,
	ScenarioProductInfo: `Customer asked about a product.
Share price, availability, sizes and colors from the facts. If it is out of stock, say so plainly.`,
	ScenarioGeneral: `Customer asked a question.
Provide a helpful, natural response. If you don't have enough information, ask for clarification.`,
}

func instructions(s Scenario) string {
	if text, ok := scenarioInstructions[s]; ok {
		return text
	}
	return scenarioInstructions[ScenarioGeneral]
}

func emotionContext(label emotion.Label) string {
	switch label {
	case emotion.Frustrated, emotion.Angry:
		return "The customer is frustrated. Show empathy FIRST, then provide the answer."
	case emotion.Confused:
		return "The customer seems confused. Use simple, clear language."
	case emotion.Urgent:
		return "The customer needs urgent help. Be direct and action-oriented."
	case emotion.Positive:
		return "The customer is in a good mood. Match their warmth."
	}
	return ""
}
