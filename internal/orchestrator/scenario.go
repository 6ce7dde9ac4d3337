package orchestrator

import (
	"github.com/stellarlinkco/cxagent/internal/composer"
	"github.com/stellarlinkco/cxagent/internal/emotion"
	"github.com/stellarlinkco/cxagent/internal/tools"
)

// outcome is what scenario selection looks at once the tool step is done.
type outcome struct {
	clarify    bool
	escalating bool
	tool       string
	success    bool
	facts      composer.Facts
	emotion    emotion.Label
}

// selectScenario is a pure decision table. Rows are checked top to bottom.
func selectScenario(o outcome) composer.Scenario {
	negative := o.emotion.IsNegative()
	switch {
	case o.clarify:
		return composer.ScenarioClarification
	case o.escalating:
		return composer.ScenarioEscalation
	case o.tool != "" && !o.success:
		return composer.ScenarioToolFailure
	}

	switch o.tool {
	case tools.OrderStatus:
		delayed := o.facts.Order != nil && o.facts.Order.IsDelayed()
		switch {
		case negative:
			return composer.ScenarioFrustratedWithOrder
		case delayed:
			return composer.ScenarioDelayExplanation
		default:
			return composer.ScenarioOrderStatus
		}
	case tools.KnowledgeSearch:
		return composer.ScenarioPolicyQuestion
	case tools.ShippingCheck:
		return composer.ScenarioShippingInfo
	case tools.ProductInfo:
		return composer.ScenarioProductInfo
	}

	switch {
	case negative:
		return composer.ScenarioFrustrated
	case o.facts.Order != nil:
		return composer.ScenarioOrderStatus
	default:
		return composer.ScenarioGeneral
	}
}
