package brand

import (
	"fmt"
	"sort"
	"strings"
)

const basePrompt = `You are a helpful AI customer support agent for %s.

Your primary goal is to help customers with their questions about orders, products, policies, and general inquiries. You have access to real-time order data, product information, and company policies.

CORE RESPONSIBILITIES:
- Answer customer questions accurately using available data
- Help track orders and resolve issues
- Explain policies clearly and helpfully
- Maintain the brand's voice and personality
- Escalate to human support when needed

IMPORTANT RULES:
- Always be honest - if you don't know something, say so
- Never make up order information or policies
- Use the tools available to fetch real data
- Respect customer privacy and data security
- Be patient with frustrated customers`

var toneDescriptions = map[string]string{
	"friendly_professional":  "friendly yet professional, warm but maintaining expertise",
	"professional_technical": "professional and technical, precise and clear",
	"warm_health_focused":    "warm and caring, with focus on health and wellness",
	"casual":                 "casual and conversational, like talking to a friend",
	"formal":                 "formal and professional, business-appropriate",
}

var industryGuidance = map[string]string{
	"fashion": `FASHION INDUSTRY CONTEXT:
- Emphasize style, fit, and quality
- Mention seasonal collections when relevant
- Be enthusiastic about fashion choices
- Address sizing concerns with care`,
	"technology": `TECHNOLOGY INDUSTRY CONTEXT:
- Be precise with technical specifications
- Provide clear troubleshooting steps
- Explain technical concepts clearly
- Emphasize product features and capabilities`,
	"food_health": `FOOD & HEALTH INDUSTRY CONTEXT:
- Emphasize freshness and quality
- Mention health benefits when relevant
- Be mindful of dietary preferences
- Show care for customer wellness`,
}

// SystemPrompt renders the brand's base system prompt.
func SystemPrompt(b *Brand) string {
	parts := []string{
		fmt.Sprintf(basePrompt, b.Name),
		voiceSection(b),
		policySection(b.Policies),
	}
	if g, ok := industryGuidance[b.Industry]; ok {
		parts = append(parts, g)
	}
	return strings.Join(parts, "\n\n")
}

// ToneDescription describes the voice in words a model can follow.
func ToneDescription(v Voice) string {
	desc, ok := toneDescriptions[v.Tone]
	if !ok {
		desc = "helpful and clear"
	}
	switch v.Formality {
	case "casual":
		desc += ", using casual language"
	case "formal":
		desc += ", maintaining formal communication"
	}
	switch v.EmojiUsage {
	case "", "none":
		desc += ". Do not use emojis."
	case "moderate":
		desc += ". Use emojis moderately to add warmth."
	case "frequent":
		desc += ". Use emojis frequently to create a friendly atmosphere."
	}
	return desc
}

// VoiceGuidelines lists tone, preferred and avoided phrases.
func VoiceGuidelines(v Voice) string {
	lines := []string{"TONE: " + ToneDescription(v)}
	if len(v.SignaturePhrases) > 0 {
		lines = append(lines, "USE PHRASES LIKE: "+quoteList(v.SignaturePhrases, 3))
	}
	if len(v.ForbiddenPhrases) > 0 {
		lines = append(lines, "AVOID PHRASES LIKE: "+quoteList(v.ForbiddenPhrases, 3))
	}
	if v.UsesEmoji() && len(v.EmojiPreferences) > 0 {
		keys := make([]string, 0, len(v.EmojiPreferences))
		for k := range v.EmojiPreferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 3 {
			keys = keys[:3]
		}
		examples := make([]string, len(keys))
		for i, k := range keys {
			examples[i] = fmt.Sprintf("%s for %s", v.EmojiPreferences[k], k)
		}
		lines = append(lines, "EMOJI EXAMPLES: "+strings.Join(examples, ", "))
	}
	return strings.Join(lines, "\n")
}

func voiceSection(b *Brand) string {
	return fmt.Sprintf("BRAND VOICE & PERSONALITY (%s):\n%s\n\nCOMMUNICATION STYLE:\n%s",
		b.Name, VoiceGuidelines(b.Voice), ToneDescription(b.Voice))
}

func policySection(p Policies) string {
	lines := []string{"KEY POLICIES TO REMEMBER:"}
	if p.ReturnWindowDays > 0 {
		lines = append(lines, fmt.Sprintf("- Return window: %d days from delivery", p.ReturnWindowDays))
	}
	if p.FreeShippingThreshold > 0 {
		lines = append(lines, fmt.Sprintf("- Free shipping on orders above ₹%.0f", p.FreeShippingThreshold))
	}
	if p.CODAvailable != nil {
		lines = append(lines, "- Cash on Delivery (COD): "+availability(*p.CODAvailable, "available", "not available"))
	}
	if p.InternationalShipping != nil {
		lines = append(lines, "- International shipping: "+availability(*p.InternationalShipping, "available", "India only"))
	}
	return strings.Join(lines, "\n")
}

func availability(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func quoteList(items []string, limit int) string {
	if len(items) > limit {
		items = items[:limit]
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}
