package escalation

import "github.com/stellarlinkco/cxagent/internal/emotion"

var escalationMessages = map[Reason]string{
	ReasonRefund:              "I understand you'd like a refund. Let me connect you with our support team who can help process that for you right away.",
	ReasonCancellation:        "I understand you'd like to cancel your order. Let me connect you with our team who can assist with that immediately.",
	ReasonLegal:               "I understand your concerns. Let me connect you with our customer relations team who can address this matter properly.",
	ReasonFraud:               "I take your concerns very seriously. Let me connect you with our support team immediately to resolve this.",
	ReasonAbuse:               "I'm here to help, but I need us to communicate respectfully. Let me connect you with a team member who can assist you.",
	ReasonHumanRequest:        "Of course! Let me connect you with a team member right away.",
	ReasonRepeatedFrustration: "I can see this has been frustrating for you, and I apologize for that. Let me connect you with our support team who can give this the attention it deserves.",
	ReasonLowConfidence:       "I want to make sure you get accurate information. Let me connect you with a specialist who can help you better.",
	ReasonToolFailures:        "I'm having trouble accessing our systems right now. Let me connect you with our support team who can assist you directly.",
	ReasonExtremeFrustration:  "I completely understand your frustration, and I apologize for the inconvenience. Let me connect you with our support team who can resolve this for you.",
	ReasonConversationLoop:    "I want to make sure you get the help you need. Let me connect you with our support team who can assist you better.",
}

const defaultEscalationMessage = "Let me connect you with our support team who can assist you better."

func EscalationMessage(reason Reason) string {
	if msg, ok := escalationMessages[reason]; ok {
		return msg
	}
	return defaultEscalationMessage
}

// EmpathyMessage is the de-escalation reply used for prevented escalations.
func EmpathyMessage(label emotion.Label) string {
	switch label {
	case emotion.Frustrated, emotion.Angry:
		return "I completely understand your frustration, and I'm truly sorry for the inconvenience. Let me do everything I can to help resolve this for you."
	case emotion.Urgent:
		return "I understand this is urgent for you. Let me prioritize this and get you the information you need right away."
	default:
		return "I understand this is important to you. Let me help resolve this for you."
	}
}
