package providers

import "strings"

// SplitMessages extracts the system and user prompts from the canonical
// message list. Assistant turns are ignored; validation has already
// guaranteed at most one system and exactly one user message.
func SplitMessages(msgs []Message) (system, user string) {
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system == "" {
				system = m.Content
			}
		case "user":
			if user == "" {
				user = m.Content
			}
		}
	}
	return system, user
}

// JoinSystem merges the request-supplied system prompt with the gateway's
// stored prompt. The request prompt comes first, joined by a single space.
func JoinSystem(requestSystem, gatewayPrompt string) string {
	requestSystem = strings.TrimSpace(requestSystem)
	gatewayPrompt = strings.TrimSpace(gatewayPrompt)
	switch {
	case requestSystem == "":
		return gatewayPrompt
	case gatewayPrompt == "":
		return requestSystem
	default:
		return requestSystem + " " + gatewayPrompt
	}
}

// OutboundSystem resolves the effective system prompt an adapter sends
// upstream for the given request.
func (r *ProxyRequest) OutboundSystem() string {
	system, _ := SplitMessages(r.Messages)
	return JoinSystem(system, r.SystemPrompt)
}

// OutboundUser resolves the user prompt an adapter sends upstream.
func (r *ProxyRequest) OutboundUser() string {
	_, user := SplitMessages(r.Messages)
	return user
}
