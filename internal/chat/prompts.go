package chat

import (
	"fmt"
	"strings"

	"github.com/inboxflow/inboxflow/internal/transcript"
)

// DefaultBusinessContext is used when the operator supplied none.
const DefaultBusinessContext = "General customer service"

// SystemPrompt composes the fixed instructional preamble with the
// operator-supplied business context and a compact rendering of the
// windowed transcript.
func SystemPrompt(businessContext string, window []transcript.CanonicalMessage) string {
	if strings.TrimSpace(businessContext) == "" {
		businessContext = DefaultBusinessContext
	}

	lines := make([]string, 0, len(window))
	for _, msg := range window {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}

	return fmt.Sprintf(`You are a helpful customer service AI assistant for a business. Your role is to:

1. Respond to customer inquiries professionally and helpfully
2. Provide accurate information about products/services
3. Handle common customer service scenarios
4. Escalate complex issues when necessary
5. Maintain a friendly and professional tone

Business Context: %s

Guidelines:
- Be concise but thorough
- Ask clarifying questions when needed
- Offer solutions proactively
- Maintain conversation flow naturally
- If you can't help, politely suggest contacting human support

Current conversation context:
%s`, businessContext, strings.Join(lines, "\n"))
}
