package conversation

import (
	"strings"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// FormatHistory renders chat history as prompt text, one line per message:
// "Human: ..." for the user, "Assistant: ..." for the assistant and
// "<role>: ..." for anything else. An empty history renders as "".
func FormatHistory(history []datatypes.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case datatypes.RoleUser:
			lines = append(lines, "Human: "+msg.Content)
		case datatypes.RoleAssistant:
			lines = append(lines, "Assistant: "+msg.Content)
		default:
			lines = append(lines, msg.Role+": "+msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// CopyHistory returns a copy of history so a turn cannot observe later
// mutations of the caller's slice.
func CopyHistory(history []datatypes.Message) []datatypes.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]datatypes.Message, len(history))
	copy(out, history)
	return out
}
