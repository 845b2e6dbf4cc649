package chat

import (
	"fmt"
	"strings"
)

// formatTurn renders a turn the way prompts expect: display name, user id,
// and clock time ahead of the content.
func formatTurn(t Turn) string {
	name := t.Username
	if name == "" {
		name = fmt.Sprintf("user%d", t.UserID)
	}
	return fmt.Sprintf("%s(%d) [%s]: %s", name, t.UserID, t.Timestamp.Format("15:04"), t.Content)
}

// formatTurns renders a context window oldest-first for prompt assembly.
func formatTurns(turns []Turn) string {
	if len(turns) == 0 {
		return "(no recent context)"
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, formatTurn(t))
	}
	return strings.Join(lines, "\n")
}

// formatEvent renders the triggering message in the same shape as a turn.
func formatEvent(ev Event) string {
	return formatTurn(Turn{
		UserID:    ev.UserID,
		Username:  ev.Username,
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
	})
}
