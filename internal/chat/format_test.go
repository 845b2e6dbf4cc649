package chat

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTurns(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)

	t.Run("empty window uses placeholder", func(t *testing.T) {
		t.Parallel()

		if got := formatTurns(nil); got != "(no recent context)" {
			t.Errorf("formatTurns(nil) = %q", got)
		}
	})

	t.Run("renders name, id, time, and content", func(t *testing.T) {
		t.Parallel()

		got := formatTurns([]Turn{
			{UserID: 10, Username: "alice", Content: "hi there", Timestamp: ts},
			{UserID: 11, Content: "hello", Timestamp: ts.Add(time.Minute)},
		})

		lines := strings.Split(got, "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d: %q", len(lines), got)
		}
		if lines[0] != "alice(10) [14:30]: hi there" {
			t.Errorf("line 0 = %q", lines[0])
		}
		// Missing username falls back to a synthetic name.
		if lines[1] != "user11(11) [14:31]: hello" {
			t.Errorf("line 1 = %q", lines[1])
		}
	})
}
