// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"strings"

	"taskchat/internal/service"
)

const (
	markOpen = "[ ]"
	markDone = "[x]"

	// descriptionIndent lines descriptions up under the title.
	descriptionIndent = "          "
)

// FormatTask formats one task.
// Format: "{ID:>4}  [x] {TITLE}\n", then the description on its own indented line.
func FormatTask(w io.Writer, task service.Task) {
	mark := markOpen
	if task.Completed {
		mark = markDone
	}
	fmt.Fprintf(w, "%4d  %s %s\n", task.ID, mark, normalizeTitle(task.Title))
	if task.Description != nil {
		if desc := normalizeText(*task.Description); desc != "" {
			fmt.Fprintf(w, "%s%s\n", descriptionIndent, desc)
		}
	}
}

// FormatTasks formats tasks in the given order.
func FormatTasks(w io.Writer, tasks []service.Task) {
	for _, t := range tasks {
		FormatTask(w, t)
	}
}

// FormatTurn formats a conversation turn as "{role}: {text}".
// Assistant actions follow on an indented line.
func FormatTurn(w io.Writer, turn service.Turn) {
	fmt.Fprintf(w, "%s: %s\n", turn.Role, strings.TrimRight(turn.Text, "\n"))
	if len(turn.ToolCalls) > 0 {
		fmt.Fprintf(w, "  (actions: %s)\n", strings.Join(turn.ToolCalls, ", "))
	}
}

// normalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	title = normalizeText(title)
	if title == "" {
		return "(untitled)"
	}
	return title
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
