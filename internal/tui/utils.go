package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	requestTimeout = 10 * time.Second
	chatLogSize    = 50
	sidebarWidth   = 32
	cursorMark     = "▏"
)

// keeps pos inside a document of n runes
func clampCursor(pos, n int) int {
	return max(0, min(pos, n))
}

// marks the cursor position in raw text
func withCursor(content string, cursor int) string {
	runes := []rune(content)
	cursor = clampCursor(cursor, len(runes))

	return string(runes[:cursor]) + cursorMark + string(runes[cursor:])
}

func sortedNames(participants map[string]string) []string {
	names := make([]string, 0, len(participants))
	for userID, name := range participants {
		if name == "" {
			name = userID
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if width <= 1 || len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}

func versionLine(version int64, pending int) string {
	if pending == 0 {
		return fmt.Sprintf("v%d", version)
	}
	return fmt.Sprintf("v%d (+%d pending)", version, pending)
}
