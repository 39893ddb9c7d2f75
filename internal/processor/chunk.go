package processor

import (
	"fmt"
	"strings"
)

// chunkMarkerReserve is headroom held back from the chunk limit for the
// " (i/n)" continuation marker.
const chunkMarkerReserve = 8

// Chunk splits text into ordered pieces no longer than limit characters,
// breaking on word boundaries where possible. Multi-piece results carry
// " (i/n)" markers so recipients can reassemble out-of-order delivery.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	budget := limit - chunkMarkerReserve
	if budget < 1 {
		budget = limit
	}

	var parts []string
	remaining := text
	for len(remaining) > budget {
		cut := budget
		// Prefer the last space inside the budget so words stay whole.
		if idx := strings.LastIndex(remaining[:budget], " "); idx > budget/2 {
			cut = idx
		}
		parts = append(parts, strings.TrimSpace(remaining[:cut]))
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if remaining != "" {
		parts = append(parts, remaining)
	}

	if len(parts) == 1 {
		return parts
	}
	for i := range parts {
		parts[i] = fmt.Sprintf("%s (%d/%d)", parts[i], i+1, len(parts))
	}
	return parts
}
