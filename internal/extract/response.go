// Package extract derives user-facing text and tool parameters when the
// model's output is incomplete. The agent loop leans on it twice: to
// recover arguments for a tool call the model emitted empty, and to
// guarantee the final reply is never blank.
package extract

import (
	"strings"

	"github.com/porterlabs/porter-agent/internal/llm"
	"github.com/porterlabs/porter-agent/internal/tools"
)

// payloadSummaryCeiling bounds how much of a tool message may stand in
// for a model reply. Anything longer gets the generic summary instead
// of a wall of data.
const payloadSummaryCeiling = 500

const genericDataSummary = "I found some information on that, but I'm not sure which part " +
	"you're after. Could you be more specific?"

const exhaustionApology = "Sorry, I wasn't able to put together an answer for that. " +
	"Could you try rephrasing?"

// ResponseText derives the outgoing reply from a finalize-call response
// and the run's successful tool outcomes. The fallback order is fixed:
// model text, then message-item text, then a tool outcome summary, then
// an apology. The result is never empty and never a raw tool payload.
func ResponseText(resp *llm.Response, successes []tools.Outcome) string {
	if resp != nil {
		if text := strings.TrimSpace(resp.Text); text != "" {
			return text
		}
		for _, item := range resp.Items {
			if item.Type != "text" && item.Type != "message" {
				continue
			}
			if text := strings.TrimSpace(item.Text); text != "" {
				return text
			}
		}
	}

	for _, out := range successes {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			continue
		}
		if len(msg) > payloadSummaryCeiling {
			return genericDataSummary
		}
		return msg
	}
	if len(successes) > 0 {
		return genericDataSummary
	}

	return exhaustionApology
}
