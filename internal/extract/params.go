package extract

import (
	"regexp"
	"strings"
)

// streetAddressRe matches a leading street number followed by words, the
// common shape of "123 Main St" style queries.
var streetAddressRe = regexp.MustCompile(`\b\d{1,6}\s+(?:[A-Za-z]+\.?\s*){1,5}(?:St|Street|Ave|Avenue|Blvd|Boulevard|Rd|Road|Dr|Drive|Ln|Lane|Way|Ct|Court|Pl|Place)\b\.?`)

// locationRe captures a place name after a locative preposition, e.g.
// "trends in Chicago" or "rates near Lincoln Park".
var locationRe = regexp.MustCompile(`\b(?:in|near|around|for)\s+([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+){0,2})`)

// businessMetrics is the controlled vocabulary for business_lookup
// argument recovery.
var businessMetrics = []string{
	"occupancy", "vacancy", "lease", "rent roll", "portfolio",
	"revenue", "expenses", "noi", "arrears", "renewals",
}

var temporalWords = []string{
	"today", "yesterday", "this week", "last week", "this month",
	"last month", "this quarter", "last quarter", "this year", "last year",
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "what": true, "whats": true, "how": true,
	"can": true, "you": true, "me": true, "my": true, "our": true,
	"please": true, "tell": true, "about": true, "do": true, "i": true,
	"want": true, "to": true, "know": true, "of": true, "on": true,
}

// ToolParams recovers arguments for a tool call the model emitted with
// empty or unparseable arguments, using the caller's last message. It
// always returns a usable map; the heuristics are deliberately cheap
// and the tool handlers validate what they receive.
func ToolParams(toolName, lastUserMessage string) map[string]any {
	msg := strings.TrimSpace(lastUserMessage)

	switch toolName {
	case "property_search":
		return propertyParams(msg)
	case "business_lookup":
		return businessParams(msg)
	case "market_search":
		return marketParams(msg)
	default:
		return map[string]any{"query": condense(msg, 8)}
	}
}

func propertyParams(msg string) map[string]any {
	if addr := streetAddressRe.FindString(msg); addr != "" {
		args := map[string]any{"query": addr}
		if loc := findLocation(msg); loc != "" && !strings.Contains(addr, loc) {
			args["location"] = loc
		}
		return args
	}
	args := map[string]any{"query": condense(msg, 8)}
	if loc := findLocation(msg); loc != "" {
		args["location"] = loc
	}
	return args
}

func businessParams(msg string) map[string]any {
	lower := strings.ToLower(msg)
	for _, m := range businessMetrics {
		if strings.Contains(lower, m) {
			return map[string]any{"metric": strings.ReplaceAll(m, " ", "_")}
		}
	}
	return map[string]any{}
}

func marketParams(msg string) map[string]any {
	args := map[string]any{}

	query := condense(msg, 8)
	loc := findLocation(msg)
	if loc != "" {
		args["location"] = loc
		// The query must still carry the place name: some providers
		// ignore the location hint.
		if !strings.Contains(strings.ToLower(query), strings.ToLower(loc)) {
			query = query + " " + loc
		}
	}
	args["query"] = query

	lower := strings.ToLower(msg)
	for _, w := range temporalWords {
		if strings.Contains(lower, w) {
			args["timeframe"] = w
			break
		}
	}
	return args
}

func findLocation(msg string) string {
	m := locationRe.FindStringSubmatch(msg)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// condense strips stop words and punctuation, keeping the first max
// content tokens.
func condense(msg string, max int) string {
	fields := strings.Fields(msg)
	kept := make([]string, 0, max)
	for _, f := range fields {
		word := strings.Trim(f, ".,!?;:\"'")
		if word == "" || stopWords[strings.ToLower(word)] {
			continue
		}
		kept = append(kept, word)
		if len(kept) == max {
			break
		}
	}
	return strings.Join(kept, " ")
}
