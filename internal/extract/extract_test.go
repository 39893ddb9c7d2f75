package extract

import (
	"strings"
	"testing"

	"github.com/porterlabs/porter-agent/internal/llm"
	"github.com/porterlabs/porter-agent/internal/tools"
)

func TestResponseTextPrefersModelText(t *testing.T) {
	resp := &llm.Response{Text: "Here's what I found."}
	got := ResponseText(resp, []tools.Outcome{{Success: true, Message: "tool summary"}})
	if got != "Here's what I found." {
		t.Errorf("got %q", got)
	}
}

func TestResponseTextScansMessageItems(t *testing.T) {
	resp := &llm.Response{
		Items: []llm.OutputItem{
			{Type: "reasoning", Text: "internal chain of thought"},
			{Type: "message", Text: "  The occupancy rate is 94%.  "},
		},
	}
	got := ResponseText(resp, nil)
	if got != "The occupancy rate is 94%." {
		t.Errorf("got %q", got)
	}
}

func TestResponseTextFallsBackToToolMessage(t *testing.T) {
	successes := []tools.Outcome{{Success: true, Message: "Found 3 listings near downtown."}}
	got := ResponseText(&llm.Response{}, successes)
	if got != "Found 3 listings near downtown." {
		t.Errorf("got %q", got)
	}
}

func TestResponseTextLongToolMessageGetsGenericSummary(t *testing.T) {
	successes := []tools.Outcome{{Success: true, Message: strings.Repeat("data ", 200)}}
	got := ResponseText(nil, successes)
	if got != genericDataSummary {
		t.Errorf("got %q, want generic summary", got)
	}
}

func TestResponseTextNeverEmpty(t *testing.T) {
	got := ResponseText(nil, nil)
	if strings.TrimSpace(got) == "" {
		t.Fatal("empty reply")
	}
	got = ResponseText(&llm.Response{}, []tools.Outcome{{Success: true}})
	if strings.TrimSpace(got) == "" {
		t.Fatal("empty reply with message-less success")
	}
}

func TestToolParamsPropertyAddress(t *testing.T) {
	args := ToolParams("property_search", "What can you tell me about 123 Main St, Chicago, IL?")
	query, _ := args["query"].(string)
	if !strings.Contains(query, "123 Main St") {
		t.Errorf("query = %q, want street address", query)
	}
}

func TestToolParamsPropertyNoAddress(t *testing.T) {
	args := ToolParams("property_search", "any warehouses available near Logan Square")
	if args["location"] != "Logan Square" {
		t.Errorf("location = %v, want Logan Square", args["location"])
	}
	if q, _ := args["query"].(string); q == "" {
		t.Error("query must not be empty")
	}
}

func TestToolParamsBusinessMetric(t *testing.T) {
	args := ToolParams("business_lookup", "what's our occupancy looking like")
	if args["metric"] != "occupancy" {
		t.Errorf("metric = %v, want occupancy", args["metric"])
	}

	args = ToolParams("business_lookup", "pull up the rent roll please")
	if args["metric"] != "rent_roll" {
		t.Errorf("metric = %v, want rent_roll", args["metric"])
	}

	args = ToolParams("business_lookup", "hello there")
	if len(args) != 0 {
		t.Errorf("unexpected args for metric-less message: %v", args)
	}
}

func TestToolParamsMarketCarriesLocation(t *testing.T) {
	args := ToolParams("market_search", "How are the trends in Chicago this quarter?")
	query, _ := args["query"].(string)
	if !strings.Contains(query, "Chicago") {
		t.Errorf("query = %q, must contain the place name", query)
	}
	if args["location"] != "Chicago" {
		t.Errorf("location = %v, want Chicago", args["location"])
	}
	if args["timeframe"] != "this quarter" {
		t.Errorf("timeframe = %v, want 'this quarter'", args["timeframe"])
	}
}

func TestToolParamsGenericStripsStopWords(t *testing.T) {
	args := ToolParams("record_missing_info", "Can you tell me about the zoning rules?")
	query, _ := args["query"].(string)
	if strings.Contains(strings.ToLower(query), "can you") {
		t.Errorf("stop words not stripped: %q", query)
	}
	if !strings.Contains(query, "zoning") {
		t.Errorf("content word dropped: %q", query)
	}
}

func TestCondenseTokenLimit(t *testing.T) {
	got := condense("alpha beta gamma delta epsilon zeta eta theta iota kappa", 3)
	if got != "alpha beta gamma" {
		t.Errorf("condense() = %q", got)
	}
}
