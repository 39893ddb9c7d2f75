package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/search"
)

// Searcher is the provider-chain boundary the search tools call. The
// chain never returns an error; total failure is a structured outcome.
type Searcher interface {
	Search(ctx context.Context, query string, hints search.Hints) search.Outcome
}

func hintsFromArgs(args map[string]any) search.Hints {
	h := search.Hints{}
	if v, ok := args["location"].(string); ok {
		h.Location = v
	}
	if v, ok := args["topic"].(string); ok {
		h.Topic = v
	}
	if v, ok := args["timeframe"].(string); ok {
		h.Timeframe = v
	}
	return h
}

func searchOutcome(name string, out search.Outcome) Outcome {
	if !out.Success {
		return Outcome{
			Tool:    name,
			Success: false,
			ErrKind: ErrKindNotFound,
			Message: out.Message,
		}
	}
	payload, _ := json.Marshal(out.Results)
	return Outcome{
		Tool:    name,
		Success: true,
		Payload: string(payload),
		Message: fmt.Sprintf("%s (source: %s)", out.Message, out.Source),
	}
}

// NewPropertySearchTool builds the property_search tool over the
// provider chain.
func NewPropertySearchTool(chain Searcher) *Tool {
	return &Tool{
		Name: "property_search",
		Description: "Search property listings: addresses, availability, pricing. " +
			"Use for questions about specific properties or areas.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The property search query, e.g. an address or area description.",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "City or region to scope the search.",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any, user *convo.UserContext) (Outcome, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return Outcome{
					Tool:    "property_search",
					Success: false,
					ErrKind: ErrKindBadArgs,
					Message: "A search query is required.",
				}, nil
			}
			return searchOutcome("property_search", chain.Search(ctx, query, hintsFromArgs(args))), nil
		},
	}
}

// NewMarketSearchTool builds the market_search tool for general market
// research questions. It runs the same chain; the web provider does the
// heavy lifting for non-listing queries.
func NewMarketSearchTool(chain Searcher) *Tool {
	return &Tool{
		Name: "market_search",
		Description: "Research general market information: trends, rates, news, " +
			"area statistics. Use for questions not tied to a specific listing.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The research question.",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "City or region of interest.",
				},
				"timeframe": map[string]any{
					"type":        "string",
					"description": "Time period of interest, e.g. 'last quarter'.",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any, user *convo.UserContext) (Outcome, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return Outcome{
					Tool:    "market_search",
					Success: false,
					ErrKind: ErrKindBadArgs,
					Message: "A search query is required.",
				}, nil
			}
			return searchOutcome("market_search", chain.Search(ctx, query, hintsFromArgs(args))), nil
		},
	}
}
