// Package search implements the multi-provider property search chain.
//
// A single logical query walks an ordered list of independent data
// providers: the broad-coverage property API first, the residential
// rentals API when the query carries rental vocabulary, and finally a
// generic web search. Provider failures are non-fatal; they advance
// the chain. The ordering is a fixed priority, not a cost or quality
// optimization; tune it in the composition root if needed.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/porterlabs/porter-agent/internal/events"
)

// Hints carry structured query context extracted upstream.
type Hints struct {
	Location  string `json:"location,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	URL     string `json:"url,omitempty"`
	Address string `json:"address,omitempty"`
	Price   string `json:"price,omitempty"`
}

// Outcome is the chain's answer for one logical query.
type Outcome struct {
	Success bool     `json:"success"`
	Results []Result `json:"results,omitempty"`
	// Source labels which provider answered.
	Source string `json:"source,omitempty"`
	// Message is a short user-safe summary; on total failure it is the
	// apology text and never empty.
	Message string `json:"message"`
}

// Provider is one search backend in the chain.
type Provider interface {
	// Name returns the provider identifier (e.g. "property-api").
	Name() string

	// Search executes a query. Returning zero results with a nil error
	// counts as a miss and advances the chain.
	Search(ctx context.Context, query string, hints Hints) ([]Result, error)
}

// noResultsApology is returned when every provider misses or fails.
const noResultsApology = "I wasn't able to find anything for that just now. " +
	"Could you try rephrasing, or add a city or address?"

// rentalVocabulary gates the rentals provider: it is only worth trying
// when the query is plausibly about residential renting.
var rentalVocabulary = []string{
	"rent", "rental", "rentals", "lease", "leasing", "tenant",
	"apartment", "apartments", "condo", "sublet", "bedroom", "studio",
}

// Chain walks providers in fixed priority order.
type Chain struct {
	broad   Provider // always tried first
	rentals Provider // tried second, rental queries only
	web     Provider // last resort
	timeout time.Duration
	logger  *slog.Logger
	bus     *events.Bus
}

// NewChain assembles the provider chain. Any provider may be nil; nil
// providers are skipped.
func NewChain(broad, rentals, web Provider, timeout time.Duration, logger *slog.Logger, bus *events.Bus) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Chain{
		broad:   broad,
		rentals: rentals,
		web:     web,
		timeout: timeout,
		logger:  logger,
		bus:     bus,
	}
}

// Search runs the query down the chain and returns the first success.
// Total failure returns Success=false with a non-empty apology message.
func (c *Chain) Search(ctx context.Context, query string, hints Hints) Outcome {
	providers := make([]Provider, 0, 3)
	if c.broad != nil {
		providers = append(providers, c.broad)
	}
	if c.rentals != nil && isRentalQuery(query) {
		providers = append(providers, c.rentals)
	}
	if c.web != nil {
		providers = append(providers, c.web)
	}

	for _, p := range providers {
		results, err := c.tryProvider(ctx, p, query, hints)
		if err != nil {
			c.logger.Warn("search provider failed",
				"provider", p.Name(),
				"query", query,
				"error", err,
			)
			continue
		}
		if len(results) == 0 {
			c.logger.Debug("search provider returned no results",
				"provider", p.Name(),
				"query", query,
			)
			continue
		}

		return Outcome{
			Success: true,
			Results: results,
			Source:  p.Name(),
			Message: fmt.Sprintf("Found %d result(s) via %s.", len(results), p.Name()),
		}
	}

	return Outcome{
		Success: false,
		Message: noResultsApology,
	}
}

// tryProvider bounds a single provider call with the chain timeout and
// publishes the attempt to the event bus.
func (c *Chain) tryProvider(ctx context.Context, p Provider, query string, hints Hints) ([]Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	results, err := p.Search(callCtx, query, hints)

	c.bus.Publish(events.Event{
		Source: events.SourceSearch,
		Kind:   events.KindProviderTried,
		Data: map[string]any{
			"provider":    p.Name(),
			"ok":          err == nil && len(results) > 0,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})

	return results, err
}

// isRentalQuery reports whether the query contains residential rental
// vocabulary.
func isRentalQuery(query string) bool {
	q := strings.ToLower(query)
	for _, w := range rentalVocabulary {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// FormatResults renders up to limit results as a compact text block for
// model consumption.
func FormatResults(results []Result, limit int) string {
	if len(results) == 0 {
		return "No results found."
	}
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}

	var sb strings.Builder
	for i, r := range results[:limit] {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, r.Title)
		if r.Address != "" {
			fmt.Fprintf(&sb, " - %s", r.Address)
		}
		if r.Price != "" {
			fmt.Fprintf(&sb, " (%s)", r.Price)
		}
		if r.Detail != "" {
			fmt.Fprintf(&sb, "\n   %s", r.Detail)
		}
	}
	return sb.String()
}
