package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/porterlabs/porter-agent/internal/httpkit"
)

// PropertyAPI implements Provider for the broad-coverage property data
// service (commercial and residential).
type PropertyAPI struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPropertyAPI creates the broad-coverage property provider.
func NewPropertyAPI(baseURL, apiKey string) *PropertyAPI {
	return &PropertyAPI{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Per-call deadlines come from the chain context; the client
		// timeout is only a backstop.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
}

func (p *PropertyAPI) Name() string { return "property-api" }

type propertyResponse struct {
	Listings []propertyListing `json:"listings"`
}

type propertyListing struct {
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Price       string `json:"price"`
	Type        string `json:"property_type"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

func (p *PropertyAPI) Search(ctx context.Context, query string, hints Hints) ([]Result, error) {
	params := url.Values{"q": {query}}
	if hints.Location != "" {
		params.Set("location", hints.Location)
	}

	reqURL := fmt.Sprintf("%s/v1/listings/search?%s", p.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("property-api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("property-api: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("property-api: HTTP %d: %s", resp.StatusCode, body)
	}

	var pr propertyResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("property-api: decode response: %w", err)
	}

	results := make([]Result, 0, len(pr.Listings))
	for _, l := range pr.Listings {
		title := l.Address
		if l.City != "" {
			title = fmt.Sprintf("%s, %s", l.Address, l.City)
			if l.State != "" {
				title += ", " + l.State
			}
		}
		results = append(results, Result{
			Title:   title,
			Address: l.Address,
			Price:   l.Price,
			Detail:  l.Description,
			URL:     l.URL,
		})
	}
	return results, nil
}
