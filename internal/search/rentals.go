package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/porterlabs/porter-agent/internal/httpkit"
)

// RentalsAPI implements Provider for the residential rentals service.
// The chain only consults it when the query carries rental vocabulary.
type RentalsAPI struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRentalsAPI creates the residential rentals provider.
func NewRentalsAPI(baseURL, apiKey string) *RentalsAPI {
	return &RentalsAPI{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
}

func (r *RentalsAPI) Name() string { return "rentals-api" }

type rentalsResponse struct {
	Units []rentalUnit `json:"units"`
}

type rentalUnit struct {
	Address  string `json:"address"`
	Rent     string `json:"rent"`
	Bedrooms int    `json:"bedrooms"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

func (r *RentalsAPI) Search(ctx context.Context, query string, hints Hints) ([]Result, error) {
	params := url.Values{"q": {query}}
	if hints.Location != "" {
		params.Set("city", hints.Location)
	}

	reqURL := fmt.Sprintf("%s/v2/units?%s", r.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rentals-api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rentals-api: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("rentals-api: HTTP %d: %s", resp.StatusCode, body)
	}

	var rr rentalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("rentals-api: decode response: %w", err)
	}

	results := make([]Result, 0, len(rr.Units))
	for _, u := range rr.Units {
		detail := u.Summary
		if u.Bedrooms > 0 {
			detail = fmt.Sprintf("%d BR. %s", u.Bedrooms, u.Summary)
		}
		results = append(results, Result{
			Title:   u.Address,
			Address: u.Address,
			Price:   u.Rent,
			Detail:  detail,
			URL:     u.URL,
		})
	}
	return results, nil
}
