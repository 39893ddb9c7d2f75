package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/httpkit"
	"github.com/porterlabs/porter-agent/internal/tasks"
)

// lookupTimeout bounds one business data call, matching the per-provider
// bound the search chain applies. The conversation must not stall on a
// slow backend.
const lookupTimeout = 3 * time.Second

// BusinessClient queries the business data service for account-scoped
// records: portfolio metrics, lease rolls, occupancy figures.
type BusinessClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewBusinessClient creates a business data client.
func NewBusinessClient(baseURL, apiKey string) *BusinessClient {
	return &BusinessClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    lookupTimeout,
		httpClient: httpkit.NewClient(),
	}
}

type businessRecord struct {
	Metric string `json:"metric"`
	Value  string `json:"value"`
	Period string `json:"period,omitempty"`
	Caveat string `json:"caveat,omitempty"`
}

type businessResponse struct {
	Records []businessRecord `json:"records"`
}

// Lookup fetches records for one organization, optionally filtered by
// metric name.
func (b *BusinessClient) Lookup(ctx context.Context, orgID, metric string) ([]businessRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	params := url.Values{}
	if metric != "" {
		params.Set("metric", metric)
	}

	reqURL := fmt.Sprintf("%s/v1/orgs/%s/records?%s", b.baseURL, url.PathEscape(orgID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("business: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("business: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("business: HTTP %d: %s", resp.StatusCode, body)
	}

	var br businessResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("business: decode response: %w", err)
	}
	return br.Records, nil
}

// NewBusinessLookupTool builds the business_lookup tool. It requires a
// resolved organization on the user context; anonymous senders get a
// structured refusal, not an error.
func NewBusinessLookupTool(client *BusinessClient) *Tool {
	return &Tool{
		Name: "business_lookup",
		Description: "Look up account-specific business data for the caller's organization: " +
			"portfolio metrics, occupancy, lease information. Use for questions about " +
			"'my' or 'our' data.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"metric": map[string]any{
					"type":        "string",
					"description": "Metric or record type to look up, e.g. 'occupancy', 'lease_roll'. Empty returns a summary.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, user *convo.UserContext) (Outcome, error) {
			if user == nil || user.OrganizationID == "" {
				return Outcome{
					Tool:    "business_lookup",
					Success: false,
					ErrKind: ErrKindBadArgs,
					Message: "I don't have an account on file for this number, so I can't pull up business data.",
				}, nil
			}

			metric, _ := args["metric"].(string)
			records, err := client.Lookup(ctx, user.OrganizationID, metric)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return Outcome{Tool: "business_lookup", Success: false, ErrKind: ErrKindTimeout,
						Message: "The business data service timed out."}, nil
				}
				return Outcome{}, err
			}
			if len(records) == 0 {
				return Outcome{
					Tool:    "business_lookup",
					Success: false,
					ErrKind: ErrKindNotFound,
					Message: "I couldn't find that in your account data.",
				}, nil
			}

			payload, _ := json.Marshal(records)
			return Outcome{
				Tool:    "business_lookup",
				Success: true,
				Payload: string(payload),
				Message: fmt.Sprintf("Found %d record(s) in your account data.", len(records)),
			}, nil
		},
	}
}

// NewRecordMissingInfoTool builds the record_missing_info tool, which
// files a follow-up task when a caller asked about data no provider had.
func NewRecordMissingInfoTool(store *tasks.Store) *Tool {
	return &Tool{
		Name: "record_missing_info",
		Description: "Record that the caller asked about data we don't have, so the team " +
			"can follow up. Use after a lookup came back empty.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"note": map[string]any{
					"type":        "string",
					"description": "What the caller asked for that was missing.",
				},
			},
			"required": []string{"note"},
		},
		Handler: func(ctx context.Context, args map[string]any, user *convo.UserContext) (Outcome, error) {
			note, _ := args["note"].(string)
			note = strings.TrimSpace(note)
			if note == "" {
				return Outcome{
					Tool:    "record_missing_info",
					Success: false,
					ErrKind: ErrKindBadArgs,
					Message: "A note describing the missing data is required.",
				}, nil
			}

			identityID := ""
			if user != nil {
				identityID = user.IdentityID
			}
			store.Add(tasks.Task{
				ID:         uuid.NewString(),
				IdentityID: identityID,
				Category:   "missing_data",
				Note:       note,
			})

			return Outcome{
				Tool:    "record_missing_info",
				Success: true,
				Message: "Noted. The team will follow up on that.",
			}, nil
		},
	}
}
