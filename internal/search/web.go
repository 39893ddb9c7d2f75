package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/porterlabs/porter-agent/internal/httpkit"
)

// WebSearch implements Provider against a SearXNG-compatible metasearch
// endpoint. It is the chain's last resort. When the engine returns a
// hit without a snippet, the result page is fetched and reduced to
// readable text so the model never sees raw HTML.
type WebSearch struct {
	baseURL    string
	httpClient *http.Client
}

// NewWebSearch creates the generic web search provider.
func NewWebSearch(baseURL string) *WebSearch {
	return &WebSearch{
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
}

func (w *WebSearch) Name() string { return "web-search" }

type webResponse struct {
	Results []webResult `json:"results"`
}

type webResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (w *WebSearch) Search(ctx context.Context, query string, hints Hints) ([]Result, error) {
	q := query
	if hints.Location != "" && !strings.Contains(strings.ToLower(q), strings.ToLower(hints.Location)) {
		q = q + " " + hints.Location
	}

	params := url.Values{
		"q":      {q},
		"format": {"json"},
	}

	reqURL := fmt.Sprintf("%s/search?%s", w.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web-search: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web-search: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("web-search: HTTP %d: %s", resp.StatusCode, body)
	}

	var wr webResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("web-search: decode response: %w", err)
	}

	const maxResults = 5
	results := make([]Result, 0, maxResults)
	for i, r := range wr.Results {
		if i >= maxResults {
			break
		}
		detail := r.Content
		if detail == "" && i == 0 {
			// Only the top hit is worth a page fetch.
			detail = w.fetchReadable(ctx, r.URL)
		}
		results = append(results, Result{
			Title:  r.Title,
			URL:    r.URL,
			Detail: detail,
		})
	}
	return results, nil
}

// fetchReadable retrieves a page and extracts its readable text,
// truncated for model consumption. Best-effort: any failure yields "".
func (w *WebSearch) fetchReadable(ctx context.Context, pageURL string) string {
	if pageURL == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		httpkit.DrainAndClose(resp.Body, 1024)
		return ""
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	extractText(doc, &sb)
	text := collapseWhitespace(sb.String())

	const snippetCeiling = 400
	if len(text) > snippetCeiling {
		text = text[:snippetCeiling] + "..."
	}
	return text
}

// skipElements are HTML elements whose content carries no readable text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

func extractText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && skipElements[n.DataAtom] {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
