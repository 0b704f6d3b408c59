// Package feed implements the client for the commercial threat intelligence
// feed the pipeline collects from.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/ratelimit"

	"github.com/intelwatch/ttpmon/pkg/metrics"
)

const (
	defaultBaseURL = "https://www.virustotal.com/api/v3"

	// pageLimit is the feed's maximum relationship page size.
	pageLimit = 40
)

// Client provides authenticated, rate-capped HTTP access to the intelligence
// feed.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    ratelimit.Limiter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a feed client. requestsPerMinute caps outbound calls
// with a leaky bucket; zero or negative disables the cap. m may be nil.
func NewClient(apiKey string, requestsPerMinute int, m *metrics.Metrics) *Client {
	limiter := ratelimit.NewUnlimited()
	if requestsPerMinute > 0 {
		limiter = ratelimit.New(requestsPerMinute, ratelimit.Per(time.Minute))
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		limiter:    limiter,
		metrics:    m,
		logger:     slog.Default(),
	}
}

// listResponse is the feed's common relationship page shape.
type listResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"` // absolute URL of the next page
	} `json:"links"`
}

// behaviourResponse is the per-file sandbox behaviour report, keyed by
// sandbox name.
type behaviourResponse struct {
	Data map[string]struct {
		Tactics []struct {
			Techniques []struct {
				ID string `json:"id"`
			} `json:"techniques"`
		} `json:"tactics"`
	} `json:"data"`
}

// ResolveCollection finds the feed collection id for an actor name via the
// intelligence search endpoint. Both search misses and feed-side rejections
// read as ErrNotFound.
func (c *Client) ResolveCollection(ctx context.Context, name string) (string, error) {
	query := url.Values{
		"query": {fmt.Sprintf("entity:threat_actor %q", name)},
		"limit": {"1"},
	}

	resp, err := c.do(ctx, "search", c.baseURL+"/intelligence/search?"+query.Encode())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Feed search rejected", "actor", name, "status", resp.StatusCode)
		return "", ErrNotFound
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode search response: %v", ErrTransient, err)
	}
	if len(payload.Data) == 0 {
		return "", ErrNotFound
	}
	return payload.Data[0].ID, nil
}

// FetchTechniques pages through a collection's attack_techniques
// relationship and returns the technique codes, deduplicated in first-seen
// order. Any failed page aborts with ErrTransient so a flaky feed is never
// mistaken for a shrunken collection.
func (c *Client) FetchTechniques(ctx context.Context, collectionID string) ([]string, error) {
	next := fmt.Sprintf("%s/collections/%s/relationships/attack_techniques?limit=%d",
		c.baseURL, url.PathEscape(collectionID), pageLimit)

	seen := make(map[string]struct{})
	var codes []string
	for next != "" {
		page, err := c.getPage(ctx, "attack_techniques", next)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Data {
			if item.ID == "" {
				continue
			}
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			codes = append(codes, item.ID)
		}
		next = page.Links.Next
	}
	return codes, nil
}

// FetchFileHashes pages through a collection's files relationship until
// limit hashes are collected or the feed runs out of pages.
func (c *Client) FetchFileHashes(ctx context.Context, collectionID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	pageSize := limit
	if pageSize > pageLimit {
		pageSize = pageLimit
	}
	next := fmt.Sprintf("%s/collections/%s/relationships/files?limit=%d",
		c.baseURL, url.PathEscape(collectionID), pageSize)

	var hashes []string
	for next != "" && len(hashes) < limit {
		page, err := c.getPage(ctx, "files", next)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Data {
			if item.ID != "" {
				hashes = append(hashes, item.ID)
			}
		}
		next = page.Links.Next
	}
	if len(hashes) > limit {
		hashes = hashes[:limit]
	}
	return hashes, nil
}

// FetchFileBehaviour returns the technique codes observed in one file's
// sandbox behaviour report, merged across sandboxes. Every failure reads as
// an empty report: a single unreadable sample must not fail a whole
// fallback pass.
func (c *Client) FetchFileBehaviour(ctx context.Context, fileHash string) []string {
	resp, err := c.do(ctx, "behaviour", fmt.Sprintf("%s/files/%s/behaviour_mitre_trees",
		c.baseURL, url.PathEscape(fileHash)))
	if err != nil {
		c.logger.Warn("Behaviour report fetch failed", "hash", fileHash, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var payload behaviourResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("Behaviour report decode failed", "hash", fileHash, "error", err)
		return nil
	}

	// Sandbox names come back as a JSON object; walk them in sorted order so
	// the merged code list is deterministic.
	sandboxes := make([]string, 0, len(payload.Data))
	for name := range payload.Data {
		sandboxes = append(sandboxes, name)
	}
	sort.Strings(sandboxes)

	seen := make(map[string]struct{})
	var codes []string
	for _, name := range sandboxes {
		for _, tactic := range payload.Data[name].Tactics {
			for _, tech := range tactic.Techniques {
				if tech.ID == "" {
					continue
				}
				if _, ok := seen[tech.ID]; ok {
					continue
				}
				seen[tech.ID] = struct{}{}
				codes = append(codes, tech.ID)
			}
		}
	}
	return codes
}

// FallbackResult carries the technique codes recovered from sandbox
// behaviour reports plus the sample hashes backing each code.
type FallbackResult struct {
	Techniques []string
	Evidence   map[string][]string
}

// FetchTechniquesFromFiles recovers techniques for a collection whose
// attack_techniques relationship came back empty, by walking up to limit of
// its file samples and merging their sandbox behaviour reports. A failure to
// list the samples aborts with ErrTransient; individual unreadable samples
// are skipped.
func (c *Client) FetchTechniquesFromFiles(ctx context.Context, collectionID string, limit int) (*FallbackResult, error) {
	hashes, err := c.FetchFileHashes(ctx, collectionID, limit)
	if err != nil {
		return nil, err
	}

	result := &FallbackResult{Evidence: make(map[string][]string)}
	seen := make(map[string]struct{})
	for _, hash := range hashes {
		for _, code := range c.FetchFileBehaviour(ctx, hash) {
			if _, ok := seen[code]; !ok {
				seen[code] = struct{}{}
				result.Techniques = append(result.Techniques, code)
			}
			result.Evidence[code] = appendUnique(result.Evidence[code], hash)
		}
	}
	return result, nil
}

// getPage fetches and decodes one relationship page.
func (c *Client) getPage(ctx context.Context, endpoint, pageURL string) (*listResponse, error) {
	resp, err := c.do(ctx, endpoint, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Feed page rejected", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: feed returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode page: %v", ErrTransient, err)
	}
	return &page, nil
}

// do performs one authenticated GET, honoring the rate cap.
func (c *Client) do(ctx context.Context, endpoint, rawURL string) (*http.Response, error) {
	c.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordFeedRequest(endpoint, "transport_error")
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	outcome := "ok"
	if resp.StatusCode != http.StatusOK {
		outcome = "http_error"
	}
	c.metrics.RecordFeedRequest(endpoint, outcome)
	return resp, nil
}

func appendUnique(in []string, v string) []string {
	for _, x := range in {
		if x == v {
			return in
		}
	}
	return append(in, v)
}
