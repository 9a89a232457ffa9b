package rank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

var ErrNoAPIKey = errors.New("open pagerank API key not configured")

// Result is one domain's entry in an Open PageRank response.
type Result struct {
	Domain          string  `json:"domain"`
	PageRankDecimal float64 `json:"page_rank_decimal"`
	PageRankInteger int     `json:"page_rank_integer"`
	Rank            int64   `json:"rank"`  // global position, 0 when unranked
	Found           bool    `json:"found"` // false for "domain not found" entries
}

// flexNumber accepts numbers, numeric strings, "" and null.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexNumber(v)
	return nil
}

type oprEntry struct {
	StatusCode      int        `json:"status_code"`
	Error           string     `json:"error"`
	PageRankInteger flexNumber `json:"page_rank_integer"`
	PageRankDecimal flexNumber `json:"page_rank_decimal"`
	Rank            flexNumber `json:"rank"`
	Domain          string     `json:"domain"`
}

type oprResponse struct {
	StatusCode int        `json:"status_code"`
	Response   []oprEntry `json:"response"`
}

// OpenPageRank queries the Open PageRank API. One client is shared by all
// extraction calls so its limiter bounds the process-wide request rate.
type OpenPageRank struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewOpenPageRank(endpoint, apiKey string, requestsPerSecond float64, client *http.Client) *OpenPageRank {
	if client == nil {
		client = http.DefaultClient
	}
	var lim *rate.Limiter
	if requestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(requestsPerSecond), int(math.Max(1, requestsPerSecond)))
	}
	return &OpenPageRank{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
		limiter:  lim,
	}
}

// Lookup returns the rank of a single domain.
func (o *OpenPageRank) Lookup(ctx context.Context, domain string) (*Result, error) {
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("open pagerank rate limit: %w", err)
		}
	}

	q := neturl.Values{}
	q.Set("domains[]", domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create open pagerank request: %w", err)
	}
	req.Header.Set("API-OPR", o.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open pagerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open pagerank returned status %d", resp.StatusCode)
	}

	var body oprResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode open pagerank response: %w", err)
	}
	if len(body.Response) == 0 {
		return nil, fmt.Errorf("open pagerank response for %s is empty", domain)
	}

	e := body.Response[0]
	res := &Result{
		Domain:          e.Domain,
		PageRankDecimal: float64(e.PageRankDecimal),
		PageRankInteger: int(e.PageRankInteger),
		Rank:            int64(e.Rank),
		Found:           e.StatusCode == http.StatusOK,
	}
	if !res.Found {
		res.Rank = 0
	}
	return res, nil
}
