package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
)

// Wayback counts Internet Archive CDX captures for a domain. A site the
// archive has crawled is treated as indexed by search engines.
type Wayback struct {
	endpoint string
	client   *http.Client
}

func NewWayback(endpoint string, client *http.Client) *Wayback {
	if client == nil {
		client = http.DefaultClient
	}
	return &Wayback{endpoint: endpoint, client: client}
}

// Captures returns the number of capture rows (at most limit) for domain.
func (w *Wayback) Captures(ctx context.Context, domain string, limit int) (int, error) {
	if limit < 1 {
		limit = 1
	}
	q := neturl.Values{}
	q.Set("url", domain)
	q.Set("output", "json")
	q.Set("limit", fmt.Sprint(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create cdx request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("cdx request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("cdx returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read cdx response: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return 0, nil
	}

	// First row is the field header.
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode cdx response: %w", err)
	}
	if len(rows) <= 1 {
		return 0, nil
	}
	return len(rows) - 1, nil
}
