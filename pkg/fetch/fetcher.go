package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"safelink/pkg/common"
	"safelink/pkg/config"
	"safelink/pkg/rank"
)

// Fetcher performs the live network operations for every shared resource.
// It holds no per-target state and is safe for concurrent use.
type Fetcher struct {
	httpClient  *http.Client
	dnsClient   *dns.Client
	whoisClient *whois.Client
	resolver    string
	userAgent   string
	maxBody     int64

	opr     *rank.OpenPageRank
	wayback *rank.Wayback
	log     zerolog.Logger
}

// NewFetcher creates a Fetcher from the loaded configuration.
func NewFetcher(cfg *config.Config, log zerolog.Logger) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Extraction.PageTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: cfg.Extraction.PageTimeout,
		// Phishing pages routinely present invalid certificates; the page is
		// inspected, never trusted.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	maxRedirects := cfg.HTTP.MaxRedirects
	httpClient := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	apiClient := &http.Client{Timeout: cfg.Extraction.ExternalTimeout}

	return &Fetcher{
		httpClient:  httpClient,
		dnsClient:   &dns.Client{Timeout: cfg.Extraction.DomainTimeout},
		whoisClient: whois.NewClient(),
		resolver:    cfg.DNS.Resolver,
		userAgent:   cfg.HTTP.UserAgent,
		maxBody:     cfg.HTTP.MaxBodyBytes,
		opr:         rank.NewOpenPageRank(cfg.Rank.OpenPageRankURL, cfg.Rank.APIKey, cfg.Rank.RequestsPerSecond, apiClient),
		wayback:     rank.NewWayback(cfg.Rank.WaybackURL, apiClient),
		log:         log,
	}
}

// LookupDomain resolves the host and queries WHOIS for its apex domain.
// A WHOIS failure is recorded on the record; only resolution failure is
// returned as an error.
func (f *Fetcher) LookupDomain(ctx context.Context, t *common.Target) (*DomainRecord, error) {
	rec := &DomainRecord{Host: t.Host, Apex: t.Apex}

	if t.IsIP {
		ip := common.HostIP(t.Host)
		if ip == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoAddress, t.Host)
		}
		rec.IPs = []net.IP{ip}
		return rec, nil
	}

	ips, err := f.resolve(ctx, t.Host)
	if err != nil {
		return nil, err
	}
	rec.IPs = ips

	if t.Apex != "" {
		if err := f.lookupWhois(ctx, t.Apex, rec); err != nil {
			rec.WhoisErr = err
			f.log.Debug().Err(err).Str("domain", t.Apex).Msg("whois lookup failed")
		}
	}
	return rec, nil
}

// resolve queries A then AAAA records from the configured resolver.
func (f *Fetcher) resolve(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		in, _, err := f.dnsClient.ExchangeContext(ctx, m, f.resolver)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dns lookup for '%s' failed: %w", host, ctx.Err())
			}
			continue
		}
		if in.Rcode == dns.RcodeNameError {
			return nil, fmt.Errorf("%w: %s (NXDOMAIN)", ErrNoAddress, host)
		}
		for _, rr := range in.Answer {
			switch r := rr.(type) {
			case *dns.A:
				ips = append(ips, r.A)
			case *dns.AAAA:
				ips = append(ips, r.AAAA)
			}
		}
		if len(ips) > 0 {
			return ips, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("dns lookup for '%s' failed: %w", host, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAddress, host)
}

// lookupWhois fills the registration fields of rec.
func (f *Fetcher) lookupWhois(ctx context.Context, apex string, rec *DomainRecord) error {
	type whoisResult struct {
		raw string
		err error
	}
	resultChan := make(chan whoisResult, 1)

	go func() {
		raw, err := f.whoisClient.Whois(apex)
		resultChan <- whoisResult{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.err != nil {
			return fmt.Errorf("whois lookup for '%s' failed: %w", apex, res.err)
		}
		return fillWhois(apex, res.raw, rec)
	}
}

// fillWhois parses a raw WHOIS response into rec.
func fillWhois(apex, raw string, rec *DomainRecord) (err error) {
	// whois-parser panics on some malformed registry responses.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic in whoisparser for domain %s: %v", apex, r)
		}
	}()

	result, parseErr := whoisparser.Parse(raw)
	if parseErr != nil {
		return fmt.Errorf("whoisparser for '%s' failed: %w", apex, parseErr)
	}
	if result.Domain == nil {
		return fmt.Errorf("whois for '%s' has no domain section", apex)
	}

	rec.Name = strings.ToLower(result.Domain.Domain)
	if rec.Name == "" {
		rec.Name = strings.ToLower(result.Domain.Punycode)
	}
	if result.Registrar != nil {
		rec.Registrar = result.Registrar.Name
	}
	if created, ok := common.ParseWhoisDate(result.Domain.CreatedDate); ok {
		rec.CreatedAt = &created
	}
	if expires, ok := common.ParseWhoisDate(result.Domain.ExpirationDate); ok {
		rec.ExpiresAt = &expires
	}
	return nil
}

// FetchPage downloads the target page, decodes it to UTF-8 and parses the DOM.
func (f *Fetcher) FetchPage(ctx context.Context, t *common.Target) (*PageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !isMarkup(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, contentType)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBody), contentType)
	if err != nil {
		return nil, fmt.Errorf("charset detection failed: %w", err)
	}
	raw, err := io.ReadAll(body)
	if err != nil && len(raw) == 0 {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return NewPageSnapshot(t.URL, resp, string(raw))
}

// NewPageSnapshot parses markup fetched for requestURL. resp supplies the
// final URL, status and redirect chain.
func NewPageSnapshot(requestURL *neturl.URL, resp *http.Response, markup string) (*PageSnapshot, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("html parse failed: %w", err)
	}

	snap := &PageSnapshot{
		RequestURL:  requestURL,
		FinalURL:    requestURL,
		HTML:        markup,
		Doc:         goquery.NewDocumentFromNode(root),
		ContentType: "text/html",
	}
	if resp != nil {
		snap.StatusCode = resp.StatusCode
		snap.ContentType = resp.Header.Get("Content-Type")
		snap.Redirects = RedirectCount(resp)
		if resp.Request != nil && resp.Request.URL != nil {
			snap.FinalURL = resp.Request.URL
		}
	}
	snap.Doc.Url = snap.FinalURL
	return snap, nil
}

// RedirectCount walks the response chain back to the first request.
func RedirectCount(resp *http.Response) int {
	n := 0
	for r := resp; r != nil && r.Request != nil && r.Request.Response != nil; r = r.Request.Response {
		n++
	}
	return n
}

func isMarkup(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html") || strings.HasPrefix(ct, "text/") || strings.Contains(ct, "xml")
}

// LookupRank queries Open PageRank for the apex domain.
func (f *Fetcher) LookupRank(ctx context.Context, t *common.Target) (*rank.Result, error) {
	res, err := f.opr.Lookup(ctx, lookupName(t))
	if err != nil {
		if !errors.Is(err, rank.ErrNoAPIKey) {
			f.log.Debug().Err(err).Str("host", t.Host).Msg("page rank lookup failed")
		}
		return nil, err
	}
	return res, nil
}

// LookupIndex checks whether the archive holds captures of the apex domain.
func (f *Fetcher) LookupIndex(ctx context.Context, t *common.Target) (*IndexRecord, error) {
	name := lookupName(t)
	n, err := f.wayback.Captures(ctx, name, 1)
	if err != nil {
		return nil, err
	}
	return &IndexRecord{Domain: name, Captures: n}, nil
}

func lookupName(t *common.Target) string {
	if t.Apex != "" {
		return t.Apex
	}
	return t.Host
}
