package extract

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"safelink/pkg/common"
	"safelink/pkg/config"
	"safelink/pkg/fetch"
	"safelink/pkg/probe"
	"safelink/pkg/rank"
)

const cleanPage = `<html><head>
<link rel="icon" href="/favicon.ico">
<script src="/static/app.js"></script>
</head><body>
<a href="/about">About</a><a href="/contact">Contact</a><a href="https://help.example.com/">Help</a>
<form action="/search"><input name="q"></form>
<img src="/logo.png">
</body></html>`

// fakeSources answers from fixed values, optionally after a delay that
// ignores cancellation.
type fakeSources struct {
	domain    *fetch.DomainRecord
	domainErr error
	page      string
	pageErr   error
	pageDelay time.Duration
	rank      *rank.Result
	index     *fetch.IndexRecord

	calls map[string]*atomic.Int32
}

func newFakeSources() *fakeSources {
	created := time.Date(1995, 8, 14, 0, 0, 0, 0, time.UTC)
	expires := time.Date(2030, 8, 13, 0, 0, 0, 0, time.UTC)
	return &fakeSources{
		domain: &fetch.DomainRecord{
			Name:      "example.com",
			IPs:       []net.IP{net.ParseIP("93.184.216.34")},
			CreatedAt: &created,
			ExpiresAt: &expires,
		},
		page:  cleanPage,
		rank:  &rank.Result{Domain: "example.com", Found: true, Rank: 500, PageRankDecimal: 5.2},
		index: &fetch.IndexRecord{Domain: "example.com", Captures: 1},
		calls: map[string]*atomic.Int32{
			fetch.KeyDomain: {}, fetch.KeyPage: {}, fetch.KeyRank: {}, fetch.KeyIndex: {},
		},
	}
}

func (f *fakeSources) LookupDomain(ctx context.Context, t *common.Target) (*fetch.DomainRecord, error) {
	f.calls[fetch.KeyDomain].Add(1)
	if f.domainErr != nil {
		return nil, f.domainErr
	}
	return f.domain, nil
}

func (f *fakeSources) FetchPage(ctx context.Context, t *common.Target) (*fetch.PageSnapshot, error) {
	f.calls[fetch.KeyPage].Add(1)
	if f.pageDelay > 0 {
		time.Sleep(f.pageDelay)
	}
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return fetch.NewPageSnapshot(t.URL, nil, f.page)
}

func (f *fakeSources) LookupRank(ctx context.Context, t *common.Target) (*rank.Result, error) {
	f.calls[fetch.KeyRank].Add(1)
	return f.rank, nil
}

func (f *fakeSources) LookupIndex(ctx context.Context, t *common.Target) (*fetch.IndexRecord, error) {
	f.calls[fetch.KeyIndex].Add(1)
	return f.index, nil
}

func testConfig() config.ExtractionConfig {
	return config.ExtractionConfig{
		CallDeadline:    2 * time.Second,
		DomainTimeout:   time.Second,
		PageTimeout:     time.Second,
		ExternalTimeout: time.Second,
		ProbeTimeout:    500 * time.Millisecond,
		Workers:         4,
	}
}

func setupExtractor(t *testing.T, src fetch.Sources, cfg config.ExtractionConfig) *Extractor {
	t.Helper()
	reg, err := probe.NewDefaultRegistry(nil)
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}
	clock := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return New(reg, src, cfg, zerolog.Nop(), WithClock(clock))
}

func TestExtractEstablishedSite(t *testing.T) {
	src := newFakeSources()
	ext := setupExtractor(t, src, testConfig())

	report := ext.Extract(context.Background(), "https://www.example.com/")

	if len(report.Vector) != 30 || len(report.Slots) != 30 {
		t.Fatalf("vector has %d values and %d slots, want 30", len(report.Vector), len(report.Slots))
	}
	if report.URL != "https://www.example.com/" {
		t.Errorf("URL = %q", report.URL)
	}
	if report.ID == "" {
		t.Error("report has no ID")
	}
	for i, name := range report.Names {
		if report.Vector[i] != config.Legitimate {
			t.Errorf("%s = %v (%s), want 1", name, report.Vector[i], report.Slots[name].Error)
		}
	}
	if n := report.FallbackCount(); n != 0 {
		t.Errorf("FallbackCount = %d, errors: %v", n, report.ExtractionErrors)
	}
	for key, n := range src.calls {
		if got := n.Load(); got != 1 {
			t.Errorf("%s fetched %d times, want 1", key, got)
		}
	}
}

func TestExtractIPHost(t *testing.T) {
	src := newFakeSources()
	ext := setupExtractor(t, src, testConfig())

	report := ext.Extract(context.Background(), "http://192.168.1.1/login")
	features := report.Features()
	for id, want := range map[string]float64{"UsingIP": -1, "SubDomains": -1, "HTTPS": -1} {
		if features[id] != want {
			t.Errorf("%s = %v, want %v", id, features[id], want)
		}
	}
}

func TestExtractUnresolvableHost(t *testing.T) {
	src := newFakeSources()
	src.domainErr = fmt.Errorf("%w: nx.example", fetch.ErrNoAddress)
	ext := setupExtractor(t, src, testConfig())

	report := ext.Extract(context.Background(), "https://www.example.com/")

	for _, id := range []string{"DomainRegLen", "NonStdPort", "AbnormalURL", "AgeofDomain", "DNSRecording"} {
		slot := report.Slots[id]
		if !slot.FallbackUsed || slot.Value != config.Phishing {
			t.Errorf("%s = %+v, want phishing fallback", id, slot)
		}
	}
	if slot := report.Slots["StatsReport"]; !slot.FallbackUsed || slot.Value != config.Suspicious {
		t.Errorf("StatsReport = %+v, want neutral fallback", slot)
	}
	for _, id := range []string{"UsingIP", "LongURL", "HTTPS", "Favicon", "PageRank"} {
		if slot := report.Slots[id]; slot.FallbackUsed {
			t.Errorf("%s fell back: %s", id, slot.Error)
		}
	}
	if n := src.calls[fetch.KeyDomain].Load(); n != 1 {
		t.Errorf("domain fetched %d times, want 1", n)
	}
	if len(report.ExtractionErrors) != 6 {
		t.Errorf("ExtractionErrors = %v", report.ExtractionErrors)
	}
}

func TestExtractSlowPage(t *testing.T) {
	src := newFakeSources()
	src.pageDelay = 2 * time.Second
	cfg := testConfig()
	cfg.CallDeadline = 200 * time.Millisecond
	cfg.DomainTimeout = 150 * time.Millisecond
	cfg.PageTimeout = 150 * time.Millisecond
	cfg.ExternalTimeout = 150 * time.Millisecond
	cfg.ProbeTimeout = 50 * time.Millisecond
	ext := setupExtractor(t, src, cfg)

	start := time.Now()
	report := ext.Extract(context.Background(), "https://www.example.com/")
	elapsed := time.Since(start)

	if limit := cfg.CallDeadline + DefaultGrace + 500*time.Millisecond; elapsed > limit {
		t.Errorf("Extract took %s, want under %s", elapsed, limit)
	}
	if len(report.Vector) != 30 {
		t.Fatalf("vector length = %d", len(report.Vector))
	}
	for _, id := range []string{"Favicon", "RequestURL", "WebsiteForwarding", "IframeRedirection"} {
		if slot := report.Slots[id]; !slot.FallbackUsed || slot.Value != config.Phishing {
			t.Errorf("%s = %+v, want phishing fallback", id, slot)
		}
	}
	if slot := report.Slots["LinksPointingToPage"]; !slot.FallbackUsed || slot.Value != config.Suspicious {
		t.Errorf("LinksPointingToPage = %+v, want neutral fallback", slot)
	}
	for _, id := range []string{"UsingIP", "DNSRecording", "PageRank"} {
		if slot := report.Slots[id]; slot.FallbackUsed {
			t.Errorf("%s fell back: %s", id, slot.Error)
		}
	}
}

func TestExtractInvalidURL(t *testing.T) {
	src := newFakeSources()
	ext := setupExtractor(t, src, testConfig())

	for _, raw := range []string{"", "ftp://example.com/file", "http://"} {
		report := ext.Extract(context.Background(), raw)
		if !report.Invalid {
			t.Errorf("%q: Invalid = false", raw)
		}
		if len(report.Vector) != 30 {
			t.Fatalf("%q: vector length = %d", raw, len(report.Vector))
		}
		for i, v := range report.Vector {
			if v != config.Phishing {
				t.Errorf("%q: slot %d = %v, want -1", raw, i, v)
			}
		}
		if report.FallbackCount() != 30 {
			t.Errorf("%q: FallbackCount = %d", raw, report.FallbackCount())
		}
	}
	for key, n := range src.calls {
		if got := n.Load(); got != 0 {
			t.Errorf("%s fetched %d times for invalid URLs", key, got)
		}
	}
}

func TestExtractIdempotent(t *testing.T) {
	ext := setupExtractor(t, newFakeSources(), testConfig())

	first := ext.Extract(context.Background(), "http://Login.Secure-Bank.example.com:8080/verify?id=1#top")
	second := ext.Extract(context.Background(), first.URL)
	if first.URL != second.URL {
		t.Errorf("URL changed: %q -> %q", first.URL, second.URL)
	}
	if !reflect.DeepEqual(first.Vector, second.Vector) {
		t.Errorf("vectors differ:\n%v\n%v", first.Vector, second.Vector)
	}
}

func TestExtractConcurrentCalls(t *testing.T) {
	src := newFakeSources()
	ext := setupExtractor(t, src, testConfig())

	var wg sync.WaitGroup
	reports := make([]*config.Report, 8)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = ext.Extract(context.Background(), "https://www.example.com/")
		}(i)
	}
	wg.Wait()

	for i, r := range reports {
		if !reflect.DeepEqual(r.Vector, reports[0].Vector) {
			t.Errorf("report %d vector = %v", i, r.Vector)
		}
	}
	// Each call has its own cache.
	if n := src.calls[fetch.KeyPage].Load(); n != int32(len(reports)) {
		t.Errorf("page fetched %d times, want %d", n, len(reports))
	}
}

func TestExtractIsolatesProbeFaults(t *testing.T) {
	reg := probe.NewRegistry()
	defs := []probe.Definition{
		{ID: "Steady", Index: 0, Fallback: config.Phishing, Values: probe.Binary, Eval: func(*probe.Input) (float64, error) {
			return config.Legitimate, nil
		}},
		{ID: "Broken", Index: 1, Fallback: config.Phishing, Values: probe.Binary, Eval: func(in *probe.Input) (float64, error) {
			var p *fetch.PageSnapshot
			return float64(p.Redirects), nil
		}},
		{ID: "NeedsPage", Index: 2, Kind: probe.Page, Needs: probe.NeedsPage, Fallback: config.Phishing, Values: probe.Ternary, Eval: func(in *probe.Input) (float64, error) {
			return config.Suspicious, nil
		}},
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := reg.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	src := newFakeSources()
	ext := New(reg, src, testConfig(), zerolog.Nop())
	report := ext.Extract(context.Background(), "https://example.com/")

	want := config.Vector{config.Legitimate, config.Phishing, config.Suspicious}
	if !reflect.DeepEqual(report.Vector, want) {
		t.Errorf("Vector = %v, want %v", report.Vector, want)
	}
	if !report.Slots["Broken"].FallbackUsed {
		t.Error("Broken slot not marked as fallback")
	}
	// Only resources some probe declares are fetched.
	if n := src.calls[fetch.KeyDomain].Load(); n != 0 {
		t.Errorf("domain fetched %d times, want 0", n)
	}
	if n := src.calls[fetch.KeyPage].Load(); n != 1 {
		t.Errorf("page fetched %d times, want 1", n)
	}
}

func TestExtractCancelledContext(t *testing.T) {
	src := newFakeSources()
	src.pageDelay = time.Second
	ext := setupExtractor(t, src, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	report := ext.Extract(ctx, "https://www.example.com/")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Extract took %s with a cancelled context", elapsed)
	}
	if len(report.Vector) != 30 || len(report.Slots) != 30 {
		t.Errorf("incomplete report: %d values, %d slots", len(report.Vector), len(report.Slots))
	}
}
