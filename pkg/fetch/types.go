package fetch

import (
	"context"
	"errors"
	"net"
	neturl "net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"safelink/pkg/common"
	"safelink/pkg/rank"
)

var (
	ErrNoAddress = errors.New("host has no A or AAAA records")
	ErrNotHTML   = errors.New("response is not an HTML document")
)

// DomainRecord is the resolved and registration state of a host.
// WHOIS fields stay nil when the registry lookup fails.
type DomainRecord struct {
	Host      string
	Apex      string
	IPs       []net.IP
	Name      string // domain name reported by WHOIS
	Registrar string
	CreatedAt *time.Time
	ExpiresAt *time.Time
	WhoisErr  error
}

// PageSnapshot is the fetched landing page and its parsed DOM.
type PageSnapshot struct {
	RequestURL  *neturl.URL
	FinalURL    *neturl.URL
	StatusCode  int
	Redirects   int
	ContentType string
	HTML        string
	Doc         *goquery.Document
}

// IndexRecord is the search-index presence of a site.
type IndexRecord struct {
	Domain   string
	Captures int
}

func (r *IndexRecord) Indexed() bool {
	return r != nil && r.Captures > 0
}

// Sources performs the network operations behind every shared resource.
// Implementations must honor ctx cancellation.
type Sources interface {
	LookupDomain(ctx context.Context, t *common.Target) (*DomainRecord, error)
	FetchPage(ctx context.Context, t *common.Target) (*PageSnapshot, error)
	LookupRank(ctx context.Context, t *common.Target) (*rank.Result, error)
	LookupIndex(ctx context.Context, t *common.Target) (*IndexRecord, error)
}

// Timeouts bound each resource fetch. They nest under the call deadline.
type Timeouts struct {
	Domain   time.Duration
	Page     time.Duration
	External time.Duration
}
