package probe

import (
	"fmt"

	"safelink/pkg/config"
	"safelink/pkg/rank"
)

// Schema returns the trained feature schema. A nil blocklist uses the
// built-in lists.
// Index order must not change without retraining the classifier.
func Schema(bl *rank.Blocklist) []Definition {
	if bl == nil {
		bl, _ = rank.NewBlocklist(nil)
	}
	lexical := func(id string, index int, values []float64, eval EvalFunc) Definition {
		return Definition{ID: id, Index: index, Kind: Lexical, Needs: NeedsNothing, Fallback: config.Phishing, Values: values, Eval: eval}
	}
	domain := func(id string, index int, eval EvalFunc) Definition {
		return Definition{ID: id, Index: index, Kind: Domain, Needs: NeedsDomain, Fallback: config.Phishing, Values: Binary, Eval: eval}
	}
	pg := func(id string, index int, values []float64, eval EvalFunc) Definition {
		return Definition{ID: id, Index: index, Kind: Page, Needs: NeedsPage, Fallback: config.Phishing, Values: values, Eval: eval}
	}
	external := func(id string, index int, needs Resource, values []float64, eval EvalFunc) Definition {
		return Definition{ID: id, Index: index, Kind: External, Needs: needs, Fallback: config.Suspicious, Values: values, Eval: eval}
	}

	return []Definition{
		lexical("UsingIP", 0, Binary, usingIP),
		lexical("LongURL", 1, Ternary, longURL),
		lexical("ShortURL", 2, Binary, shortURL),
		lexical("Symbol@", 3, Binary, atSymbol),
		lexical("Redirecting//", 4, Binary, doubleSlashRedirect),
		lexical("PrefixSuffix-", 5, Binary, prefixSuffix),
		lexical("SubDomains", 6, Ternary, subDomains),
		lexical("HTTPS", 7, Binary, https),
		domain("DomainRegLen", 8, domainRegLen),
		pg("Favicon", 9, Binary, favicon),
		domain("NonStdPort", 10, nonStdPort),
		lexical("HTTPSDomainURL", 11, Binary, httpsInHost),
		pg("RequestURL", 12, Ternary, requestURL),
		pg("AnchorURL", 13, Ternary, anchorURL),
		pg("LinksInScriptTags", 14, Ternary, linksInScriptTags),
		pg("ServerFormHandler", 15, Ternary, serverFormHandler),
		pg("InfoEmail", 16, Binary, infoEmail),
		domain("AbnormalURL", 17, abnormalURL),
		pg("WebsiteForwarding", 18, Ternary, websiteForwarding),
		pg("StatusBarCust", 19, Binary, statusBarCust),
		pg("DisableRightClick", 20, Binary, disableRightClick),
		pg("UsingPopupWindow", 21, Ternary, usingPopupWindow),
		pg("IframeRedirection", 22, Ternary, iframeRedirection),
		domain("AgeofDomain", 23, ageOfDomain),
		domain("DNSRecording", 24, dnsRecording),
		external("WebsiteTraffic", 25, NeedsRank, Ternary, websiteTraffic),
		external("PageRank", 26, NeedsRank, Ternary, pageRank),
		external("GoogleIndex", 27, NeedsIndex, Ternary, googleIndex),
		external("LinksPointingToPage", 28, NeedsPage, Ternary, linksPointingToPage),
		external("StatsReport", 29, NeedsDomain, Ternary, statsReport(bl)),
	}
}

// NewDefaultRegistry registers and seals the trained schema.
func NewDefaultRegistry(bl *rank.Blocklist) (*Registry, error) {
	r := NewRegistry()
	for _, d := range Schema(bl) {
		if err := r.Register(d); err != nil {
			return nil, fmt.Errorf("register %s: %w", d.ID, err)
		}
	}
	if err := r.Seal(); err != nil {
		return nil, err
	}
	return r, nil
}

// MustDefaultRegistry is NewDefaultRegistry for process start-up; it panics
// on a misconfigured schema.
func MustDefaultRegistry(bl *rank.Blocklist) *Registry {
	r, err := NewDefaultRegistry(bl)
	if err != nil {
		panic(err)
	}
	return r
}
