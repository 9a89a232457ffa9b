package probe

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"safelink/pkg/config"
	"safelink/pkg/rank"
)

// Sites ranked inside this position count as high-traffic.
const trafficRankCutoff = 100000

const minPageRank = 2.0

func websiteTraffic(in *Input) (float64, error) {
	r := in.Rank
	if r == nil {
		return 0, fmt.Errorf("%w: rank", ErrMissingInput)
	}
	switch {
	case !r.Found || r.Rank <= 0:
		return config.Phishing, nil
	case r.Rank < trafficRankCutoff:
		return config.Legitimate, nil
	}
	return config.Suspicious, nil
}

func pageRank(in *Input) (float64, error) {
	r := in.Rank
	if r == nil {
		return 0, fmt.Errorf("%w: rank", ErrMissingInput)
	}
	return signal(!r.Found || r.PageRankDecimal < minPageRank), nil
}

func googleIndex(in *Input) (float64, error) {
	if in.Index == nil {
		return 0, fmt.Errorf("%w: index", ErrMissingInput)
	}
	return signal(!in.Index.Indexed()), nil
}

// linksPointingToPage counts anchors on the page that stay on the site.
func linksPointingToPage(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	n := 0
	p.Doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		h := strings.ToLower(strings.TrimSpace(href))
		if h == "" || strings.HasPrefix(h, "#") || strings.HasPrefix(h, "javascript:") || strings.HasPrefix(h, "mailto:") {
			return
		}
		if !foreign(in, href) {
			n++
		}
	})
	switch {
	case n == 0:
		return config.Phishing, nil
	case n <= 2:
		return config.Suspicious, nil
	}
	return config.Legitimate, nil
}

// statsReport checks the host and its addresses against abuse lists.
func statsReport(bl *rank.Blocklist) EvalFunc {
	return func(in *Input) (float64, error) {
		if in.Domain == nil {
			return 0, fmt.Errorf("%w: domain record", ErrMissingInput)
		}
		return signal(bl.Listed(in.Target.Raw, in.Target.Host, in.Domain.IPs)), nil
	}
}
