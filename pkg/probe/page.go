package probe

import (
	"fmt"
	neturl "net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"safelink/pkg/common"
	"safelink/pkg/config"
	"safelink/pkg/fetch"
)

var (
	mailPattern        = regexp.MustCompile(`(?i)mailto:|\bmail\s*\(`)
	statusBarPattern   = regexp.MustCompile(`(?i)window\.status\s*=`)
	rightClickPattern  = regexp.MustCompile(`(?i)event\.button\s*={2,3}\s*2|oncontextmenu\s*=\s*["']?\s*return\s+false|addEventListener\(\s*["']contextmenu`)
	popupPattern       = regexp.MustCompile(`(?i)window\.open\s*\(|\bprompt\s*\(`)
	alertPattern       = regexp.MustCompile(`(?i)\balert\s*\(`)
	borderlessPattern  = regexp.MustCompile(`(?i)border\s*:\s*(0|none)|display\s*:\s*none|visibility\s*:\s*hidden`)
	onMouseoverPattern = regexp.MustCompile(`(?i)onmouseover`)
)

func page(in *Input) (*fetch.PageSnapshot, error) {
	if in.Page == nil || in.Page.Doc == nil {
		return nil, fmt.Errorf("%w: page snapshot", ErrMissingInput)
	}
	return in.Page, nil
}

// siteHost is the host page references are judged against: the landing
// page after redirects when a page was fetched, otherwise the target.
func siteHost(in *Input) string {
	if in.Page != nil && in.Page.FinalURL != nil && in.Page.FinalURL.Hostname() != "" {
		return in.Page.FinalURL.Hostname()
	}
	return in.Target.Host
}

// foreign reports whether ref points off the landing site's registrable
// domain. Relative references are local.
func foreign(in *Input, ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	u, err := neturl.Parse(ref)
	if err != nil {
		return true
	}
	if u.Host == "" {
		return false
	}
	return !common.SameSite(u.Hostname(), siteHost(in))
}

// foreignShare returns the share of attr values in sel that are foreign and
// the number of values seen.
func foreignShare(in *Input, sel *goquery.Selection, attr string) (float64, int) {
	total, ext := 0, 0
	sel.Each(func(_ int, s *goquery.Selection) {
		v, ok := s.Attr(attr)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		total++
		if foreign(in, v) {
			ext++
		}
	})
	if total == 0 {
		return 0, 0
	}
	return float64(ext) / float64(total), total
}

func favicon(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	bad := false
	p.Doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "icon") {
			return
		}
		if href, _ := s.Attr("href"); foreign(in, href) {
			bad = true
		}
	})
	return signal(bad), nil
}

func requestURL(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	share, n := foreignShare(in, p.Doc.Find("img, audio, video, source, embed, iframe"), "src")
	if n == 0 {
		return config.Legitimate, nil
	}
	switch {
	case share < 0.22:
		return config.Legitimate, nil
	case share <= 0.61:
		return config.Suspicious, nil
	}
	return config.Phishing, nil
}

func unsafeAnchor(in *Input, href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	return h == "" ||
		strings.HasPrefix(h, "#") ||
		strings.HasPrefix(h, "javascript:") ||
		strings.HasPrefix(h, "mailto:") ||
		foreign(in, href)
}

func anchorURL(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	// Named anchors without href are jump targets, not links.
	anchors := p.Doc.Find("a[href]")
	if anchors.Length() == 0 {
		return config.Suspicious, nil
	}
	unsafe := 0
	anchors.Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if unsafeAnchor(in, href) {
			unsafe++
		}
	})
	share := float64(unsafe) / float64(anchors.Length())
	switch {
	case share < 0.31:
		return config.Legitimate, nil
	case share <= 0.67:
		return config.Suspicious, nil
	}
	return config.Phishing, nil
}

func linksInScriptTags(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	linkShare, links := foreignShare(in, p.Doc.Find("link"), "href")
	scriptShare, scripts := foreignShare(in, p.Doc.Find("script"), "src")
	total := links + scripts
	if total == 0 {
		return config.Legitimate, nil
	}
	share := (linkShare*float64(links) + scriptShare*float64(scripts)) / float64(total)
	switch {
	case share < 0.17:
		return config.Legitimate, nil
	case share <= 0.81:
		return config.Suspicious, nil
	}
	return config.Phishing, nil
}

func serverFormHandler(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	forms := p.Doc.Find("form")
	if forms.Length() == 0 {
		return config.Legitimate, nil
	}
	result := config.Legitimate
	forms.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		action, _ := s.Attr("action")
		action = strings.ToLower(strings.TrimSpace(action))
		switch {
		case action == "" || action == "about:blank":
			result = config.Phishing
			return false
		case foreign(in, action):
			result = config.Suspicious
		}
		return true
	})
	return result, nil
}

func infoEmail(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	return signal(mailPattern.MatchString(p.HTML)), nil
}

func websiteForwarding(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	switch {
	case p.Redirects <= 1:
		return config.Legitimate, nil
	case p.Redirects <= 4:
		return config.Suspicious, nil
	}
	return config.Phishing, nil
}

// statusBarCust flags mouseover handlers, inline or scripted, and direct
// status bar rewrites.
func statusBarCust(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	if p.Doc.Find("[onmouseover]").Length() > 0 || statusBarPattern.MatchString(p.HTML) {
		return config.Phishing, nil
	}
	scripted := false
	p.Doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		scripted = onMouseoverPattern.MatchString(s.Text())
		return !scripted
	})
	return signal(scripted), nil
}

func disableRightClick(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	return signal(rightClickPattern.MatchString(p.HTML)), nil
}

func usingPopupWindow(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	switch {
	case popupPattern.MatchString(p.HTML):
		return config.Phishing, nil
	case alertPattern.MatchString(p.HTML):
		return config.Suspicious, nil
	}
	return config.Legitimate, nil
}

func borderless(s *goquery.Selection) bool {
	if fb, ok := s.Attr("frameborder"); ok {
		fb = strings.ToLower(strings.TrimSpace(fb))
		if fb == "0" || fb == "no" {
			return true
		}
	}
	if style, ok := s.Attr("style"); ok && borderlessPattern.MatchString(style) {
		return true
	}
	w, _ := s.Attr("width")
	h, _ := s.Attr("height")
	return strings.TrimSpace(w) == "0" || strings.TrimSpace(h) == "0"
}

func iframeRedirection(in *Input) (float64, error) {
	p, err := page(in)
	if err != nil {
		return 0, err
	}
	frames := p.Doc.Find("iframe, frame")
	if frames.Length() == 0 {
		return config.Legitimate, nil
	}
	hidden := false
	frames.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		hidden = borderless(s)
		return !hidden
	})
	if hidden {
		return config.Phishing, nil
	}
	return config.Suspicious, nil
}
