package common

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

var (
	whoisCompactDate = regexp.MustCompile(`(\d{8})`)
	hexIPv4          = regexp.MustCompile(`^0x[0-9a-f]{1,8}(\.0x[0-9a-f]{1,2}){0,3}$`)
	decimalIPv4      = regexp.MustCompile(`^\d{8,10}$`)
)

// shorteners is the list of URL shortening services recognised by the ShortURL probe.
var shorteners = map[string]bool{
	"bit.ly": true, "bitly.com": true, "goo.gl": true, "shorte.st": true, "go2l.ink": true,
	"x.co": true, "ow.ly": true, "t.co": true, "tinyurl.com": true, "tr.im": true,
	"is.gd": true, "cli.gs": true, "yfrog.com": true, "migre.me": true, "ff.im": true,
	"tiny.cc": true, "url4.eu": true, "twit.ac": true, "su.pr": true, "twurl.nl": true,
	"snipurl.com": true, "short.to": true, "budurl.com": true, "ping.fm": true, "post.ly": true,
	"just.as": true, "bkite.com": true, "snipr.com": true, "fic.kr": true, "loopt.us": true,
	"doiop.com": true, "short.ie": true, "kl.am": true, "wp.me": true, "rubyurl.com": true,
	"om.ly": true, "to.ly": true, "bit.do": true, "lnkd.in": true, "db.tt": true,
	"qr.ae": true, "adf.ly": true, "cur.lv": true, "ity.im": true, "q.gs": true,
	"po.st": true, "bc.vc": true, "twitthis.com": true, "u.to": true, "j.mp": true,
	"buzurl.com": true, "cutt.us": true, "u.bb": true, "yourls.org": true, "prettylinkpro.com": true,
	"scrnch.me": true, "filoops.info": true, "vzturl.com": true, "qr.net": true, "1url.com": true,
	"tweez.me": true, "v.gd": true, "link.zip.net": true, "rb.gy": true, "cutt.ly": true,
	"shorturl.at": true, "rebrand.ly": true, "t.ly": true, "tiny.one": true,
}

// IsShortener reports whether host, or its registrable domain, is a known shortening service.
func IsShortener(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if shorteners[host] {
		return true
	}
	if apex := ApexDomain(host); apex != "" {
		return shorteners[apex]
	}
	return false
}

// IsIPHost reports whether host is an IP literal, including hex and
// single-integer IPv4 spellings that browsers still accept.
func IsIPHost(host string) bool {
	host = strings.Trim(strings.ToLower(host), "[]")
	if net.ParseIP(host) != nil {
		return true
	}
	return hexIPv4.MatchString(host) || decimalIPv4.MatchString(host)
}

// HostIP returns the address an IP-literal host denotes, decoding the hex
// and single-integer IPv4 spellings. It returns nil for names.
func HostIP(host string) net.IP {
	host = strings.Trim(strings.ToLower(host), "[]")
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	if decimalIPv4.MatchString(host) {
		n, err := strconv.ParseUint(host, 10, 32)
		if err != nil {
			return nil
		}
		return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	if hexIPv4.MatchString(host) {
		parts := strings.Split(host, ".")
		if len(parts) == 1 {
			n, err := strconv.ParseUint(parts[0], 0, 32)
			if err != nil {
				return nil
			}
			return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		}
		if len(parts) != 4 {
			return nil
		}
		var b [4]byte
		for i, p := range parts {
			n, err := strconv.ParseUint(p, 0, 8)
			if err != nil {
				return nil
			}
			b[i] = byte(n)
		}
		return net.IPv4(b[0], b[1], b[2], b[3])
	}
	return nil
}

// ApexDomain returns the eTLD+1 for host, or "" when host is an IP or has no
// registrable part.
func ApexDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || IsIPHost(host) {
		return ""
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return apex
}

// SameSite reports whether two hosts share a registrable domain. Hosts
// without one (IPs, bare labels) must match exactly.
func SameSite(a, b string) bool {
	a = strings.ToLower(strings.TrimSuffix(a, "."))
	b = strings.ToLower(strings.TrimSuffix(b, "."))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	apexA, apexB := ApexDomain(a), ApexDomain(b)
	return apexA != "" && apexA == apexB
}

// SubdomainCount counts labels left of the registrable domain. A leading
// "www" label is not counted.
func SubdomainCount(domain string) int {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	eTLDPlusOne, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return strings.Count(domain, ".")
	}
	if len(domain) > len(eTLDPlusOne) {
		subdomainPart := domain[:len(domain)-len(eTLDPlusOne)-1]
		return strings.Count(subdomainPart, ".") + 1
	}
	return 0
}

// UsesHomographTrick detects hosts mixing Latin letters with letters of another script.
func UsesHomographTrick(domain string) (bool, error) {
	decoded, err := idna.ToUnicode(domain)
	if err != nil {
		return false, fmt.Errorf("punycode decode error: %w", err)
	}

	hasLatin := false
	hasOther := false
	for _, r := range decoded {
		switch {
		case unicode.In(r, unicode.Latin):
			hasLatin = true
		default:
			if unicode.IsLetter(r) {
				hasOther = true
			}
		}
	}
	return hasLatin && hasOther, nil
}

// ParseWhoisDate tries multiple common layouts to parse a date string.
func ParseWhoisDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
		"2006/01/02",
		"2006.01.02",
		"02.01.2006",
		"2006-01-02 15:04:05 MST",
		"Mon, 02 Jan 2006 15:04:05 MST",
		"Mon Jan 2 15:04:05 MST 2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}

	// Registries such as .br and .jp print compact YYYYMMDD stamps.
	if match := whoisCompactDate.FindStringSubmatch(raw); len(match) > 1 {
		if t, err := time.Parse("20060102", match[1]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MonthsBetween returns whole calendar months from a to b (negative if b is before a).
func MonthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	return months
}
