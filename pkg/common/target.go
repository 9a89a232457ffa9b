package common

import (
	"errors"
	"net"
	neturl "net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

var (
	ErrInvalidURL    = errors.New("invalid URL")
	ErrInvalidScheme = errors.New("only http and https schemes are allowed")
	ErrEmptyHost     = errors.New("URL must have a valid hostname")
	ErrURLTooLong    = errors.New("URL exceeds maximum length")
)

const MaxURLLength = 2048

// Target is a normalized URL with the host parts every probe needs.
type Target struct {
	Raw  string // normalized URL string
	URL  *neturl.URL
	Host string // lowercase ASCII hostname, no port or brackets
	Port string // explicit port, "" when absent
	Apex string // registrable domain, "" for IP hosts
	IsIP bool
}

// ParseTarget normalizes rawURL and splits it into a Target.
// Normalizing a Target's Raw string again yields the same Target.
func ParseTarget(rawURL string) (*Target, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	u, err := neturl.Parse(normalized)
	if err != nil {
		return nil, ErrInvalidURL
	}
	host := u.Hostname()
	return &Target{
		Raw:  normalized,
		URL:  u,
		Host: host,
		Port: u.Port(),
		Apex: ApexDomain(host),
		IsIP: IsIPHost(host),
	}, nil
}

// NormalizeHost lowercases a hostname, drops a trailing dot and converts
// internationalized names to their ASCII form.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", ErrEmptyHost
	}
	if IsIPHost(host) {
		return host, nil
	}
	ascii, err := idna.ToASCII(host)
	if err != nil || ascii == "" || strings.ContainsAny(ascii, " \t\r\n/\\") {
		return "", ErrInvalidURL
	}
	return ascii, nil
}

// NormalizeURL ensures a URL has a scheme, lowercases scheme and host,
// converts the host to ASCII and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrInvalidURL
	}
	if len(rawURL) > MaxURLLength {
		return "", ErrURLTooLong
	}
	if !schemePrefix.MatchString(rawURL) {
		rawURL = "http://" + rawURL
	}

	u, err := neturl.Parse(rawURL)
	if err != nil {
		return "", ErrInvalidURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidScheme
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}

	port := u.Port()
	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
