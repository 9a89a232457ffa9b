package rank

import (
	"bufio"
	"fmt"
	"io"
	"net"
	neturl "net/url"
	"os"
	"strings"
)

// Hosting providers and shorteners that dominate public phishing reports.
// A host matches when it is one of these domains or a subdomain of one.
var reportedHosts = []string{
	"at.ua", "usa.cc", "baltazarpresentes.com.br", "pe.hu", "esy.es",
	"hol.es", "sweddy.com", "myjino.ru", "96.lt", "ow.ly",
}

// Addresses that repeatedly appear as phishing hosts in abuse reports.
var reportedIPs = []string{
	"146.112.61.108", "213.174.157.151", "121.50.168.88", "192.185.217.116", "78.46.211.158",
	"181.174.165.13", "46.242.145.103", "121.50.168.40", "83.125.22.219", "46.242.145.98",
	"107.151.148.44", "107.151.148.107", "64.70.19.203", "199.184.144.27", "107.151.148.108",
	"107.151.148.109", "119.28.52.61", "54.83.43.69", "52.69.166.231",
	"118.184.25.86", "67.208.74.71", "23.253.126.58", "104.239.157.210", "175.126.123.219",
	"141.8.224.221", "10.10.10.10", "43.229.108.32", "103.232.215.140", "69.172.201.153",
	"216.218.185.162", "54.225.104.146", "103.243.24.98", "199.59.243.120", "31.170.160.61",
	"213.19.128.77", "62.113.226.131", "208.100.26.234", "195.16.127.102", "195.16.127.157",
	"34.196.13.28", "103.224.212.222", "54.72.9.51", "192.64.147.141",
	"198.200.56.183", "23.253.164.103", "52.48.191.26", "52.214.197.72", "87.98.255.18",
	"209.99.17.27", "216.38.62.18", "104.130.124.96", "47.89.58.141",
	"54.86.225.156", "54.82.156.19", "37.157.192.102", "204.11.56.48", "110.34.231.42",
}

// Blocklist is loaded once at startup and is read-only afterwards.
type Blocklist struct {
	ips   map[string]bool
	hosts map[string]bool
	urls  map[string]bool
}

// NewBlocklist returns the built-in lists merged with an optional feed.
func NewBlocklist(feed io.Reader) (*Blocklist, error) {
	b := &Blocklist{
		ips:   make(map[string]bool, len(reportedIPs)),
		hosts: make(map[string]bool),
		urls:  make(map[string]bool),
	}
	for _, ip := range reportedIPs {
		b.ips[ip] = true
	}
	if feed == nil {
		return b, nil
	}

	scanner := bufio.NewScanner(feed)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parsed, err := neturl.Parse(line)
		if err != nil || parsed.Host == "" {
			continue
		}
		b.hosts[strings.ToLower(parsed.Hostname())] = true
		b.urls[strings.ToLower(line)] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading blocklist feed: %w", err)
	}
	return b, nil
}

// LoadBlocklist reads the feed at path. An empty path yields the built-in lists.
func LoadBlocklist(path string) (*Blocklist, error) {
	if path == "" {
		return NewBlocklist(nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open blocklist feed: %w", err)
	}
	defer f.Close()
	return NewBlocklist(f)
}

// Listed reports whether the URL, its host or any of its addresses is listed.
func (b *Blocklist) Listed(rawURL, host string, ips []net.IP) bool {
	host = strings.ToLower(host)
	if reportedHost(host) || b.hosts[host] || b.urls[strings.ToLower(rawURL)] {
		return true
	}
	if b.ips[host] {
		return true
	}
	for _, ip := range ips {
		if b.ips[ip.String()] {
			return true
		}
	}
	return false
}

func reportedHost(host string) bool {
	host = strings.TrimSuffix(host, ".")
	for _, d := range reportedHosts {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Size returns the number of feed hosts loaded.
func (b *Blocklist) Size() int {
	return len(b.hosts)
}
