package probe

import (
	"strings"

	"safelink/pkg/common"
	"safelink/pkg/config"
)

// URL-only probes. They read nothing but the normalized target.

func usingIP(in *Input) (float64, error) {
	return signal(in.Target.IsIP), nil
}

func longURL(in *Input) (float64, error) {
	n := len(in.Target.Raw)
	switch {
	case n < 54:
		return config.Legitimate, nil
	case n <= 75:
		return config.Suspicious, nil
	}
	return config.Phishing, nil
}

func shortURL(in *Input) (float64, error) {
	return signal(common.IsShortener(in.Target.Host)), nil
}

func atSymbol(in *Input) (float64, error) {
	return signal(strings.Contains(in.Target.Raw, "@")), nil
}

// doubleSlashRedirect flags a "//" beyond the scheme separator, as in
// http://example.com//http://evil.example.
func doubleSlashRedirect(in *Input) (float64, error) {
	return signal(strings.LastIndex(in.Target.Raw, "//") > 6), nil
}

func prefixSuffix(in *Input) (float64, error) {
	name := in.Target.Apex
	if name == "" {
		name = in.Target.Host
	}
	return signal(strings.Contains(name, "-")), nil
}

func subDomains(in *Input) (float64, error) {
	if in.Target.IsIP {
		return config.Phishing, nil
	}
	switch n := common.SubdomainCount(in.Target.Host); {
	case n == 0:
		return config.Legitimate, nil
	case n == 1:
		return config.Suspicious, nil
	}
	return config.Phishing, nil
}

func https(in *Input) (float64, error) {
	return signal(in.Target.URL.Scheme != "https"), nil
}

func httpsInHost(in *Input) (float64, error) {
	return signal(strings.Contains(in.Target.Host, "https")), nil
}
