package probe

import (
	"fmt"

	"safelink/pkg/common"
	"safelink/pkg/config"
)

func domainRegLen(in *Input) (float64, error) {
	d := in.Domain
	if d == nil || d.CreatedAt == nil || d.ExpiresAt == nil {
		return 0, fmt.Errorf("%w: registration dates", ErrMissingInput)
	}
	return signal(common.MonthsBetween(*d.CreatedAt, *d.ExpiresAt) < 12), nil
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

func nonStdPort(in *Input) (float64, error) {
	port := in.Target.Port
	if port == "" {
		return config.Legitimate, nil
	}
	return signal(port != defaultPorts[in.Target.URL.Scheme]), nil
}

// abnormalURL compares the registered name from WHOIS with the host and
// flags mixed-script hosts.
func abnormalURL(in *Input) (float64, error) {
	if homograph, err := common.UsesHomographTrick(in.Target.Host); err == nil && homograph {
		return config.Phishing, nil
	}
	d := in.Domain
	if d == nil || d.Name == "" {
		return 0, fmt.Errorf("%w: whois domain name", ErrMissingInput)
	}
	name, err := common.NormalizeHost(d.Name)
	if err != nil {
		return 0, err
	}
	return signal(name != in.Target.Apex), nil
}

func ageOfDomain(in *Input) (float64, error) {
	d := in.Domain
	if d == nil || d.CreatedAt == nil {
		return 0, fmt.Errorf("%w: creation date", ErrMissingInput)
	}
	return signal(common.MonthsBetween(*d.CreatedAt, in.Now) < 6), nil
}

func dnsRecording(in *Input) (float64, error) {
	if in.Domain == nil {
		return 0, fmt.Errorf("%w: domain record", ErrMissingInput)
	}
	return signal(len(in.Domain.IPs) == 0), nil
}
