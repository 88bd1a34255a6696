package provider

import (
	"net"
	"net/url"
	"strings"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

// ValidateBaseURL rejects base URLs carrying userinfo, a query or a fragment.
// Loopback and private hosts are rejected unless allowPrivate is set, which is
// the case for locally hosted backends.
func ValidateBaseURL(backend, raw string, allowPrivate bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return llmerrors.NewConfigurationError(backend, "invalid base_url: "+err.Error())
	}

	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return llmerrors.NewConfigurationError(backend, "base_url scheme must be http or https")
	case u.Hostname() == "":
		return llmerrors.NewConfigurationError(backend, "base_url has no host")
	case u.User != nil:
		return llmerrors.NewConfigurationError(backend, "base_url must not contain userinfo")
	case u.RawQuery != "" || u.Fragment != "":
		return llmerrors.NewConfigurationError(backend, "base_url must not contain a query or fragment")
	}

	if !allowPrivate && isPrivateHost(u.Hostname()) {
		return llmerrors.NewConfigurationError(backend,
			"base_url host "+u.Hostname()+" is private or loopback (set allow_private_base_url to override)")
	}
	return nil
}

func isPrivateHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}

	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	return !ip.IsGlobalUnicast()
}
