package service

import (
	"net/netip"
	"strings"

	"github.com/mssola/useragent"

	"healthvault/internal/consent/models"
	platformstrings "healthvault/pkg/platform/strings"
)

// metadataFrom coarsens client details before they are written to the
// ledger. Nil when nothing is known.
func metadataFrom(rawUserAgent, rawIP string) *models.Metadata {
	md := &models.Metadata{
		UserAgent: normalizeUserAgent(rawUserAgent),
		IPAddress: anonymizeIP(rawIP),
	}
	if md.UserAgent == "" && md.IPAddress == "" {
		return nil
	}
	return md
}

// normalizeUserAgent keeps browser family, major version and OS.
func normalizeUserAgent(raw string) string {
	raw = platformstrings.Clean(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, version := ua.Browser()
	if major, _, found := strings.Cut(version, "."); found {
		version = major
	}
	browser := strings.TrimSpace(name + " " + version)
	os := ua.OS()
	switch {
	case browser == "" && os == "":
		return "unknown"
	case os == "":
		return browser
	case browser == "":
		return os
	}
	return browser + " / " + os
}

// anonymizeIP zeroes the host part: /24 for IPv4, /48 for IPv6.
func anonymizeIP(raw string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}
