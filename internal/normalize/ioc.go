package normalize

import (
	"net"
	"net/mail"
	"regexp"
	"strings"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/infrastructure/hex"
)

var (
	ipCandidateRe     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainCandidateRe = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,24}\b`)
	urlCandidateRe    = regexp.MustCompile(`\bhttps?://[^\s"'<>]+`)
	hashCandidateRe   = regexp.MustCompile(`\b[a-fA-F0-9]{32,64}\b`)
	emailCandidateRe  = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,24}\b`)
	cveRe             = regexp.MustCompile(`\bCVE-\d{4}-\d{4,}\b`)
)


// ExtractIOCs scans text for candidate indicators of compromise and keeps
// only those that pass validation; matching a regex alone is not enough.
func ExtractIOCs(text string) intel.IOCSet {
	var set intel.IOCSet

	for _, m := range ipCandidateRe.FindAllString(text, -1) {
		if net.ParseIP(m) != nil {
			set.IPs = append(set.IPs, m)
		}
	}

	for _, m := range cveRe.FindAllString(strings.ToUpper(text), -1) {
		set.CVEs = append(set.CVEs, m)
	}

	for _, m := range urlCandidateRe.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:)")
		if n, err := NormalizeURL(m); err == nil && n != "" {
			set.URLs = append(set.URLs, n)
		}
	}

	for _, m := range emailCandidateRe.FindAllString(text, -1) {
		if _, err := mail.ParseAddress(m); err == nil {
			set.Emails = append(set.Emails, strings.ToLower(m))
		}
	}

	for _, m := range hashCandidateRe.FindAllString(text, -1) {
		if digest, ok := hex.NormalizeDigest(m); ok {
			set.Hashes = append(set.Hashes, digest)
		}
	}

	urlHosts := make(map[string]struct{}, len(set.URLs))
	for _, u := range set.URLs {
		if host := hostOf(u); host != "" {
			urlHosts[host] = struct{}{}
		}
	}
	for _, m := range domainCandidateRe.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		if validDomain(lower) && !looksLikeIP(lower) {
			if _, isURLHost := urlHosts[lower]; !isURLHost {
				set.Domains = append(set.Domains, lower)
			}
		}
	}

	return set
}

func looksLikeIP(s string) bool {
	return net.ParseIP(s) != nil
}

func validDomain(s string) bool {
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
	}
	return true
}

func hostOf(rawURL string) string {
	const schemeSep = "://"
	idx := strings.Index(rawURL, schemeSep)
	if idx < 0 {
		return ""
	}
	rest := rawURL[idx+len(schemeSep):]
	end := strings.IndexAny(rest, "/?#")
	if end >= 0 {
		rest = rest[:end]
	}
	return strings.ToLower(rest)
}
