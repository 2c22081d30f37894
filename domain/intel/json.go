package intel

import "sort"

// CanonicalizeIOCs sorts and deduplicates every IOC field in place so the
// persisted JSON form is stable regardless of insertion order.
func (it *Item) CanonicalizeIOCs() {
	it.IOCs.IPs = sortDedup(it.IOCs.IPs)
	it.IOCs.Domains = sortDedup(it.IOCs.Domains)
	it.IOCs.URLs = sortDedup(it.IOCs.URLs)
	it.IOCs.Hashes = sortDedup(it.IOCs.Hashes)
	it.IOCs.Emails = sortDedup(it.IOCs.Emails)
	it.IOCs.CVEs = sortDedup(it.IOCs.CVEs)
	it.IndustryTags = sortDedup(it.IndustryTags)
}

func sortDedup(in []string) []string {
	if len(in) == 0 {
		return in
	}
	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
