package tools

import (
	"net/url"
	"strings"
)

// paywalledDomains never get a PDF download attempt; metadata may still be
// retained.
var paywalledDomains = map[string]bool{
	"dl.acm.org":        true,
	"ieeexplore.ieee.org": true,
	"link.springer.com": true,
	"www.sciencedirect.com": true,
	"onlinelibrary.wiley.com": true,
}

// openAccessDomains are preferred when a paper exposes multiple candidate
// PDF URLs.
var openAccessDomains = map[string]bool{
	"arxiv.org":     true,
	"huggingface.co": true,
	"hf.co":          true,
	"openreview.net": true,
}

// whitelistedCrawlDomains are the domains the external_crawl HITL gate does
// not fire for.
var whitelistedCrawlDomains = map[string]bool{
	"arxiv.org":      true,
	"huggingface.co": true,
	"hf.co":          true,
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsPaywalled reports whether a PDF URL's domain is on the known-paywalled
// list; such URLs are never downloaded.
func IsPaywalled(pdfURL string) bool {
	return paywalledDomains[domainOf(pdfURL)]
}

// IsOpenAccess reports whether a PDF URL's domain is a known open-access
// host, preferred when a paper has multiple candidate PDF URLs.
func IsOpenAccess(pdfURL string) bool {
	return openAccessDomains[domainOf(pdfURL)]
}

// IsWhitelistedCrawlDomain reports whether a URL's domain bypasses the
// external_crawl HITL gate.
func IsWhitelistedCrawlDomain(rawURL string) bool {
	return whitelistedCrawlDomains[domainOf(rawURL)]
}

// PreferredPDFURL picks the open-access candidate when present, otherwise
// the first candidate.
func PreferredPDFURL(candidates []string) string {
	for _, c := range candidates {
		if IsOpenAccess(c) {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}
