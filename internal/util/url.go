package util

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// binaryExtensions are path suffixes that never carry crawlable page content.
// Candidate URLs ending in one of these are filtered out before admission.
var binaryExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".zip": true, ".gz": true, ".tar": true,
	".rar": true, ".7z": true, ".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".webp": true, ".svg": true, ".ico": true, ".bmp": true,
	".css": true, ".js": true, ".mjs": true, ".json": true, ".xml": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".webm": true,
	".wav": true, ".ogg": true, ".woff": true, ".woff2": true, ".ttf": true,
	".eot": true, ".otf": true, ".exe": true, ".dmg": true, ".apk": true,
}

// NormaliseURL canonicalises a URL so that two spellings of the same page
// compare equal: scheme and host are lower-cased, the fragment is dropped,
// default ports are removed, and dot segments in the path are resolved.
// Returns an error for anything that is not an absolute http(s) URL.
func NormaliseURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL %q is not absolute", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Host = stripDefaultPort(parsed.Host, parsed.Scheme)
	parsed.Fragment = ""
	parsed.RawFragment = ""

	if parsed.Path != "" {
		cleaned := path.Clean(parsed.Path)
		if cleaned == "." {
			cleaned = "/"
		}
		// path.Clean drops the trailing slash, which is significant for
		// many servers; put it back except at the root.
		if strings.HasSuffix(parsed.Path, "/") && cleaned != "/" {
			cleaned += "/"
		}
		parsed.Path = cleaned
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	return parsed.String(), nil
}

// ResolveURL resolves a possibly-relative reference against the page it was
// found on and normalises the result.
func ResolveURL(base *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", fmt.Errorf("empty or fragment-only reference")
	}
	if strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "mailto:") || strings.HasPrefix(ref, "tel:") || strings.HasPrefix(ref, "data:") {
		return "", fmt.Errorf("non-navigable reference %q", ref)
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	return NormaliseURL(base.ResolveReference(refURL).String())
}

// SameOrigin reports whether the candidate URL targets the crawl's origin
// host. Scheme upgrades (http vs https) on the same host count as same
// origin for crawling purposes.
func SameOrigin(candidate, origin *url.URL) bool {
	ch := stripDefaultPort(strings.ToLower(candidate.Host), strings.ToLower(candidate.Scheme))
	oh := stripDefaultPort(strings.ToLower(origin.Host), strings.ToLower(origin.Scheme))
	return ch == oh
}

// HasBinaryExtension reports whether the URL path ends in a known
// non-content extension (images, archives, scripts, fonts, media).
func HasBinaryExtension(urlPath string) bool {
	ext := strings.ToLower(path.Ext(urlPath))
	if ext == "" {
		return false
	}
	return binaryExtensions[ext]
}

// NormaliseDomain removes scheme, www prefix and trailing slash from a
// domain so the same site expressed different ways maps to one host key.
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, "/")
	return domain
}

// HostKey returns the normalised host of a parsed URL, used as the key for
// per-host state (robots cache, rate buckets).
func HostKey(u *url.URL) string {
	return stripDefaultPort(strings.ToLower(u.Host), strings.ToLower(u.Scheme))
}

// stripDefaultPort removes :80 for HTTP and :443 for HTTPS from a host.
func stripDefaultPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
