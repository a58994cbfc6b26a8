package edge

import "strings"

// bypassPrefixes are matched against the path without its leading slash.
var bypassPrefixes = []string{
	"api/",
	"_next/",
	"_proxy/",
	"favicon.ico",
	"sitemap.xml",
	"robots.txt",
	"manifest.webmanifest",
}

// Bypass reports whether path skips the edge middleware entirely.
func Bypass(path string) bool {
	rest := strings.TrimPrefix(path, "/")
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(rest, prefix) {
			return true
		}
	}
	return false
}
