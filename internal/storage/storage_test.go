package storage

import "testing"

func TestWellKnownPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, domain, file, want string
	}{
		{"wellknown", "Acme.link", "assetlinks.json", "wellknown/acme.link/assetlinks.json"},
		{"/wellknown/", "dub.sh", "apple-app-site-association", "wellknown/dub.sh/apple-app-site-association"},
		{"", "dub.sh", "assetlinks.json", "dub.sh/assetlinks.json"},
	}
	for _, tt := range tests {
		if got := WellKnownPath(tt.prefix, tt.domain, tt.file); got != tt.want {
			t.Fatalf("WellKnownPath(%q,%q,%q) = %q, want %q", tt.prefix, tt.domain, tt.file, got, tt.want)
		}
	}
}
