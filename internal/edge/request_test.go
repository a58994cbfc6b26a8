package edge

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		host   string
		target string
		want   Request
	}{
		{
			name:   "strips www and lowercases",
			host:   "WWW.Acme.Link",
			target: "/Promo",
			want:   Request{Domain: "acme.link", Path: "/Promo", Key: "Promo", FullKey: "Promo"},
		},
		{
			name:   "decodes key",
			host:   "dub.sh",
			target: "/caf%C3%A9/more",
			want:   Request{Domain: "dub.sh", Path: "/café/more", Key: "café", FullKey: "café/more"},
		},
		{
			name:   "appends query to full key",
			host:   "dub.sh",
			target: "/https://example.com/page?utm_source=x",
			want: Request{
				Domain:  "dub.sh",
				Path:    "/https://example.com/page",
				Key:     "https:",
				FullKey: "https://example.com/page?utm_source=x",
			},
		},
		{
			name:   "root",
			host:   "dub.sh",
			target: "/",
			want:   Request{Domain: "dub.sh", Path: "/", Key: "", FullKey: ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", tt.target, nil)
			r.Host = tt.host
			assert.Equal(t, tt.want, Parse(r))
		})
	}
}

func TestRequestFromPrefersContext(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/abc", nil)
	stored := Request{Domain: "stored.example", Key: "xyz"}
	r = r.WithContext(WithRequest(r.Context(), stored))
	assert.Equal(t, stored, RequestFrom(r))

	plain := httptest.NewRequest("GET", "/abc", nil)
	plain.Host = "dub.sh"
	assert.Equal(t, "abc", RequestFrom(plain).Key)
}
