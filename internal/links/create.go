package links

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/shortlink-edge/internal/edge"
)

const defaultAppURL = "https://app.dub.co"

// CreateHandler sends a visitor who typed a full URL after the short domain
// to the app's link creation form, prefilled with that URL.
type CreateHandler struct {
	appURL string
}

// NewCreateHandler builds a CreateHandler for the given app base URL.
func NewCreateHandler(appURL string) *CreateHandler {
	if appURL == "" {
		appURL = defaultAppURL
	}
	return &CreateHandler{appURL: strings.TrimRight(appURL, "/")}
}

func (h *CreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := edge.RequestFrom(r)
	target := h.appURL + "/new?link=" + url.QueryEscape(req.FullKey)
	http.Redirect(w, r, target, http.StatusFound)
}
