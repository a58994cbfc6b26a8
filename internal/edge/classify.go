package edge

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/shortlink-edge/internal/config"
)

// Outcome names the branch a request was routed to.
type Outcome string

// Routing outcomes, in evaluation order.
const (
	OutcomeApp        Outcome = "app"
	OutcomeAPI        Outcome = "api"
	OutcomeStats      Outcome = "stats"
	OutcomeWellKnown  Outcome = "wellknown"
	OutcomeRedirect   Outcome = "redirect"
	OutcomeCreateLink Outcome = "create_link"
	OutcomeLink       Outcome = "link"
)

const (
	statsPrefix     = "/stats/"
	wellKnownPrefix = "/.well-known/"
)

// Decision is the result of classifying a Request.
type Decision struct {
	Outcome Outcome
	// RewritePath is set for the stats and well-known outcomes.
	RewritePath string
	// RedirectURL is set for the redirect outcome.
	RedirectURL string
}

// Rules holds the immutable host sets and tables used by Classify.
type Rules struct {
	appHosts    map[string]struct{}
	apiHosts    map[string]struct{}
	shortDomain string
	redirects   map[string]string
	wellKnown   map[string]struct{}
	validate    *validator.Validate
}

// NewRules builds Rules from configuration. App and API host sets must be disjoint.
func NewRules(cfg config.EdgeConfig) (*Rules, error) {
	r := &Rules{
		appHosts:    toSet(cfg.AppHostnames),
		apiHosts:    toSet(cfg.APIHostnames),
		shortDomain: strings.ToLower(cfg.ShortDomain),
		redirects:   make(map[string]string, len(cfg.DefaultRedirects)),
		wellKnown:   make(map[string]struct{}, len(cfg.WellKnownFiles)),
		validate:    validator.New(),
	}
	for host := range r.apiHosts {
		if _, ok := r.appHosts[host]; ok {
			return nil, fmt.Errorf("host %q is both an app and an API host", host)
		}
	}
	for key, target := range cfg.DefaultRedirects {
		// Viper lower-cases map keys. Lookups use the key as received.
		r.redirects[strings.ToLower(key)] = target
	}
	for _, file := range cfg.WellKnownFiles {
		r.wellKnown[file] = struct{}{}
	}
	return r, nil
}

// Classify returns the single outcome for req.
func (r *Rules) Classify(req Request) Decision {
	if _, ok := r.appHosts[req.Domain]; ok {
		return Decision{Outcome: OutcomeApp}
	}
	if _, ok := r.apiHosts[req.Domain]; ok {
		return Decision{Outcome: OutcomeAPI}
	}
	if strings.HasPrefix(req.Path, statsPrefix) {
		return Decision{Outcome: OutcomeStats, RewritePath: "/" + req.Domain + req.Path}
	}
	if file, ok := strings.CutPrefix(req.Path, wellKnownPrefix); ok {
		if _, supported := r.wellKnown[file]; supported {
			return Decision{Outcome: OutcomeWellKnown, RewritePath: "/wellknown/" + req.Domain + "/" + file}
		}
	}
	if req.Domain == r.shortDomain {
		if target, ok := r.redirects[req.Key]; ok {
			return Decision{Outcome: OutcomeRedirect, RedirectURL: target}
		}
	}
	if r.isURL(req.FullKey) {
		return Decision{Outcome: OutcomeCreateLink}
	}
	return Decision{Outcome: OutcomeLink}
}

func (r *Rules) isURL(s string) bool {
	if s == "" {
		return false
	}
	return r.validate.Var(s, "url") == nil
}

func toSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[strings.ToLower(h)] = struct{}{}
	}
	return set
}
