package links

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/edge"
	"github.com/JakeFAU/shortlink-edge/internal/store"
)

// Resolver redirects visitors of a short link to its destination. Unknown,
// expired or unresolvable links go to the fallback URL.
type Resolver struct {
	cache    *Cache
	repo     store.LinkRepository
	fallback string
	logger   *zap.Logger
	now      func() time.Time
}

// NewResolver builds a Resolver. repo may be nil, in which case only cached
// links resolve.
func NewResolver(cache *Cache, repo store.LinkRepository, fallbackURL string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:    cache,
		repo:     repo,
		fallback: fallbackURL,
		logger:   logger,
		now:      time.Now,
	}
}

func (res *Resolver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := edge.RequestFrom(r)
	if req.Key == "" {
		res.redirectFallback(w, r)
		return
	}

	link, err := res.lookup(r, req)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			res.logger.Error("link lookup failed",
				zap.String("domain", req.Domain), zap.String("key", req.Key), zap.Error(err))
		}
		res.redirectFallback(w, r)
		return
	}

	dest := link.Destination(res.now())
	if dest == "" {
		res.redirectFallback(w, r)
		return
	}
	http.Redirect(w, r, withQuery(dest, r.URL.Query()), http.StatusFound)
}

func (res *Resolver) lookup(r *http.Request, req edge.Request) (store.Link, error) {
	ctx := r.Context()
	link, ok, err := res.cache.Get(ctx, req.Domain, req.Key)
	if err != nil {
		res.logger.Warn("link cache read failed", zap.Error(err))
	}
	if ok {
		return link, nil
	}
	if res.repo == nil {
		return store.Link{}, store.ErrNotFound
	}
	link, err = res.repo.GetLink(ctx, req.Domain, req.Key)
	if err != nil {
		return store.Link{}, err
	}
	if err := res.cache.Set(ctx, link); err != nil {
		res.logger.Warn("link cache write failed", zap.Error(err))
	}
	return link, nil
}

func (res *Resolver) redirectFallback(w http.ResponseWriter, r *http.Request) {
	if res.fallback == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, res.fallback, http.StatusFound)
}

// withQuery appends visitor query parameters the destination does not
// already define.
func withQuery(dest string, visitor url.Values) string {
	if len(visitor) == 0 {
		return dest
	}
	u, err := url.Parse(dest)
	if err != nil {
		return dest
	}
	q := u.Query()
	for k, vs := range visitor {
		if q.Has(k) {
			continue
		}
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
