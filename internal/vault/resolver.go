// Package vault resolves the download URL and vendor credentials from the
// secret store.
package vault

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Names lists the secret names holding the download settings.
type Names struct {
	URL      string
	Username string
	Password string
}

// Credentials carries everything the downloader needs to authenticate.
type Credentials struct {
	URL      string
	Username string
	Password string
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", c.URL),
		slog.String("username", c.Username),
		slog.String("password", "[redacted]"),
	)
}

// Resolver looks secrets up once per TTL and collapses concurrent lookups.
type Resolver struct {
	store  Store
	cache  *gocache.Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewResolver constructs a Resolver. A non-positive ttl disables caching.
func NewResolver(store Store, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	var cache *gocache.Cache
	if ttl > 0 {
		cache = gocache.New(ttl, 2*ttl)
	}
	return &Resolver{store: store, cache: cache, logger: logger}
}

// Resolve returns the value of the named secret or a *CredentialMissingError.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(name); ok {
			return v.(string), nil
		}
	}
	v, err, _ := r.group.Do(name, func() (any, error) {
		return r.store.GetSecret(ctx, name)
	})
	if err != nil {
		r.logger.Warn("secret lookup failed", slog.String("secret", name), slog.Any("error", err))
		return "", &CredentialMissingError{Name: name, Err: err}
	}
	value, _ := v.(string)
	if value == "" {
		return "", &CredentialMissingError{Name: name}
	}
	if r.cache != nil {
		r.cache.SetDefault(name, value)
	}
	return value, nil
}

// Credentials resolves the URL, username and password in that order.
func (r *Resolver) Credentials(ctx context.Context, names Names) (Credentials, error) {
	var creds Credentials
	var err error
	if creds.URL, err = r.Resolve(ctx, names.URL); err != nil {
		return Credentials{}, err
	}
	if creds.Username, err = r.Resolve(ctx, names.Username); err != nil {
		return Credentials{}, err
	}
	if creds.Password, err = r.Resolve(ctx, names.Password); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
