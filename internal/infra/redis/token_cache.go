package redis

import (
	"context"
	"time"

	"mpesa-payment-service/internal/domain/ports/adapter"
)

const tokenKey = "mpesa:access_token"

// TokenFetcher obtains a fresh access token and reports how long the gateway
// says it is valid for.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (token string, validFor time.Duration, err error)
}

var _ adapter.TokenSource = (*TokenCache)(nil)

// TokenCache is a redis-backed adapter.TokenSource. The bearer token is cached
// with a TTL shorter than the gateway's expires_in by `margin`, so a cached
// token is always dropped before it actually expires. A cache or redis failure
// falls through to a fresh fetch; the cache never makes token acquisition
// less available.
type TokenCache struct {
	cli    RedisClient
	fetch  TokenFetcher
	margin time.Duration
}

func NewTokenCache(cli RedisClient, fetch TokenFetcher, margin time.Duration) *TokenCache {
	if margin <= 0 {
		margin = time.Minute
	}
	return &TokenCache{cli: cli, fetch: fetch, margin: margin}
}

func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, err := c.cli.Get(ctx, tokenKey); err == nil && tok != "" {
		return tok, nil
	}

	tok, validFor, err := c.fetch.FetchToken(ctx)
	if err != nil {
		return "", err
	}

	ttl := validFor - c.margin
	if ttl > 0 {
		// Best effort; a failed SET only costs an extra fetch next time.
		_ = c.cli.Set(ctx, tokenKey, tok, ttl)
	}
	return tok, nil
}
