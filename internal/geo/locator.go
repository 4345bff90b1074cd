package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultProviderTimeout bounds each provider call in the chain.
const DefaultProviderTimeout = 2 * time.Second

// ChainLocator asks providers in order and returns the first success.
// There is no retry beyond the chain itself.
type ChainLocator struct {
	providers []Provider
	cache     Cache
	timeout   time.Duration
	metrics   *Metrics
	logger    *slog.Logger
}

// LocatorConfig configures a ChainLocator. Cache and Metrics are optional.
type LocatorConfig struct {
	Cache           Cache
	ProviderTimeout time.Duration
	Metrics         *Metrics
	Logger          *slog.Logger
}

// NewChainLocator creates a locator over the given providers.
func NewChainLocator(providers []Provider, cfg LocatorConfig) *ChainLocator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChainLocator{
		providers: providers,
		cache:     cfg.Cache,
		timeout:   cfg.ProviderTimeout,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Locate resolves ip to a coarse location.
func (c *ChainLocator) Locate(ctx context.Context, ip string) (*Location, error) {
	addr, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	if c.cache != nil {
		loc, err := c.cache.Get(ctx, addr)
		switch {
		case err == nil:
			c.metrics.IncCache(ResultHit)
			return loc, nil
		case errors.Is(err, ErrCacheMiss):
			c.metrics.IncCache(ResultMiss)
		default:
			c.metrics.IncCache(ResultError)
			c.logger.Warn("geolocation cache read failed", slog.String("error", err.Error()))
		}
	}

	var errs []error
	for _, p := range c.providers {
		loc, err := c.lookup(ctx, p, addr)
		if err != nil {
			errs = append(errs, err)
			c.logger.Debug("geolocation provider failed",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if c.cache != nil {
			if err := c.cache.Set(ctx, loc); err != nil {
				c.logger.Warn("geolocation cache write failed", slog.String("error", err.Error()))
			}
		}
		return loc, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrLookupFailed, errors.Join(errs...))
}

func (c *ChainLocator) lookup(ctx context.Context, p Provider, ip string) (*Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	loc, err := p.Lookup(ctx, ip)
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.metrics.ObserveLookup(p.Name(), result, time.Since(start).Seconds())
	return loc, err
}
