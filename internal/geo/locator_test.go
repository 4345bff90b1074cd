package geo

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeProvider struct {
	name  string
	loc   *Location
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	loc := *f.loc
	loc.IP = ip
	loc.Provider = f.name
	return &loc, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*Location
	getErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*Location)}
}

func (m *memoryCache) Get(ctx context.Context, ip string) (*Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	loc, ok := m.entries[ip]
	if !ok {
		return nil, ErrCacheMiss
	}
	return loc, nil
}

func (m *memoryCache) Set(ctx context.Context, loc *Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[loc.IP] = loc
	return nil
}

func TestChainLocator_FallsBackToNextProvider(t *testing.T) {
	first := &fakeProvider{name: "first", err: errors.New("rate limited")}
	second := &fakeProvider{name: "second", loc: &Location{Country: "Germany", CountryCode: "DE", City: "Berlin"}}
	third := &fakeProvider{name: "third", loc: &Location{Country: "France"}}

	locator := NewChainLocator([]Provider{first, second, third}, LocatorConfig{Metrics: NewMetrics()})

	loc, err := locator.Locate(context.Background(), "8.8.8.8")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if loc.Provider != "second" || loc.City != "Berlin" {
		t.Errorf("expected Berlin from second provider, got %+v", loc)
	}
	if third.calls != 0 {
		t.Errorf("expected chain to stop after first success, third called %d times", third.calls)
	}
}

func TestChainLocator_AllProvidersFail(t *testing.T) {
	locator := NewChainLocator([]Provider{
		&fakeProvider{name: "a", err: errors.New("boom")},
		&fakeProvider{name: "b", err: errors.New("bang")},
	}, LocatorConfig{})

	_, err := locator.Locate(context.Background(), "8.8.8.8")
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("expected ErrLookupFailed, got %v", err)
	}
}

func TestChainLocator_RejectsPrivateAddresses(t *testing.T) {
	provider := &fakeProvider{name: "a", loc: &Location{}}
	locator := NewChainLocator([]Provider{provider}, LocatorConfig{})

	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.10", "::1", "0.0.0.0"} {
		if _, err := locator.Locate(context.Background(), ip); !errors.Is(err, ErrPrivateAddress) {
			t.Errorf("Locate(%q) error = %v, want ErrPrivateAddress", ip, err)
		}
	}
	if _, err := locator.Locate(context.Background(), "not-an-ip"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider should not be called for rejected addresses, got %d calls", provider.calls)
	}
}

func TestChainLocator_NoProviders(t *testing.T) {
	locator := NewChainLocator(nil, LocatorConfig{})
	if _, err := locator.Locate(context.Background(), "8.8.8.8"); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestChainLocator_UsesCache(t *testing.T) {
	provider := &fakeProvider{name: "a", loc: &Location{Country: "Japan", City: "Tokyo"}}
	cache := newMemoryCache()
	locator := NewChainLocator([]Provider{provider}, LocatorConfig{Cache: cache})

	for i := 0; i < 3; i++ {
		loc, err := locator.Locate(context.Background(), "1.1.1.1")
		if err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
		if loc.City != "Tokyo" {
			t.Errorf("expected Tokyo, got %q", loc.City)
		}
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.calls)
	}
}

func TestChainLocator_CacheErrorFallsThrough(t *testing.T) {
	provider := &fakeProvider{name: "a", loc: &Location{Country: "Brazil"}}
	cache := newMemoryCache()
	cache.getErr = errors.New("redis down")
	locator := NewChainLocator([]Provider{provider}, LocatorConfig{Cache: cache})

	loc, err := locator.Locate(context.Background(), "1.1.1.1")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if loc.Country != "Brazil" {
		t.Errorf("expected Brazil, got %q", loc.Country)
	}
}
