package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provider names accepted in configuration.
const (
	ProviderIPAPI    = "ipapi"
	ProviderIPWho    = "ipwho"
	ProviderIPAPICom = "ip-api"
)

// DefaultProviders is the fallback order used when none is configured.
var DefaultProviders = []string{ProviderIPAPI, ProviderIPWho, ProviderIPAPICom}

// maxResponseBytes caps provider response bodies.
const maxResponseBytes = 64 << 10

// Provider looks up a single IP address.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (*Location, error)
}

// decodeFunc turns a provider response body into a Location.
type decodeFunc func(body []byte) (*Location, error)

// HTTPProvider queries a JSON geolocation API over HTTP.
type HTTPProvider struct {
	name   string
	url    string // contains a single %s for the IP
	decode decodeFunc
	client *http.Client
}

// NewHTTPClient returns an http.Client whose transport emits OpenTelemetry spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewProvider returns the named provider. Unknown names are an error so that
// configuration typos surface at startup.
func NewProvider(name string, client *http.Client) (*HTTPProvider, error) {
	if client == nil {
		client = NewHTTPClient(3 * time.Second)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderIPAPI:
		return &HTTPProvider{name: ProviderIPAPI, url: "https://ipapi.co/%s/json/", decode: decodeIPAPI, client: client}, nil
	case ProviderIPWho:
		return &HTTPProvider{name: ProviderIPWho, url: "https://ipwho.is/%s", decode: decodeIPWho, client: client}, nil
	case ProviderIPAPICom:
		return &HTTPProvider{name: ProviderIPAPICom, url: "http://ip-api.com/json/%s", decode: decodeIPAPICom, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown geolocation provider %q", name)
	}
}

// NewProviders builds providers in the given order.
func NewProviders(names []string, client *http.Client) ([]Provider, error) {
	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := NewProvider(name, client)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Name returns the provider name used in metrics and logs.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Lookup queries the provider for ip.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(p.url, ip), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", p.name, err)
	}

	loc, err := p.decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	loc.IP = ip
	loc.Provider = p.name
	loc.Geohash = Coarse(loc.Latitude, loc.Longitude)
	return loc, nil
}

func decodeIPAPI(body []byte) (*Location, error) {
	var r struct {
		Error       bool    `json:"error"`
		Reason      string  `json:"reason"`
		City        string  `json:"city"`
		Region      string  `json:"region"`
		CountryName string  `json:"country_name"`
		CountryCode string  `json:"country_code"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	if r.Error {
		return nil, fmt.Errorf("provider error: %s", r.Reason)
	}
	return &Location{
		Country:     r.CountryName,
		CountryCode: r.CountryCode,
		Region:      r.Region,
		City:        r.City,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}, nil
}

func decodeIPWho(body []byte) (*Location, error) {
	var r struct {
		Success     bool    `json:"success"`
		Message     string  `json:"message"`
		Country     string  `json:"country"`
		CountryCode string  `json:"country_code"`
		Region      string  `json:"region"`
		City        string  `json:"city"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	if !r.Success {
		return nil, fmt.Errorf("provider error: %s", r.Message)
	}
	return &Location{
		Country:     r.Country,
		CountryCode: r.CountryCode,
		Region:      r.Region,
		City:        r.City,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}, nil
}

func decodeIPAPICom(body []byte) (*Location, error) {
	var r struct {
		Status      string  `json:"status"`
		Message     string  `json:"message"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		RegionName  string  `json:"regionName"`
		City        string  `json:"city"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	if r.Status != "success" {
		return nil, fmt.Errorf("provider error: %s", r.Message)
	}
	return &Location{
		Country:     r.Country,
		CountryCode: r.CountryCode,
		Region:      r.RegionName,
		City:        r.City,
		Latitude:    r.Lat,
		Longitude:   r.Lon,
	}, nil
}
