// Package identity derives a best-effort stable fingerprint for an anonymous
// visitor from browser-reported signals.
//
// The fingerprint is a heuristic, not an account. It is distinct from the
// anonymous visitor id used for likes and follows; the two are never
// reconciled here.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"github.com/onnwee/storyviews/internal/geo"
)

// Unavailable replaces a signal the browser could not produce.
const Unavailable = "unavailable"

// Device types derived from the user agent.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
)

// ErrNoSignals is returned when there is nothing to fingerprint.
var ErrNoSignals = errors.New("no identity signals provided")

// Signals are the raw inputs reported by the playback page. Canvas, WebGL and
// audio values arrive pre-hashed; the server never sees the raw buffers.
type Signals struct {
	UserAgent           string  `json:"user_agent"`
	Language            string  `json:"language,omitempty"`
	Timezone            string  `json:"timezone,omitempty"`
	ScreenWidth         int     `json:"screen_width,omitempty"`
	ScreenHeight        int     `json:"screen_height,omitempty"`
	ColorDepth          int     `json:"color_depth,omitempty"`
	PixelRatio          float64 `json:"pixel_ratio,omitempty"`
	HardwareConcurrency int     `json:"hardware_concurrency,omitempty"`
	TouchPoints         int     `json:"touch_points,omitempty"`
	CanvasHash          string  `json:"canvas_hash,omitempty"`
	WebGLVendor         string  `json:"webgl_vendor,omitempty"`
	WebGLRenderer       string  `json:"webgl_renderer,omitempty"`
	AudioHash           string  `json:"audio_hash,omitempty"`

	// IP is filled in by the server from the request, never by the client.
	IP string `json:"-"`
}

// Empty reports whether no fingerprintable signal is present.
func (s Signals) Empty() bool {
	return strings.TrimSpace(s.UserAgent) == "" &&
		s.Language == "" && s.Timezone == "" &&
		s.ScreenWidth == 0 && s.ScreenHeight == 0 &&
		s.CanvasHash == "" && s.WebGLVendor == "" && s.WebGLRenderer == "" &&
		s.AudioHash == ""
}

// Identity is a resolved visitor. It is read-only once returned by a Resolver
// and may be shared between sessions without synchronization.
type Identity struct {
	Fingerprint      string
	DeviceType       string
	Browser          string
	BrowserVersion   string
	OS               string
	Platform         string
	ScreenResolution string
	Language         string
	Timezone         string
	CanvasHash       string
	WebGLHash        string
	AudioHash        string
	IP               string
	Location         *geo.Location // nil when geolocation failed
	ResolvedAt       time.Time
}

// device holds the parsed user agent fields.
type device struct {
	kind           string
	browser        string
	browserVersion string
	os             string
	platform       string
}

func parseDevice(s Signals) device {
	ua := useragent.New(s.UserAgent)
	name, version := ua.Browser()

	d := device{
		browser:        orUnavailable(name),
		browserVersion: version,
		os:             orUnavailable(ua.OSInfo().Name),
		platform:       orUnavailable(ua.Platform()),
	}

	lower := strings.ToLower(s.UserAgent)
	switch {
	case ua.Bot():
		d.kind = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"),
		// iPadOS reports a desktop Safari user agent but exposes touch points.
		strings.Contains(lower, "macintosh") && s.TouchPoints > 1:
		d.kind = DeviceTablet
	case ua.Mobile():
		d.kind = DeviceMobile
	default:
		d.kind = DeviceDesktop
	}
	return d
}

// fingerprint hashes the stable components. Browser version and location are
// excluded: both change without the visitor changing.
func fingerprint(s Signals, d device) string {
	parts := []string{
		d.kind,
		d.browser,
		d.os,
		d.platform,
		screenResolution(s),
		strconv.Itoa(s.ColorDepth),
		strconv.FormatFloat(s.PixelRatio, 'f', 2, 64),
		strconv.Itoa(s.HardwareConcurrency),
		strconv.Itoa(s.TouchPoints),
		orUnavailable(s.Language),
		orUnavailable(s.Timezone),
		orUnavailable(s.CanvasHash),
		webGLHash(s),
		orUnavailable(s.AudioHash),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func screenResolution(s Signals) string {
	if s.ScreenWidth <= 0 || s.ScreenHeight <= 0 {
		return Unavailable
	}
	return strconv.Itoa(s.ScreenWidth) + "x" + strconv.Itoa(s.ScreenHeight)
}

func webGLHash(s Signals) string {
	if s.WebGLVendor == "" && s.WebGLRenderer == "" {
		return Unavailable
	}
	sum := sha256.Sum256([]byte(s.WebGLVendor + "~" + s.WebGLRenderer))
	return hex.EncodeToString(sum[:8])
}

func orUnavailable(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return Unavailable
	}
	return v
}
