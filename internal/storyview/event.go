// Package storyview tracks how much of a story an anonymous visitor watched
// and commits one monotonically improving engagement record per visitor and
// story.
package storyview

import (
	"fmt"
	"time"

	"github.com/onnwee/storyviews/internal/validate"
)

// EventKind tags a playback event.
type EventKind string

// Playback event kinds.
const (
	EventEnter      EventKind = "enter"
	EventPlay       EventKind = "play"
	EventPause      EventKind = "pause"
	EventResume     EventKind = "resume"
	EventMuteToggle EventKind = "mute_toggle"
	EventProgress   EventKind = "progress"
	EventComplete   EventKind = "complete"
	EventExit       EventKind = "exit"
	EventReply      EventKind = "reply"
	EventLink       EventKind = "link"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventEnter, EventPlay, EventPause, EventResume, EventMuteToggle,
		EventProgress, EventComplete, EventExit, EventReply, EventLink:
		return true
	}
	return false
}

// ExitReason is the cause that ended a session.
type ExitReason string

// Exit reasons. The set is closed.
const (
	ExitAutoAdvance    ExitReason = "auto_advance"
	ExitManualNext     ExitReason = "manual_next"
	ExitManualPrevious ExitReason = "manual_previous"
	ExitCloseButton    ExitReason = "close_button"
	ExitLinkClick      ExitReason = "link_click"
	ExitChatReply      ExitReason = "chat_reply"
	ExitStorySwitch    ExitReason = "story_switch"
	ExitScreenUnload   ExitReason = "screen_unload"
	ExitIdleTimeout    ExitReason = "idle_timeout"
)

// ExitReasons lists every valid exit reason.
var ExitReasons = []ExitReason{
	ExitAutoAdvance, ExitManualNext, ExitManualPrevious, ExitCloseButton,
	ExitLinkClick, ExitChatReply, ExitStorySwitch, ExitScreenUnload, ExitIdleTimeout,
}

// Valid reports whether r belongs to the closed set of exit reasons.
func (r ExitReason) Valid() bool {
	for _, v := range ExitReasons {
		if r == v {
			return true
		}
	}
	return false
}

// ParseExitReason validates s as an exit reason.
func ParseExitReason(s string) (ExitReason, error) {
	r := ExitReason(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidExitReason, s)
	}
	return r, nil
}

// PlaybackEvent is one entry of a session's playback history. Only the
// payload fields that belong to Kind are set; the rest stay zero.
type PlaybackEvent struct {
	Kind EventKind `json:"type"`
	At   time.Time `json:"timestamp"`

	// Progress is the fraction of the media shown, set on progress events.
	Progress *float64 `json:"progress,omitempty"`
	// Muted is the state after a mute_toggle.
	Muted *bool `json:"muted,omitempty"`
	// URL is the destination of a link event.
	URL string `json:"url,omitempty"`
	// Text is the message of a reply event.
	Text string `json:"text,omitempty"`
	// ExitReason is set on exit events.
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	// SessionID ties events from several sessions in a merged history.
	SessionID string `json:"session_id,omitempty"`
}

// Validate checks the event kind and its payload.
func (e PlaybackEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.At.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	if e.Progress != nil && (*e.Progress < 0 || *e.Progress > 1) {
		return fmt.Errorf("%w: progress %v outside [0,1]", ErrInvalidEvent, *e.Progress)
	}
	switch e.Kind {
	case EventMuteToggle:
		if e.Muted == nil {
			return fmt.Errorf("%w: mute_toggle requires muted", ErrInvalidEvent)
		}
	case EventLink:
		if e.URL == "" {
			return fmt.Errorf("%w: link requires url", ErrInvalidEvent)
		}
		if _, err := validate.LinkURL(e.URL); err != nil {
			return fmt.Errorf("%w: link url: %v", ErrInvalidEvent, err)
		}
	case EventReply:
		if _, err := validate.ReplyText(e.Text); err != nil {
			return fmt.Errorf("%w: reply text: %v", ErrInvalidEvent, err)
		}
	case EventExit:
		if e.ExitReason != "" && !e.ExitReason.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidExitReason, e.ExitReason)
		}
	}
	return nil
}

// AppendEvents returns history followed by next. Neither input is modified
// and ordering within each is preserved.
func AppendEvents(history, next []PlaybackEvent) []PlaybackEvent {
	out := make([]PlaybackEvent, 0, len(history)+len(next))
	out = append(out, history...)
	return append(out, next...)
}

// MediaType is the kind of media a story shows.
type MediaType string

// Media types.
const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Default durations used when the client does not report one.
const (
	DefaultImageDurationMs int64 = 5000
	DefaultVideoDurationMs int64 = 15000
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	return m == MediaImage || m == MediaVideo
}

// Media describes the item being shown.
type Media struct {
	Type       MediaType `json:"media_type"`
	DurationMs int64     `json:"duration_ms"`
}

// Validate checks the media type.
func (m Media) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMediaType, m.Type)
	}
	if m.DurationMs < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidMediaType)
	}
	return nil
}

// EffectiveDurationMs returns the reported duration or the type default.
func (m Media) EffectiveDurationMs() int64 {
	if m.DurationMs > 0 {
		return m.DurationMs
	}
	if m.Type == MediaVideo {
		return DefaultVideoDurationMs
	}
	return DefaultImageDurationMs
}
