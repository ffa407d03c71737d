package types

import "time"

// Channel names a logical socket channel.
type Channel string

const (
	ChannelStream  Channel = "stream"
	ChannelControl Channel = "control"
)

// Streaming modes reported by the remote and shown in the mode indicator.
const (
	ModeCDP        = "cdp"
	ModeScreenshot = "screenshot"
)

// Credential is the handshake payload attached to both channels when the
// remote requires auth. It is bound to one nonce and never cached across
// negotiations.
type Credential struct {
	Nonce string `json:"nonce"`
	Sig   string `json:"sig"`
}

// AuthConfig is the public auth configuration served at /auth/config.
type AuthConfig struct {
	AuthRequired            bool `json:"auth_required"`
	NonceTTLSeconds         int  `json:"nonce_ttl_seconds,omitempty"`
	NonceUses               int  `json:"nonce_uses,omitempty"`
	PerSIDEventsPerMinute   int  `json:"per_sid_events_per_minute,omitempty"`
	PerSIDConnectsPerMinute int  `json:"per_sid_connects_per_minute,omitempty"`
}

// Nonce is the body of /auth/nonce.
type Nonce struct {
	Nonce     string  `json:"nonce"`
	ExpiresAt float64 `json:"expires_at,omitempty"`
}

// SamplerTotals counts frames the remote sampler saw and stored.
type SamplerTotals struct {
	Seen   int `json:"seen"`
	Stored int `json:"stored"`
}

// Health is the subset of /healthz the viewer consumes, plus the frame
// counters the dev remote reports.
type Health struct {
	StreamingMode  string        `json:"streaming_mode"`
	SamplerTotals  SamplerTotals `json:"sampler_totals"`
	FramesEmitted  int           `json:"frames_emitted,omitempty"`
	FrameLatencyMS *float64      `json:"frame_latency_ms,omitempty"`
	LastFrameSeq   *int          `json:"last_frame_seq,omitempty"`
}

// ControlState is the server-authoritative lock snapshot. The client only
// ever replaces it wholesale.
type ControlState struct {
	HolderSID       *string  `json:"holder_sid"`
	HeldSince       *float64 `json:"held_since_ts"`
	Paused          bool     `json:"paused"`
	ActiveSessionID *string  `json:"active_session_id"`
}

func (ControlState) inbound() {}

// Holder returns the holder sid or "" when the lock is free.
func (s ControlState) Holder() string {
	if s.HolderSID == nil {
		return ""
	}
	return *s.HolderSID
}

// Held reports whether any session holds the lock.
func (s ControlState) Held() bool { return s.Holder() != "" }

// HeldSinceTime converts held_since_ts (unix seconds) to a time. It returns
// the zero time when the lock is free.
func (s ControlState) HeldSinceTime() time.Time {
	if !s.Held() || s.HeldSince == nil {
		return time.Time{}
	}
	sec := *s.HeldSince
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9))
}
