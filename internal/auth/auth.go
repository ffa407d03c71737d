// Package auth obtains the handshake credential for the stream and control
// channels.
//
// The remote advertises whether auth is required at /auth/config. When it
// is, the viewer fetches a single-use nonce from /auth/nonce and signs it
// with the shared secret: sig = hex(HMAC-SHA256(secret, nonce)). Any
// failure aborts the connection attempt; the viewer never falls back to an
// unauthenticated connect.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"streamviewer/internal/logger"
	"streamviewer/internal/types"
)

// ErrSecretRequired is returned when the remote requires auth and no shared
// secret is configured.
var ErrSecretRequired = errors.New("auth is enabled; an API key is required")

// Error reports a failed negotiation step. It is kept distinct from
// transport errors so callers can surface it separately.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "auth " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Negotiator fetches auth requirements and nonces from the remote.
type Negotiator struct {
	BaseURL string
	Secret  string
	Client  *http.Client
	Log     *zap.Logger
}

// New returns a Negotiator for the remote at baseURL.
func New(baseURL, secret string, client *http.Client, log *zap.Logger) *Negotiator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Negotiator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		Client:  client,
		Log:     logger.OrNop(log),
	}
}

// Config fetches /auth/config.
func (n *Negotiator) Config(ctx context.Context) (types.AuthConfig, error) {
	var cfg types.AuthConfig
	if err := n.getJSON(ctx, "/auth/config", &cfg); err != nil {
		return cfg, &Error{Op: "config", Err: err}
	}
	return cfg, nil
}

// Negotiate returns a fresh credential, or nil when the remote does not
// require auth.
func (n *Negotiator) Negotiate(ctx context.Context) (*types.Credential, error) {
	cfg, err := n.Config(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.AuthRequired {
		n.Log.Debug("remote does not require auth")
		return nil, nil
	}
	if n.Secret == "" {
		return nil, &Error{Op: "config", Err: ErrSecretRequired}
	}

	var nonce types.Nonce
	if err := n.getJSON(ctx, "/auth/nonce", &nonce); err != nil {
		return nil, &Error{Op: "nonce", Err: err}
	}
	if nonce.Nonce == "" {
		return nil, &Error{Op: "nonce", Err: errors.New("empty nonce")}
	}
	n.Log.Debug("nonce issued", zap.Float64("expires_at", nonce.ExpiresAt))
	return &types.Credential{Nonce: nonce.Nonce, Sig: Sign(n.Secret, nonce.Nonce)}, nil
}

// Sign computes the hex HMAC-SHA256 of nonce keyed by secret.
func Sign(secret, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of nonce under secret, in
// constant time.
func Verify(secret, nonce, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce))
	return hmac.Equal(mac.Sum(nil), want)
}

func (n *Negotiator) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+path, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := n.Client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errors.Errorf("GET %s failed (%d)", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
