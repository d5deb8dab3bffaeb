// Package auth decides whether a bearer token may use the relay.
package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nulzo/chat-relay/internal/config"
	"github.com/nulzo/chat-relay/internal/httpclient"
)

// Verifier checks a bearer token. An error means the check itself could not
// be carried out; callers treat it as a rejection.
type Verifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// StaticVerifier accepts exactly one configured token.
type StaticVerifier struct {
	token []byte
}

func NewStaticVerifier(token string) *StaticVerifier {
	return &StaticVerifier{token: []byte(token)}
}

func (s *StaticVerifier) Verify(_ context.Context, token string) (bool, error) {
	if len(s.token) == 0 {
		return false, nil
	}
	return subtle.ConstantTimeCompare(s.token, []byte(token)) == 1, nil
}

// RemoteVerifier delegates the decision to a verification service, which
// receives the client token and the relay's own secret together.
type RemoteVerifier struct {
	url    string
	secret string
	client httpclient.HTTPClient
}

func NewRemoteVerifier(baseURL, secret string, client httpclient.HTTPClient) *RemoteVerifier {
	return &RemoteVerifier{
		url:    strings.TrimRight(baseURL, "/") + "/bearer/verify",
		secret: secret,
		client: client,
	}
}

type credentials struct {
	AK string `json:"ak"`
	SK string `json:"sk"`
}

type verifyResponse struct {
	Success bool `json:"success"`
}

func (r *RemoteVerifier) Verify(ctx context.Context, token string) (bool, error) {
	encoded, err := encodeCredentials(token, r.secret)
	if err != nil {
		return false, err
	}

	var resp verifyResponse
	headers := map[string]string{"Authorization": "Bearer " + encoded}
	if err := httpclient.SendRequest(ctx, r.client, http.MethodPost, r.url, headers, nil, &resp); err != nil {
		return false, fmt.Errorf("bearer verification failed: %w", err)
	}
	return resp.Success, nil
}

// encodeCredentials produces base64 of the compact {"ak","sk"} object.
func encodeCredentials(ak, sk string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(credentials{AK: ak, SK: sk}); err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

type allowAll struct{}

// AllowAll accepts every request. Development only.
func AllowAll() Verifier {
	return allowAll{}
}

func (allowAll) Verify(context.Context, string) (bool, error) {
	return true, nil
}

// FromConfig selects the verifier named by auth.mode.
func FromConfig(cfg config.AuthConfig, client httpclient.HTTPClient) (Verifier, error) {
	switch cfg.Mode {
	case config.AuthStatic, "":
		if cfg.Token == "" {
			return nil, fmt.Errorf("auth.token is required in %s mode", config.AuthStatic)
		}
		return NewStaticVerifier(cfg.Token), nil
	case config.AuthRemote:
		if cfg.URL == "" {
			return nil, fmt.Errorf("auth.url is required in %s mode", config.AuthRemote)
		}
		return NewCachingVerifier(NewRemoteVerifier(cfg.URL, cfg.Secret, client), cfg.CacheTTL), nil
	case config.AuthNone:
		return AllowAll(), nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.Mode)
	}
}
