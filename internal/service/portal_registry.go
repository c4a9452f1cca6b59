package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/karigar/karigar/internal/client"
	"github.com/karigar/karigar/internal/config"
)

// Portal is an external scheme portal; *client.PortalClient implements it.
type Portal interface {
	Submit(ctx context.Context, in client.SubmitRequest) (string, error)
	FetchStatus(ctx context.Context, reference string) (*client.PortalStatus, error)
}

// SignatureVerifier checks a webhook signature over the raw request body.
type SignatureVerifier interface {
	Verify(payload []byte, signature string) bool
}

// HMACVerifier expects the hex HMAC-SHA256 of the body, optionally prefixed
// with "sha256=".
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(payload []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature Verify accepts for payload.
func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// StaticSecretVerifier is for portals that send a shared secret verbatim.
type StaticSecretVerifier struct {
	secret string
}

func NewStaticSecretVerifier(secret string) *StaticSecretVerifier {
	return &StaticSecretVerifier{secret: secret}
}

func (v *StaticSecretVerifier) Verify(_ []byte, signature string) bool {
	if v.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(signature)), []byte(v.secret)) == 1
}

type registeredPortal struct {
	client   Portal
	verifier SignatureVerifier
}

// PortalRegistry maps portal names to their client and webhook verifier.
// It is built once at startup and read-only afterwards.
type PortalRegistry struct {
	portals map[string]registeredPortal
}

func NewPortalRegistry() *PortalRegistry {
	return &PortalRegistry{portals: make(map[string]registeredPortal)}
}

func NewPortalRegistryFromConfig(portals []config.PortalConfig) *PortalRegistry {
	r := NewPortalRegistry()
	for _, p := range portals {
		var verifier SignatureVerifier = NewHMACVerifier(p.Secret)
		if p.Scheme == "static" {
			verifier = NewStaticSecretVerifier(p.Secret)
		}
		r.Register(p.Name, client.NewPortalClient(p.Name, p.BaseURL, p.Secret), verifier)
	}
	return r
}

func (r *PortalRegistry) Register(name string, portal Portal, verifier SignatureVerifier) {
	r.portals[name] = registeredPortal{client: portal, verifier: verifier}
}

func (r *PortalRegistry) Client(name string) (Portal, bool) {
	p, ok := r.portals[name]
	if !ok || p.client == nil {
		return nil, false
	}
	return p.client, true
}

func (r *PortalRegistry) Verifier(name string) (SignatureVerifier, bool) {
	p, ok := r.portals[name]
	if !ok || p.verifier == nil {
		return nil, false
	}
	return p.verifier, true
}
