package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSONV1 = "token_bundle_json"
	CredentialPayloadVersionV1    = 1
)

// CredentialCodec serializes a token bundle for durable storage. Stores call
// Encode before persisting and Decode when hydrating the cache.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(bundle TokenBundle) ([]byte, error)
	Decode(payload []byte) (TokenBundle, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonTokenBundlePayload struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (JSONCredentialCodec) Encode(bundle TokenBundle) ([]byte, error) {
	payload := jsonTokenBundlePayload{
		AccessToken:  strings.TrimSpace(bundle.AccessToken),
		RefreshToken: strings.TrimSpace(bundle.RefreshToken),
		TokenType:    strings.TrimSpace(bundle.TokenType),
		Scope:        strings.TrimSpace(bundle.Scope),
	}
	if !bundle.ExpiresAt.IsZero() {
		expiresAt := bundle.ExpiresAt.UTC()
		payload.ExpiresAt = &expiresAt
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (TokenBundle, error) {
	if len(payload) == 0 {
		return TokenBundle{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonTokenBundlePayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return TokenBundle{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	bundle := TokenBundle{
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		Scope:        strings.TrimSpace(decoded.Scope),
	}
	if decoded.ExpiresAt != nil {
		bundle.ExpiresAt = decoded.ExpiresAt.UTC()
	}
	return bundle, nil
}
