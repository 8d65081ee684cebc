package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSONV1 = "credential_json"
	CredentialPayloadVersionV1    = 1
)

// CredentialCodec serializes the secret part of a credential for storage.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(credential Credential) ([]byte, error)
	Decode(payload []byte) (Credential, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	PrincipalID  string          `json:"principal_id"`
	AccessToken  string          `json:"access_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	Identity     *IdentityClaims `json:"id_token_claims,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Revoked      bool            `json:"revoked"`
}

func (JSONCredentialCodec) Encode(credential Credential) ([]byte, error) {
	payload := jsonCredentialPayload{
		PrincipalID:  strings.TrimSpace(credential.PrincipalID),
		AccessToken:  strings.TrimSpace(credential.AccessToken),
		RefreshToken: strings.TrimSpace(credential.RefreshToken),
		Identity:     CloneIdentity(credential.Identity),
		Revoked:      credential.Revoked,
	}
	if !credential.ExpiresAt.IsZero() {
		expiresAt := credential.ExpiresAt.UTC()
		payload.ExpiresAt = &expiresAt
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (Credential, error) {
	if len(payload) == 0 {
		return Credential{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Credential{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	out := Credential{
		PrincipalID:  strings.TrimSpace(decoded.PrincipalID),
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		Identity:     CloneIdentity(decoded.Identity),
		Revoked:      decoded.Revoked,
	}
	if decoded.ExpiresAt != nil {
		out.ExpiresAt = decoded.ExpiresAt.UTC()
	}
	return out, nil
}

func CloneIdentity(in *IdentityClaims) *IdentityClaims {
	if in == nil {
		return nil
	}
	out := *in
	out.Extra = copyAnyMap(in.Extra)
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return &out
}

func CloneCredential(in Credential) Credential {
	out := in
	out.Identity = CloneIdentity(in.Identity)
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ CredentialCodec = JSONCredentialCodec{}
