package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/goliatone/go-credentials/core"
)

const (
	defaultKeyID = "app-key"
	hkdfSalt     = "go-credentials/token-encryption"
)

type Option func(*appKeyOptions)

type appKeyOptions struct {
	keyID   string
	version int
	retired []retiredKey
}

type retiredKey struct {
	material []byte
	id       string
	version  int
}

// AppKeySecretProvider seals credential tokens with AES-256-GCM under a key
// derived from application key material. Retired keys can be kept for
// decryption only.
type AppKeySecretProvider struct {
	active  derivedKey
	retired map[string]derivedKey
}

type derivedKey struct {
	id      string
	version int
	aead    cipher.AEAD
}

func WithKeyID(id string) Option {
	return func(opts *appKeyOptions) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			opts.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(opts *appKeyOptions) {
		if version > 0 {
			opts.version = version
		}
	}
}

// WithRetiredKey keeps a previous key available for Decrypt.
func WithRetiredKey(keyMaterial []byte, id string, version int) Option {
	return func(opts *appKeyOptions) {
		opts.retired = append(opts.retired, retiredKey{
			material: append([]byte(nil), keyMaterial...),
			id:       id,
			version:  version,
		})
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	options := appKeyOptions{keyID: defaultKeyID, version: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	active, err := deriveKey(keyMaterial, options.keyID, options.version)
	if err != nil {
		return nil, err
	}
	provider := &AppKeySecretProvider{active: active, retired: map[string]derivedKey{}}
	for _, item := range options.retired {
		key, err := deriveKey(item.material, item.id, item.version)
		if err != nil {
			return nil, fmt.Errorf("security: retired key: %w", err)
		}
		provider.retired[keyRef(key.id, key.version)] = key
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	nonce := make([]byte, p.active.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := p.active.aead.Seal(nil, nonce, plaintext, p.active.additionalData())
	return encodeEnvelope(envelope{
		KeyID:      p.active.id,
		Version:    p.active.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	parsed, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, ok := p.keyFor(parsed.KeyID, parsed.Version)
	if !ok {
		return nil, fmt.Errorf("security: no key for %q version %d", parsed.KeyID, parsed.Version)
	}
	nonce, err := decodeBase64Field("nonce", parsed.Nonce)
	if err != nil {
		return nil, err
	}
	payload, err := decodeBase64Field("ciphertext", parsed.Ciphertext)
	if err != nil {
		return nil, err
	}
	if len(nonce) != key.aead.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce length %d", len(nonce))
	}
	plaintext, err := key.aead.Open(nil, nonce, payload, key.additionalData())
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.active.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.active.version
}

// NeedsReseal reports whether ciphertext was sealed with a key other than
// the active one.
func (p *AppKeySecretProvider) NeedsReseal(ciphertext []byte) bool {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false
	}
	return meta.KeyID != p.active.id || meta.Version != p.active.version
}

func (p *AppKeySecretProvider) keyFor(id string, version int) (derivedKey, bool) {
	if id == p.active.id && version == p.active.version {
		return p.active, true
	}
	key, ok := p.retired[keyRef(id, version)]
	return key, ok
}

func deriveKey(keyMaterial []byte, id string, version int) (derivedKey, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return derivedKey{}, fmt.Errorf("security: key material is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return derivedKey{}, fmt.Errorf("security: key id is required")
	}
	if version <= 0 {
		return derivedKey{}, fmt.Errorf("security: key version must be positive")
	}

	reader := hkdf.New(sha256.New, material, []byte(hkdfSalt), []byte(keyRef(id, version)))
	raw := make([]byte, 32)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return derivedKey{}, fmt.Errorf("security: derive key: %w", err)
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return derivedKey{}, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return derivedKey{}, fmt.Errorf("security: create gcm: %w", err)
	}
	return derivedKey{id: id, version: version, aead: aead}, nil
}

func (k derivedKey) additionalData() []byte {
	return []byte(keyRef(k.id, k.version))
}

func keyRef(id string, version int) string {
	return id + "/v" + strconv.Itoa(version)
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
