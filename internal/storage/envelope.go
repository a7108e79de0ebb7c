// Envelope wraps a payload with a tenant-bound wrapper so a decrypt
// attempt with the wrong tenant id is refused outright. Encryption uses
// nacl/secretbox keyed by an HKDF-derived per-tenant key; payloads
// above a size threshold are gzip-compressed first.
package storage

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"

	"github.com/guardant/sentinel/internal/domain/nest"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
	"crypto/sha256"
)

var (
	ErrNestMismatch = errors.New("storage: payload nest id does not match caller")
	ErrDecryptFailed = errors.New("storage: decryption failed")
)

// envelope is the on-the-wire wrapper around a stored payload.
type envelope struct {
	NestID     string `json:"nest_id"`
	Compressed bool   `json:"compressed,omitempty"`
	Encrypted  bool   `json:"encrypted,omitempty"`
	Nonce      []byte `json:"nonce,omitempty"`
	Data       []byte `json:"data"`
}

// Codec compresses/encrypts payloads into envelopes and back.
type Codec struct {
	masterKey            []byte // 0 length disables encryption
	compressionThreshold int
}

// NewCodec builds a Codec. masterKey, if non-empty, enables envelope
// encryption; compressionThreshold is the byte size above which
// payloads are gzip-compressed before (optional) encryption.
func NewCodec(masterKey []byte, compressionThreshold int) *Codec {
	if compressionThreshold <= 0 {
		compressionThreshold = 4096
	}
	return &Codec{masterKey: masterKey, compressionThreshold: compressionThreshold}
}

// Wrap produces the stored envelope bytes for payload, bound to nestID.
func (c *Codec) Wrap(nestID nest.ID, payload []byte) ([]byte, bool, bool, error) {
	env := envelope{NestID: string(nestID), Data: payload}

	if len(payload) > c.compressionThreshold {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return nil, false, false, err
		}
		if err := gz.Close(); err != nil {
			return nil, false, false, err
		}
		env.Data = buf.Bytes()
		env.Compressed = true
	}

	if len(c.masterKey) > 0 {
		key, err := c.tenantKey(nestID)
		if err != nil {
			return nil, false, false, err
		}
		var nonce [24]byte
		if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
			return nil, false, false, err
		}
		var keyArr [32]byte
		copy(keyArr[:], key)
		sealed := secretbox.Seal(nil, env.Data, &nonce, &keyArr)
		env.Data = sealed
		env.Nonce = nonce[:]
		env.Encrypted = true
	}

	out, err := json.Marshal(env)
	return out, env.Compressed, env.Encrypted, err
}

// Unwrap reverses Wrap, refusing payloads whose embedded nest id does
// not match nestID.
func (c *Codec) Unwrap(nestID nest.ID, wrapped []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(wrapped, &env); err != nil {
		return nil, err
	}
	if env.NestID != string(nestID) {
		return nil, ErrNestMismatch
	}

	data := env.Data
	if env.Encrypted {
		if len(c.masterKey) == 0 {
			return nil, ErrDecryptFailed
		}
		key, err := c.tenantKey(nestID)
		if err != nil {
			return nil, err
		}
		var nonce [24]byte
		copy(nonce[:], env.Nonce)
		var keyArr [32]byte
		copy(keyArr[:], key)
		opened, ok := secretbox.Open(nil, data, &nonce, &keyArr)
		if !ok {
			return nil, ErrDecryptFailed
		}
		data = opened
	}

	if env.Compressed {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}

// tenantKey derives a per-tenant 32-byte key from the master key via
// HKDF, so no two tenants share key material even under one master key.
func (c *Codec) tenantKey(nestID nest.ID) ([]byte, error) {
	r := hkdf.New(sha256.New, c.masterKey, nil, []byte("guardant-sentinel-tenant:"+string(nestID)))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
