package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

const fileName = "device.yaml"

// Identity is the node's persistent device key. The private key stays on disk
// under the node's config dir; only the public key is ever sent to a gateway.
type Identity struct {
	DeviceID   string
	PublicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
	CreatedAt  time.Time
}

type storedIdentity struct {
	Version    int    `yaml:"version"`
	DeviceID   string `yaml:"device_id"`
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
	CreatedAt  int64  `yaml:"created_at"`
}

// EnsureIdentity loads the identity stored in dir/device.yaml, creating it on first use.
func EnsureIdentity(dir string) (*Identity, error) {
	path := filepath.Join(dir, fileName)

	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		id, repaired, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("load device identity: %w", err)
		}
		if repaired {
			if err := write(path, id); err != nil {
				return nil, err
			}
		}
		return id, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read device identity: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	id := &Identity{
		DeviceID:   DeviceIDFor(pub),
		PublicKey:  pub,
		privateKey: priv,
		CreatedAt:  time.Now().UTC(),
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	if err := write(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

// decode parses a stored identity. The bool result reports whether the stored
// device id disagreed with the key and was recomputed.
func decode(data []byte) (*Identity, bool, error) {
	var st storedIdentity
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, false, fmt.Errorf("parse: %w", err)
	}
	privBytes, err := base64.StdEncoding.DecodeString(st.PrivateKey)
	if err != nil {
		return nil, false, fmt.Errorf("decode private key: %w", err)
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return nil, false, fmt.Errorf("private key has %d bytes, want %d", len(privBytes), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(privBytes)
	pub := priv.Public().(ed25519.PublicKey)

	id := &Identity{
		DeviceID:   st.DeviceID,
		PublicKey:  pub,
		privateKey: priv,
		CreatedAt:  time.UnixMilli(st.CreatedAt).UTC(),
	}
	want := DeviceIDFor(pub)
	if id.DeviceID != want {
		id.DeviceID = want
		return id, true, nil
	}
	return id, false, nil
}

func write(path string, id *Identity) error {
	st := storedIdentity{
		Version:    1,
		DeviceID:   id.DeviceID,
		PublicKey:  id.PublicKeyBase64URL(),
		PrivateKey: base64.StdEncoding.EncodeToString(id.privateKey),
		CreatedAt:  id.CreatedAt.UnixMilli(),
	}
	data, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("marshal device identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write device identity: %w", err)
	}
	return nil
}

// DeviceIDFor derives the stable device id: hex(sha256(raw public key)).
func DeviceIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// PublicKeyBase64URL is the wire form of the public key (raw 32 bytes, unpadded base64url).
func (id *Identity) PublicKeyBase64URL() string {
	return base64.RawURLEncoding.EncodeToString(id.PublicKey)
}

// Sign signs payload and returns the unpadded base64url signature.
func (id *Identity) Sign(payload string) string {
	sig := ed25519.Sign(id.privateKey, []byte(payload))
	return base64.RawURLEncoding.EncodeToString(sig)
}

// Fingerprint returns the OpenSSH-style SHA256 fingerprint of the device key.
func (id *Identity) Fingerprint() (string, error) {
	key, err := ssh.NewPublicKey(id.PublicKey)
	if err != nil {
		return "", fmt.Errorf("ssh public key: %w", err)
	}
	return ssh.FingerprintSHA256(key), nil
}

// Verify checks a base64url signature produced by Sign against a base64url public key.
func Verify(publicKey, payload, signature string) bool {
	pub, err := base64.RawURLEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(payload), sig)
}
