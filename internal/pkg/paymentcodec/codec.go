// Package paymentcodec encrypts affiliate payout destinations at rest and
// derives the fingerprint used to detect shared destinations.
package paymentcodec

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	version = "v1"

	// MinSecretLength matches PAYMENT_DETAILS_KEY validation.
	MinSecretLength = 32
)

var (
	ErrShortSecret = errors.New("paymentcodec: secret must be at least 32 bytes")
	ErrMalformed   = errors.New("paymentcodec: malformed ciphertext")
	ErrEmpty       = errors.New("paymentcodec: no payment details")
)

// Details are the decrypted payout destination fields, e.g. stripe_account,
// paypal_email, iban.
type Details map[string]string

type Codec struct {
	aead           cipher.AEAD
	fingerprintKey []byte
}

func New(secret string) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	encKey, err := derive(secret, "payfox/payment-details/encryption", chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	fpKey, err := derive(secret, "payfox/payment-details/fingerprint", 32)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead, fingerprintKey: fpKey}, nil
}

func derive(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

// Encrypt returns "v1.<base64url(nonce|ciphertext)>".
func (c *Codec) Encrypt(details Details) (string, error) {
	if len(details) == 0 {
		return "", ErrEmpty
	}
	plain, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plain, []byte(version))
	return version + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *Codec) Decrypt(encoded string) (Details, error) {
	prefix, body, ok := strings.Cut(encoded, ".")
	if !ok || prefix != version {
		return nil, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, []byte(version))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var out Details
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// Fingerprint is a keyed SHA-256 over the normalized details, so the same
// destination entered with different casing or spacing matches.
func (c *Codec) Fingerprint(details Details) string {
	keys := make([]string, 0, len(details))
	norm := make(map[string]string, len(details))
	for k, v := range details {
		nk := strings.ToLower(strings.TrimSpace(k))
		nv := strings.ToLower(strings.Join(strings.Fields(v), ""))
		if nk == "" || nv == "" {
			continue
		}
		keys = append(keys, nk)
		norm[nk] = nv
	}
	sort.Strings(keys)

	mac := hmac.New(sha256.New, c.fingerprintKey)
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte{0})
		mac.Write([]byte(norm[k]))
		mac.Write([]byte{0})
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Seal encrypts details and returns the ciphertext with its fingerprint.
func (c *Codec) Seal(details Details) (encrypted, fingerprint string, err error) {
	encrypted, err = c.Encrypt(details)
	if err != nil {
		return "", "", err
	}
	return encrypted, c.Fingerprint(details), nil
}
