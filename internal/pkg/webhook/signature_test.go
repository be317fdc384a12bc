package webhook

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

var testBody = []byte(`{"id":"evt_1","type":"invoice.payment_failed","created":1700000000,"data":{"object":{"id":"in_1"}}}`)

func TestVerifySignatureAcceptsValidHeader(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := Sign(testBody, testSecret, now)

	require.NoError(t, VerifySignature(testBody, header, testSecret, DefaultTolerance, now))
}

func TestVerifySignatureRejectsAnySingleBitFlip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := Sign(testBody, testSecret, now)

	for i := range testBody {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), testBody...)
			tampered[i] ^= 1 << bit
			err := VerifySignature(tampered, header, testSecret, DefaultTolerance, now)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("flip byte %d bit %d: expected invalid signature, got %v", i, bit, err)
			}
		}
	}
}

func TestVerifySignatureTolerance(t *testing.T) {
	signedAt := time.Unix(1700000000, 0)
	header := Sign(testBody, testSecret, signedAt)

	tests := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{name: "exactly at tolerance", offset: 300 * time.Second},
		{name: "one second late", offset: 301 * time.Second, wantErr: ErrStaleSignature},
		{name: "one second early", offset: -301 * time.Second, wantErr: ErrStaleSignature},
		{name: "slightly early", offset: -10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(testBody, header, testSecret, DefaultTolerance, signedAt.Add(tt.offset))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifySignatureMalformedHeaders(t *testing.T) {
	now := time.Unix(1700000000, 0)
	valid := Sign(testBody, testSecret, now)
	_, v1, _ := cutV1(valid)

	for _, header := range []string{
		"",
		"garbage",
		fmt.Sprintf("v1=%s", v1),
		"t=1700000000",
		"t=abc,v1=" + v1,
		"t=1700000000,v1=zz",
	} {
		err := VerifySignature(testBody, header, testSecret, DefaultTolerance, now)
		assert.ErrorIs(t, err, ErrMalformedSignature, "header %q", header)
	}
}

func TestVerifySignatureAcceptsRotatedSecretEntry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	good := Sign(testBody, testSecret, now)
	_, v1, _ := cutV1(good)
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), "00ff", v1)

	assert.NoError(t, VerifySignature(testBody, header, testSecret, DefaultTolerance, now))
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := Sign(testBody, "other", now)

	err := VerifySignature(testBody, header, testSecret, DefaultTolerance, now)
	var sigErr *SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, InvalidSignature, sigErr.Kind)
}

func cutV1(header string) (string, string, bool) {
	for i := 0; i+3 <= len(header); i++ {
		if header[i:i+3] == "v1=" {
			return header[:i], header[i+3:], true
		}
	}
	return header, "", false
}
