package paymentcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New("short")
	assert.ErrorIs(t, err, ErrShortSecret)
}

func TestEncryptDecrypt(t *testing.T) {
	c, err := New(testSecret)
	require.NoError(t, err)

	in := Details{"paypal_email": "aff@example.com"}
	enc, err := c.Encrypt(in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "v1."))
	assert.NotContains(t, enc, "aff@example.com")

	out, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	again, err := c.Encrypt(in)
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "fresh nonce per encryption")
}

func TestDecrypt_Tampered(t *testing.T) {
	c, err := New(testSecret)
	require.NoError(t, err)
	enc, err := c.Encrypt(Details{"iban": "DE89370400440532013000"})
	require.NoError(t, err)

	mid := len(enc) / 2
	swap := byte('A')
	if enc[mid] == 'A' {
		swap = 'B'
	}
	tampered := enc[:mid] + string(swap) + enc[mid+1:]
	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = c.Decrypt("v2." + enc[3:])
	assert.ErrorIs(t, err, ErrMalformed)

	other, err := New(strings.Repeat("z", 32))
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFingerprint_Normalizes(t *testing.T) {
	c, err := New(testSecret)
	require.NoError(t, err)

	a := c.Fingerprint(Details{"iban": "DE89 3704 0044 0532 0130 00"})
	b := c.Fingerprint(Details{" IBAN ": "de89370400440532013000"})
	d := c.Fingerprint(Details{"iban": "DE89370400440532013001"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 64)
}

func TestSeal(t *testing.T) {
	c, err := New(testSecret)
	require.NoError(t, err)

	enc, fp, err := c.Seal(Details{"stripe_account": "acct_1"})
	require.NoError(t, err)
	assert.NotEmpty(t, enc)
	assert.Equal(t, c.Fingerprint(Details{"stripe_account": "acct_1"}), fp)

	_, _, err = c.Seal(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}
