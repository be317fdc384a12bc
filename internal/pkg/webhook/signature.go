package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the accepted clock distance between the signing
// timestamp and now.
const DefaultTolerance = 300 * time.Second

// SignatureErrorKind classifies why a signature header was rejected.
type SignatureErrorKind int

const (
	MalformedSignature SignatureErrorKind = iota + 1
	StaleSignature
	InvalidSignature
)

func (k SignatureErrorKind) String() string {
	switch k {
	case MalformedSignature:
		return "malformed_signature"
	case StaleSignature:
		return "stale_signature"
	case InvalidSignature:
		return "invalid_signature"
	default:
		return "unknown"
	}
}

// SignatureError is returned for every rejected delivery. It is terminal:
// the request is answered with a 4xx and never retried on our side.
type SignatureError struct {
	Kind   SignatureErrorKind
	Reason string
}

func (e *SignatureError) Error() string {
	if e.Reason == "" {
		return "webhook: " + e.Kind.String()
	}
	return fmt.Sprintf("webhook: %s: %s", e.Kind, e.Reason)
}

// Is matches any SignatureError of the same kind, so callers can write
// errors.Is(err, webhook.ErrStaleSignature).
func (e *SignatureError) Is(target error) bool {
	t, ok := target.(*SignatureError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMalformedSignature = &SignatureError{Kind: MalformedSignature}
	ErrStaleSignature     = &SignatureError{Kind: StaleSignature}
	ErrInvalidSignature   = &SignatureError{Kind: InvalidSignature}
)

type signatureHeader struct {
	timestamp  int64
	signatures [][]byte
}

// parseHeader reads "t=<unix>,v1=<hex>[,v1=<hex>...]". Unknown schemes are
// ignored so the gateway can add new ones.
func parseHeader(header string) (*signatureHeader, error) {
	h := strings.TrimSpace(header)
	if h == "" {
		return nil, &SignatureError{Kind: MalformedSignature, Reason: "empty header"}
	}

	parsed := &signatureHeader{}
	haveTimestamp := false
	for _, part := range strings.Split(h, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, &SignatureError{Kind: MalformedSignature, Reason: "timestamp is not an integer"}
			}
			parsed.timestamp = ts
			haveTimestamp = true
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(value))
			if err != nil || len(sig) == 0 {
				continue
			}
			parsed.signatures = append(parsed.signatures, sig)
		}
	}

	if !haveTimestamp {
		return nil, &SignatureError{Kind: MalformedSignature, Reason: "missing t"}
	}
	if len(parsed.signatures) == 0 {
		return nil, &SignatureError{Kind: MalformedSignature, Reason: "missing v1"}
	}
	return parsed, nil
}

// VerifySignature checks header against rawBody. It is the only gate in
// front of event parsing.
func VerifySignature(rawBody []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return &SignatureError{Kind: InvalidSignature, Reason: "no signing secret configured"}
	}
	parsed, err := parseHeader(header)
	if err != nil {
		return err
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	signedAt := time.Unix(parsed.timestamp, 0)
	drift := now.Sub(signedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return &SignatureError{Kind: StaleSignature, Reason: fmt.Sprintf("timestamp off by %s", drift.Truncate(time.Second))}
	}

	expected := computeSignature(rawBody, secret, parsed.timestamp)
	for _, sig := range parsed.signatures {
		// hmac.Equal checks the length and then folds every byte.
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return &SignatureError{Kind: InvalidSignature}
}

// Sign builds a signature header for body at t.
func Sign(body []byte, secret string, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(body, secret, ts)))
}

func computeSignature(body []byte, secret string, ts int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
