package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Canonicalize re-encodes a JSON document so that signer and receiver agree
// byte for byte: object keys sorted, no insignificant whitespace, HTML
// characters left unescaped, numbers kept exactly as written.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode payload: trailing data after JSON value")
	}
	return encodeCanonical(v)
}

// CanonicalJSON marshals any Go value into canonical JSON.
func CanonicalJSON(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return Canonicalize(raw)
	}
	if raw, ok := v.([]byte); ok {
		return Canonicalize(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return Canonicalize(data)
}

func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// maps are emitted with sorted keys by encoding/json
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SignBytes returns the lowercase hex HMAC-SHA256 of body.
func SignBytes(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign canonicalizes payload and signs it.
func Sign(payload any, secret string) (string, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return SignBytes(body, secret), nil
}

// Verify recomputes the signature and compares the hex text in constant
// time. Any difference in the provided text, case included, fails.
func Verify(payload any, signature, secret string) bool {
	expected, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyBody checks a signature over a raw request body as received.
func VerifyBody(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(SignBytes(body, secret)), []byte(signature))
}
