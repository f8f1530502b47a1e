package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the webhook signature: "ts=<unix>,v1=<hex hmac>".
const SignatureHeader = "X-Signature"

// RequestIDHeader is the gateway's per-delivery id, part of the signed manifest.
const RequestIDHeader = "X-Request-Id"

// VerifySignature checks an x-signature header against the webhook secret.
//
// The signed manifest is "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
// Parts whose value is empty are left out of the manifest, matching how the
// gateway signs notifications that lack them.
func VerifySignature(secret, header, requestID, dataID string) error {
	ts, v1 := parseSignatureHeader(header)
	if ts == "" || v1 == "" {
		return ErrMissingSignature
	}

	expected := ComputeSignature(secret, dataID, requestID, ts)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return ErrInvalidSignature
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of the manifest.
func ComputeSignature(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue formats a header value the way the gateway sends it.
func SignatureHeaderValue(secret, dataID, requestID, ts string) string {
	return "ts=" + ts + ",v1=" + ComputeSignature(secret, dataID, requestID, ts)
}

func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		// Alphanumeric ids are signed lowercased.
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}
