// internal/utils/crypto.go
package utils

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

// VerifySignature checks a detached ed25519 signature over message.
// Key material is base64-encoded DER (SPKI), the format the deployed
// gateways ship. Any decode or verification failure is a plain false:
// callers treat malformed input the same as a bad signature and must
// never abort on it.
func VerifySignature(publicKeyB64, signatureB64, message string) bool {
	keyDER, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return false
	}

	parsed, err := x509.ParsePKIXPublicKey(keyDER)
	if err != nil {
		return false
	}

	publicKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return false
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}

	return ed25519.Verify(publicKey, []byte(message), signature)
}

// GenerateKeyPair creates an ed25519 key pair in the wire encoding:
// base64 DER SPKI public key, base64 DER PKCS#8 private key. Used by
// provisioning tooling and tests.
func GenerateKeyPair() (publicKeyB64, privateKeyB64 string, err error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(pubDER),
		base64.StdEncoding.EncodeToString(privDER), nil
}

// Sign produces a base64 detached signature over message with a
// base64 DER PKCS#8 ed25519 private key.
func Sign(privateKeyB64, message string) (string, error) {
	keyDER, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode private key: %w", err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	privateKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return "", fmt.Errorf("not an ed25519 private key")
	}

	signature := ed25519.Sign(privateKey, []byte(message))
	return base64.StdEncoding.EncodeToString(signature), nil
}
