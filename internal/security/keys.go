package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// LoadPEM returns s as PEM bytes when it is inline PEM (literal "\n" sequences from env files
// are expanded); otherwise s is treated as a file path.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded RSA or ECDSA private key (PKCS#1, PKCS#8 or SEC 1).
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported private key block %q", ErrInvalidKey, block.Type)
}

// ParsePublicKey parses a PEM-encoded RSA or ECDSA public key.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	}
	return nil, fmt.Errorf("%w: unsupported public key block %q", ErrInvalidKey, block.Type)
}

// NewProviderFromPEM builds a TokenProvider from config values. privatePEM may be empty,
// yielding a verify-only provider.
func NewProviderFromPEM(privatePEM, publicPEM, issuer, audience string) (*TokenProvider, error) {
	var signer crypto.Signer
	if strings.TrimSpace(privatePEM) != "" {
		var err error
		if signer, err = ParsePrivateKey(privatePEM); err != nil {
			return nil, fmt.Errorf("private key: %w", err)
		}
	}
	var pub crypto.PublicKey
	if strings.TrimSpace(publicPEM) != "" {
		var err error
		if pub, err = ParsePublicKey(publicPEM); err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
	}
	if signer == nil && pub == nil {
		return nil, ErrInvalidKey
	}
	return NewTokenProvider(signer, pub, issuer, audience, defaultAccessTTL), nil
}

func decodeBlock(s string) (*pem.Block, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}
