package signer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
)

// LoadPrivateKey parses a PEM encoded RSA key in PKCS#1 or PKCS#8 form
func LoadPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	return key, nil
}

// KeyFromConfig loads the signing key from inline PEM or from a file
func KeyFromConfig(cfg config.SigningConfig) (*rsa.PrivateKey, error) {
	pemBytes := []byte(cfg.PrivateKeyPEM)
	if len(pemBytes) == 0 {
		if cfg.PrivateKeyPath == "" {
			return nil, errors.New("signing key not configured")
		}
		b, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		pemBytes = b
	}
	return LoadPrivateKey(pemBytes)
}
