// Package signer issues time-limited CloudFront signed URLs and applies
// entitlement gating to premium content.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
)

const (
	defaultExpiry   = time.Hour
	thumbnailExpiry = 24 * time.Hour
)

// Issuer signs object keys for the delivery distribution
type Issuer struct {
	domain          string
	keyPairID       string
	key             *rsa.PrivateKey
	defaultExpiry   time.Duration
	thumbnailExpiry time.Duration
	access          AccessLookup
	now             func() time.Time
}

// Option configures an Issuer
type Option func(*Issuer)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an issuer. access may be nil when only ungated signing is used.
func NewIssuer(cfg config.SigningConfig, key *rsa.PrivateKey, access AccessLookup, opts ...Option) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if cfg.DistributionDomain == "" {
		return nil, errors.New("distribution domain is required")
	}
	if cfg.KeyPairID == "" {
		return nil, errors.New("key pair id is required")
	}

	i := &Issuer{
		domain:          strings.TrimSuffix(cfg.DistributionDomain, "/"),
		keyPairID:       cfg.KeyPairID,
		key:             key,
		defaultExpiry:   cfg.DefaultExpiry,
		thumbnailExpiry: cfg.ThumbnailExpiry,
		access:          access,
		now:             time.Now,
	}
	if i.defaultExpiry <= 0 {
		i.defaultExpiry = defaultExpiry
	}
	if i.thumbnailExpiry <= 0 {
		i.thumbnailExpiry = thumbnailExpiry
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// ResourceURL returns the unsigned distribution URL for key
func (i *Issuer) ResourceURL(key string) string {
	return "https://" + i.domain + "/" + strings.TrimPrefix(key, "/")
}

// Issue signs key for expiresIn; a non-positive duration uses the default expiry
func (i *Issuer) Issue(key string, expiresIn time.Duration) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", &apperrors.SigningError{Key: key, Err: errors.New("empty object key")}
	}
	if expiresIn <= 0 {
		expiresIn = i.defaultExpiry
	}

	resource := i.ResourceURL(key)
	expires := i.now().Add(expiresIn)

	policy, err := NewPolicy(resource, expires).JSON()
	if err != nil {
		return "", &apperrors.SigningError{Key: key, Err: err}
	}

	signature, err := i.sign(policy)
	if err != nil {
		return "", &apperrors.SigningError{Key: key, Err: err}
	}

	return fmt.Sprintf("%s?Expires=%d&Signature=%s&Key-Pair-Id=%s", resource, expires.Unix(), signature, i.keyPairID), nil
}

// IssueThumbnail signs a thumbnail key with the longer thumbnail expiry
func (i *Issuer) IssueThumbnail(key string) (string, error) {
	return i.Issue(key, i.thumbnailExpiry)
}

func (i *Issuer) sign(policy []byte) (string, error) {
	digest := sha1.Sum(policy)
	sig, err := rsa.SignPKCS1v15(rand.Reader, i.key, crypto.SHA1, digest[:])
	if err != nil {
		return "", err
	}
	return EncodePolicy(sig), nil
}

// Verify checks a signed URL against pub at time now
func Verify(signedURL string, pub *rsa.PublicKey, now time.Time) error {
	u, err := url.Parse(signedURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}

	q := u.Query()
	expires, err := strconv.ParseInt(q.Get("Expires"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Expires: %w", err)
	}
	if q.Get("Key-Pair-Id") == "" {
		return errors.New("missing Key-Pair-Id")
	}
	sig, err := DecodePolicy(q.Get("Signature"))
	if err != nil {
		return fmt.Errorf("invalid Signature: %w", err)
	}

	resource := u.Scheme + "://" + u.Host + u.EscapedPath()
	policy, err := NewPolicy(resource, time.Unix(expires, 0)).JSON()
	if err != nil {
		return err
	}

	digest := sha1.Sum(policy)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
		return fmt.Errorf("signature mismatch: %w", err)
	}
	if !now.Before(time.Unix(expires, 0)) {
		return errors.New("url expired")
	}
	return nil
}
