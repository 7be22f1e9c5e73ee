package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
)

var (
	testKey  *rsa.PrivateKey
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestMain(m *testing.M) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	testKey = key
	os.Exit(m.Run())
}

func testSigningConfig() config.SigningConfig {
	return config.SigningConfig{
		DistributionDomain: "d111111abcdef8.cloudfront.net",
		KeyPairID:          "K2JCJMDEHXQW5F",
		DefaultExpiry:      time.Hour,
		ThumbnailExpiry:    24 * time.Hour,
	}
}

func newTestIssuer(t *testing.T, access AccessLookup) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(testSigningConfig(), testKey, access, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return issuer
}

func TestPolicyJSON(t *testing.T) {
	b, err := NewPolicy("https://cdn.example.com/videos/1/master.m3u8?a=1&b=2", time.Unix(1700000000, 0)).JSON()
	require.NoError(t, err)

	assert.Equal(t,
		`{"Statement":[{"Resource":"https://cdn.example.com/videos/1/master.m3u8?a=1&b=2","Condition":{"DateLessThan":{"AWS:EpochTime":1700000000}}}]}`,
		string(b))
}

func TestEncodePolicyRoundTrip(t *testing.T) {
	inputs := [][]byte{
		[]byte(`{"Statement":[]}`),
		{0xfb, 0xff, 0xfe},
		{0x00},
		[]byte("a"),
		[]byte("ab"),
		{},
	}
	for _, in := range inputs {
		encoded := EncodePolicy(in)
		assert.False(t, strings.ContainsAny(encoded, "+/="), "encoded %q", encoded)

		decoded, err := DecodePolicy(encoded)
		require.NoError(t, err)
		assert.Equal(t, in, decoded)
	}
}

func TestEncodePolicyRemap(t *testing.T) {
	// 0xfb 0xff 0xfe encodes to "+//+" in std base64
	assert.Equal(t, "-__-", EncodePolicy([]byte{0xfb, 0xff, 0xfe}))
	assert.Equal(t, "YQ~~", EncodePolicy([]byte("a")))
}

func TestIssue(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	signed, err := issuer.Issue("videos/42/master.m3u8", 0)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "d111111abcdef8.cloudfront.net", u.Host)
	assert.Equal(t, "/videos/42/master.m3u8", u.Path)

	q := u.Query()
	assert.Equal(t, "1772370000", q.Get("Expires"))
	assert.Equal(t, "K2JCJMDEHXQW5F", q.Get("Key-Pair-Id"))
	assert.NotEmpty(t, q.Get("Signature"))
	assert.True(t, strings.HasPrefix(signed, "https://d111111abcdef8.cloudfront.net/videos/42/master.m3u8?Expires="))

	require.NoError(t, Verify(signed, &testKey.PublicKey, fixedNow))
	assert.Error(t, Verify(signed, &testKey.PublicKey, fixedNow.Add(time.Hour)))
}

func TestIssueThumbnailUsesLongerExpiry(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	signed, err := issuer.IssueThumbnail("videos/42/thumbnail.jpg")
	require.NoError(t, err)

	u, _ := url.Parse(signed)
	assert.Equal(t, "1772452800", u.Query().Get("Expires"))
	assert.NoError(t, Verify(signed, &testKey.PublicKey, fixedNow.Add(23*time.Hour)))
}

func TestVerifyRejectsTampering(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	signed, err := issuer.Issue("videos/1/master.m3u8", time.Hour)
	require.NoError(t, err)

	otherKey := strings.Replace(signed, "videos/1/", "videos/2/", 1)
	assert.Error(t, Verify(otherKey, &testKey.PublicKey, fixedNow))

	u, _ := url.Parse(signed)
	q := u.Query()
	q.Set("Expires", "1999999999")
	u.RawQuery = q.Encode()
	assert.Error(t, Verify(u.String(), &testKey.PublicKey, fixedNow))

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	assert.Error(t, Verify(signed, &other.PublicKey, fixedNow))
}

func TestSignatureCoversRawPolicy(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	signed, err := issuer.Issue("videos/9/240p/playlist.m3u8", 30*time.Minute)
	require.NoError(t, err)

	u, _ := url.Parse(signed)
	policy, err := NewPolicy("https://d111111abcdef8.cloudfront.net/videos/9/240p/playlist.m3u8", fixedNow.Add(30*time.Minute)).JSON()
	require.NoError(t, err)

	var decoded Policy
	require.NoError(t, json.Unmarshal(policy, &decoded))
	assert.Equal(t, fixedNow.Add(30*time.Minute).Unix(), decoded.Statement[0].Condition.DateLessThan.EpochTime)

	sig, err := DecodePolicy(u.Query().Get("Signature"))
	require.NoError(t, err)
	assert.Len(t, sig, testKey.Size())
}

func TestIssueEmptyKey(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	_, err := issuer.Issue("  ", time.Hour)
	var serr *apperrors.SigningError
	assert.True(t, errors.As(err, &serr))
	assert.False(t, apperrors.Retryable(err))
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer(testSigningConfig(), nil, nil)
	assert.Error(t, err)

	cfg := testSigningConfig()
	cfg.KeyPairID = ""
	_, err = NewIssuer(cfg, testKey, nil)
	assert.Error(t, err)

	cfg = testSigningConfig()
	cfg.DefaultExpiry = 0
	cfg.ThumbnailExpiry = 0
	issuer, err := NewIssuer(cfg, testKey, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, issuer.defaultExpiry)
	assert.Equal(t, 24*time.Hour, issuer.thumbnailExpiry)
}

func TestLoadPrivateKey(t *testing.T) {
	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(testKey)})
	key, err := LoadPrivateKey(pkcs1)
	require.NoError(t, err)
	assert.True(t, key.Equal(testKey))

	der, err := x509.MarshalPKCS8PrivateKey(testKey)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	key, err = LoadPrivateKey(pkcs8)
	require.NoError(t, err)
	assert.True(t, key.Equal(testKey))

	_, err = LoadPrivateKey([]byte("not pem"))
	assert.Error(t, err)
}

func TestKeyFromConfig(t *testing.T) {
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(testKey)})
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0600))

	key, err := KeyFromConfig(config.SigningConfig{PrivateKeyPath: path})
	require.NoError(t, err)
	assert.True(t, key.Equal(testKey))

	key, err = KeyFromConfig(config.SigningConfig{PrivateKeyPEM: string(pemBytes)})
	require.NoError(t, err)
	assert.True(t, key.Equal(testKey))

	_, err = KeyFromConfig(config.SigningConfig{})
	assert.Error(t, err)
}
