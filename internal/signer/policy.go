package signer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Policy is a custom CloudFront access policy with a single expiry condition
type Policy struct {
	Statement []Statement `json:"Statement"`
}

// Statement binds a resource to its access condition
type Statement struct {
	Resource  string    `json:"Resource"`
	Condition Condition `json:"Condition"`
}

// Condition holds the expiry constraint
type Condition struct {
	DateLessThan EpochTime `json:"DateLessThan"`
}

// EpochTime is a point in time as integer epoch seconds
type EpochTime struct {
	EpochTime int64 `json:"AWS:EpochTime"`
}

// NewPolicy grants access to resource until expires
func NewPolicy(resource string, expires time.Time) Policy {
	return Policy{
		Statement: []Statement{{
			Resource: resource,
			Condition: Condition{
				DateLessThan: EpochTime{EpochTime: expires.Unix()},
			},
		}},
	}
}

// JSON renders the policy as compact JSON. URLs are written verbatim; the
// default encoder would escape '&' in query strings.
func (p Policy) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

var (
	toURLSafe   = strings.NewReplacer("+", "-", "/", "_", "=", "~")
	fromURLSafe = strings.NewReplacer("-", "+", "_", "/", "~", "=")
)

// EncodePolicy base64-encodes b and remaps '+', '/' and '=' to '-', '_' and '~'
func EncodePolicy(b []byte) string {
	return toURLSafe.Replace(base64.StdEncoding.EncodeToString(b))
}

// DecodePolicy reverses EncodePolicy
func DecodePolicy(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(fromURLSafe.Replace(s))
}
