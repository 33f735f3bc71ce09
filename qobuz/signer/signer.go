// Package signer computes request signatures for protected catalog endpoints.
//
// The signature is a pure function of the endpoint, the parameters in the
// endpoint's server-mandated order, the timestamp and the application secret:
// identical inputs always produce identical output.
package signer

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMissingSecret indicates a credential-lifecycle bug upstream: a protected
// request was signed before credentials were validated. It is never a
// network condition.
var ErrMissingSecret = errors.New("request signature requires an application secret")

// Param is one key/value pair of a signed request. Order matters: the server
// verifies the concatenation in a fixed per-endpoint order, not alphabetical.
type Param struct {
	Key   string
	Value string
}

// Sign produces the lowercase-hex digest for a protected call. The endpoint
// name is its path with separators removed ("track/getFileUrl" signs as
// "trackgetFileUrl").
func Sign(endpoint string, params []Param, secret string, timestamp string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(endpoint, "/", ""))
	for _, p := range params {
		b.WriteString(p.Key)
		b.WriteString(p.Value)
	}
	b.WriteString(timestamp)
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String())) //nolint:gosec

	return hex.EncodeToString(sum[:]), nil
}
