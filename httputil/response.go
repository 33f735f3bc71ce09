package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ErrorEnvelope is the catalog's error shape: {"status":"error","code":…,
// "message":…}. The code field is a number on some endpoints and a string on
// others, so it decodes through StatusCode.
type ErrorEnvelope struct {
	Status  string     `json:"status"`
	Code    StatusCode `json:"code"`
	Message string     `json:"message"`
}

// StatusCode tolerates the catalog's inconsistent encoding of numeric codes.
type StatusCode struct {
	Value   int
	Present bool
}

func (c *StatusCode) UnmarshalJSON(b []byte) error {
	res := gjson.ParseBytes(b)
	switch res.Type {
	case gjson.Number:
		c.Value = int(res.Int())
		c.Present = true
	case gjson.String:
		n, err := strconv.Atoi(res.Str)
		if nil != err {
			return fmt.Errorf("unexpected non-numeric status code %q", res.Str)
		}
		c.Value = n
		c.Present = true
	case gjson.Null:
		*c = StatusCode{}
	default:
		return fmt.Errorf("unexpected status code json: %s", string(b))
	}

	return nil
}

// ParseErrorEnvelope reports whether b carries the error envelope, and decodes
// it when it does.
func ParseErrorEnvelope(b []byte) (*ErrorEnvelope, bool, error) {
	if !gjson.ValidBytes(b) {
		return nil, false, errors.New("invalid response json")
	}

	if gjson.GetBytes(b, "status").Str != "error" {
		return nil, false, nil
	}

	var env ErrorEnvelope
	if err := json.Unmarshal(b, &env); nil != err {
		return nil, false, fmt.Errorf("decode error envelope: %v", err)
	}

	return &env, true, nil
}

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("unexpected empty response body")
		}

		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	return respBody, nil
}

// RetryAfter extracts the server-issued throttle delay in seconds from a 429
// response, falling back to def when the header is absent or malformed.
func RetryAfter(resp *http.Response, def int) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return def
	}

	secs, err := strconv.Atoi(v)
	if nil != err || secs < 0 {
		return def
	}

	return secs
}
