package redact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qbzgrab/qbzgrab/redact"
)

func TestString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "empty stays empty", in: "", expected: ""},
		{name: "single char fully masked", in: "x", expected: "*"},
		{name: "short secret mostly masked", in: "abcde", expected: "a***e"},
		{name: "even length keeps both quarters", in: "abcdefgh", expected: "ab****gh"},
		{name: "token middle is hidden", in: "0123456789abcdef", expected: "0123********cdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := redact.String(tt.in)
			assert.Equal(t, tt.expected, got)
			assert.Len(t, got, len(tt.in))
		})
	}
}
