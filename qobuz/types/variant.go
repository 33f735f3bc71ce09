package types

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ListOrSingle tolerates the catalog's inconsistent encoding of list-like
// fields, which arrive sometimes as an array, sometimes as a bare object, and
// sometimes not at all.
type ListOrSingle[T any] struct {
	Items   []T
	Present bool
}

func (v *ListOrSingle[T]) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		*v = ListOrSingle[T]{}
		return nil
	}

	switch b[0] {
	case 'n': // null
		*v = ListOrSingle[T]{}
		return nil
	case '[':
		var items []T
		if err := json.Unmarshal(b, &items); nil != err {
			return fmt.Errorf("decode list variant: %v", err)
		}
		v.Items = items
		v.Present = true

		return nil
	default:
		var single T
		if err := json.Unmarshal(b, &single); nil != err {
			return fmt.Errorf("decode single variant: %v", err)
		}
		v.Items = []T{single}
		v.Present = true

		return nil
	}
}

func (v ListOrSingle[T]) MarshalJSON() ([]byte, error) {
	if !v.Present {
		return []byte("null"), nil
	}

	return json.Marshal(v.Items)
}
