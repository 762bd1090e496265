// Package identity canonicalizes user identifiers.
//
// Every identifier that enters the realtime core — from a validated token,
// from a wire payload, from a storage read — must pass through Normalize
// before it is used as a map key or compared. Upstream clients have been
// observed sending the same identity as a bare string, a JSON number, or an
// object wrapping an "id" field; normalizing at the boundary means the rest
// of the system only ever sees one canonical string form.
package identity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalize converts any supported identifier representation to its
// canonical string form. Unknown or empty representations normalize to "".
func Normalize(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	case float64:
		// encoding/json decodes all JSON numbers to float64. Identifiers
		// are integral, so render without a fractional part when possible.
		if id == math.Trunc(id) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case map[string]any:
		// Object-wrapped identifiers: {"_id": ...}, {"id": ...} or
		// {"userId": ...}. Recurse on the first wrapper key present.
		for _, key := range []string{"_id", "id", "userId"} {
			if inner, ok := id[key]; ok {
				if s := Normalize(inner); s != "" {
					return s
				}
			}
		}
		return ""
	case fmt.Stringer:
		return strings.TrimSpace(id.String())
	default:
		return strings.TrimSpace(fmt.Sprint(id))
	}
}

// ID is a user identifier field in a wire payload. It decodes from a string,
// a number, or an object wrapping either, and always holds the canonical
// form afterwards. It marshals as a plain JSON string.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*id = ID(Normalize(v))
	return nil
}

func (id ID) String() string { return string(id) }
