// Package enums holds the string enums mirrored by Postgres enum types.
package enums

import "fmt"

// parseEnum returns the member of valid equal to raw, matching case-sensitively
// like the database does.
func parseEnum[T ~string](kind, raw string, valid []T) (T, error) {
	for _, v := range valid {
		if string(v) == raw {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
