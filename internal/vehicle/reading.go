// Package vehicle builds the per-cycle snapshot of vehicle and charger
// state from the two buses.
package vehicle

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Reading is a measured value that may be unknown. Unknown readings
// encode as JSON null.
type Reading struct {
	Value float64
	Valid bool
}

// Unknown is the zero Reading.
var Unknown = Reading{}

// Known wraps a measured value.
func Known(v float64) Reading { return Reading{Value: v, Valid: true} }

// Or returns the value, or def when unknown.
func (r Reading) Or(def float64) float64 {
	if !r.Valid {
		return def
	}
	return r.Value
}

func (r Reading) String() string {
	if !r.Valid {
		return "unknown"
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*r = Unknown
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Known(v)
	return nil
}
