package model

import (
	"encoding/json"
	"math"
)

// Value is an optional indicator value. Valid=false marks rows that do not
// yet have enough history, which is distinct from a computed zero.
type Value struct {
	Float float64
	Valid bool
}

// Some wraps a defined value.
func Some(v float64) Value { return Value{Float: v, Valid: true} }

// None is the insufficient-history marker.
func None() Value { return Value{} }

// Get returns the value and whether it is defined.
func (v Value) Get() (float64, bool) { return v.Float, v.Valid }

// MarshalJSON encodes absent values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid || math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

// UnmarshalJSON decodes null as an absent value.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}
