package emu

import (
	"fmt"
	"strconv"
)

// Value is a sealed interface representing the scalar types an emulator
// state variable can hold. Only IntValue, FloatValue, BoolValue, and
// StringValue implement it.
type Value interface {
	stateValue() // Sealed - only these types implement it

	// String renders the value for log and failure messages.
	String() string
}

// IntValue represents an integer state variable. Always int64.
type IntValue int64

func (IntValue) stateValue() {}

func (v IntValue) String() string { return strconv.FormatInt(int64(v), 10) }

// FloatValue represents a floating-point state variable.
type FloatValue float64

func (FloatValue) stateValue() {}

func (v FloatValue) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

// BoolValue represents a boolean state variable.
type BoolValue bool

func (BoolValue) stateValue() {}

func (v BoolValue) String() string { return strconv.FormatBool(bool(v)) }

// StringValue represents a string state variable.
type StringValue string

func (StringValue) stateValue() {}

func (v StringValue) String() string { return strconv.Quote(string(v)) }

// Snapshot is a point-in-time read of the emulator's named state
// variables. A snapshot is immutable once returned from a session query;
// every query produces a fresh one, nothing is cached across frames.
type Snapshot map[string]Value

// Lookup returns the value for name, reporting whether it exists.
func (s Snapshot) Lookup(name string) (Value, bool) {
	v, ok := s[name]
	return v, ok
}

// ValueFromAny converts a decoded JSON/YAML scalar into a Value.
// json.Unmarshal produces float64 for all numbers; whole floats are
// narrowed to IntValue so that integer comparisons behave naturally.
func ValueFromAny(raw any) (Value, error) {
	switch v := raw.(type) {
	case bool:
		return BoolValue(v), nil
	case string:
		return StringValue(v), nil
	case int:
		return IntValue(v), nil
	case int64:
		return IntValue(v), nil
	case float64:
		if v == float64(int64(v)) {
			return IntValue(int64(v)), nil
		}
		return FloatValue(v), nil
	default:
		return nil, fmt.Errorf("unsupported state value type %T", raw)
	}
}

// SnapshotFromAny converts a decoded JSON object into a Snapshot.
func SnapshotFromAny(raw map[string]any) (Snapshot, error) {
	snap := make(Snapshot, len(raw))
	for name, rv := range raw {
		v, err := ValueFromAny(rv)
		if err != nil {
			return nil, fmt.Errorf("state variable %q: %w", name, err)
		}
		snap[name] = v
	}
	return snap, nil
}
