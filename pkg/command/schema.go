package command

import (
	"math"

	"github.com/stormstack/lightning/pkg/errdefs"
)

// TypeTag declares the wire type of a command parameter. All values are
// carried as float32 in the store; tags control boundary coercion only.
type TypeTag string

const (
	TypeFloat    TypeTag = "float"
	TypeInt      TypeTag = "int"
	TypeBool     TypeTag = "bool"
	TypeEntityID TypeTag = "entityId"
	TypePlayerID TypeTag = "playerId"
)

// Schema maps parameter names to their declared types.
type Schema map[string]TypeTag

// Coerce converts a raw JSON payload to typed float values. Every declared
// parameter must be present and convertible; unknown fields are rejected so
// typos surface at the boundary instead of inside a tick.
func Coerce(schema Schema, payload map[string]any) (map[string]float32, error) {
	for field := range payload {
		if _, ok := schema[field]; !ok {
			return nil, errdefs.BadRequest("unknown parameter %q", field)
		}
	}

	out := make(map[string]float32, len(schema))
	for field, tag := range schema {
		raw, ok := payload[field]
		if !ok {
			return nil, errdefs.TypeError(field, string(tag), nil)
		}
		v, err := coerceValue(field, tag, raw)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

func coerceValue(field string, tag TypeTag, raw any) (float32, error) {
	switch tag {
	case TypeFloat:
		f, ok := asFloat(raw)
		if !ok {
			return 0, errdefs.TypeError(field, string(tag), raw)
		}
		return float32(f), nil

	case TypeInt, TypeEntityID, TypePlayerID:
		f, ok := asFloat(raw)
		if !ok || f != math.Trunc(f) {
			return 0, errdefs.TypeError(field, string(tag), raw)
		}
		return float32(f), nil

	case TypeBool:
		switch b := raw.(type) {
		case bool:
			if b {
				return 1, nil
			}
			return 0, nil
		default:
			return 0, errdefs.TypeError(field, string(tag), raw)
		}

	default:
		return 0, errdefs.TypeError(field, string(tag), raw)
	}
}

func asFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
