package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// ComponentColumn carries NaN as the absent-value sentinel, which plain
// encoding/json refuses to emit. On the wire absent cells are null.

type componentColumnWire struct {
	Name   string     `json:"name"`
	Values []*float32 `json:"values"`
}

// MarshalJSON encodes absent (NaN) cells as null.
func (c ComponentColumn) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	name, err := json.Marshal(c.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	buf.WriteString(`,"values":[`)
	for i, v := range c.Values {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(float64(v)) {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes null cells back to the NaN sentinel.
func (c *ComponentColumn) UnmarshalJSON(data []byte) error {
	var wire componentColumnWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Name = wire.Name
	c.Values = make([]float32, len(wire.Values))
	for i, v := range wire.Values {
		if v == nil {
			c.Values[i] = float32(math.NaN())
		} else {
			c.Values[i] = *v
		}
	}
	return nil
}
