package server

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// indexedObject renders a slice as {"0": v0, "1": v1, ...} with keys in
// slice order. A map would sort the keys as strings ("10" before "2").
type indexedObject[T any] []T

func (o indexedObject[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strconv.Itoa(i))
		buf.WriteString(`":`)
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
