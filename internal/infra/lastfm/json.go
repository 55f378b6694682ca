package lastfm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Last.fm responses are loosely typed: numbers arrive as strings, a list with
// one element may be sent as a bare object, and an artist may be a name or an object.
// The types below accept every shape and decode anything else to the zero value.

// list decodes a JSON array, a single object, or anything else as empty.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = nil
	case data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			*l = nil
			return nil
		}
		result := make([]T, 0, len(items))
		for _, raw := range items {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				continue
			}
			result = append(result, item)
		}
		*l = result
	case data[0] == '{':
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			*l = nil
			return nil
		}
		*l = []T{item}
	default:
		*l = nil
	}
	return nil
}

// score decodes a number or a numeric string.
type score float64

func (s *score) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		*s = 0
		return nil
	}
	*s = score(v)
	return nil
}

// artistName decodes "name", {"name": "..."} or {"#text": "..."}.
type artistName string

func (a *artistName) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*a = ""
			return nil
		}
		*a = artistName(s)
		return nil
	}

	var obj struct {
		Name string `json:"name"`
		Text string `json:"#text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		*a = ""
		return nil
	}
	if obj.Name != "" {
		*a = artistName(obj.Name)
	} else {
		*a = artistName(obj.Text)
	}
	return nil
}
