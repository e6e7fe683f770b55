// Package json is the wire codec shared by the entity model and the transports.
package json

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewDecoder = json.NewDecoder
	NewEncoder = json.NewEncoder
)

// ErrNotObject is returned by DecodeObject when the document is valid JSON
// but not an object.
var ErrNotObject = errors.New("json: document is not an object")

// DecodeObject decodes a JSON document that must be an object.
func DecodeObject(data []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}
