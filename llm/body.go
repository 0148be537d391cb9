package llm

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Body is a JSON request document mutated by path.
//
// Templates and providers write into the same Body one after the other. The
// first failed mutation is latched and every later mutation becomes a no-op;
// callers check Err once the document is assembled. A Body is owned by a
// single submission and is not safe for concurrent use.
type Body struct {
	raw []byte
	err error
}

// NewBody returns an empty JSON object.
func NewBody() *Body {
	return &Body{raw: []byte("{}")}
}

// ParseBody wraps an existing JSON object.
func ParseBody(raw []byte) (*Body, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("body is not a JSON object")
	}
	return &Body{raw: append([]byte(nil), raw...)}, nil
}

// Set stores v at path. Strings, numbers and booleans are written directly,
// anything else is marshalled with encoding/json.
func (b *Body) Set(path string, v any) {
	if b.err != nil {
		return
	}
	raw, err := sjson.SetBytes(b.raw, path, v)
	if err != nil {
		b.err = fmt.Errorf("set %s: %w", path, err)
		return
	}
	b.raw = raw
}

// Delete removes path if present.
func (b *Body) Delete(path string) {
	if b.err != nil {
		return
	}
	raw, err := sjson.DeleteBytes(b.raw, path)
	if err != nil {
		b.err = fmt.Errorf("delete %s: %w", path, err)
		return
	}
	b.raw = raw
}

// Get looks up path.
func (b *Body) Get(path string) gjson.Result {
	return gjson.GetBytes(b.raw, path)
}

// Has reports whether path exists.
func (b *Body) Has(path string) bool {
	return b.Get(path).Exists()
}

// Keys returns the top-level field names in document order.
func (b *Body) Keys() []string {
	var keys []string
	gjson.ParseBytes(b.raw).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}

// Bytes returns a copy of the encoded document.
func (b *Body) Bytes() []byte {
	return append([]byte(nil), b.raw...)
}

// String returns the encoded document.
func (b *Body) String() string {
	return string(b.raw)
}

// Err returns the first mutation error, if any.
func (b *Body) Err() error {
	return b.err
}
