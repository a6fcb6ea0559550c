// Package codec centralizes how checkpoint manifests and commit pointers
// are encoded.
//
// Both built-in codecs write plain JSON. JSON indents for people reading
// manifests; GoJSON is compact and used for the small pointer blobs that
// are rewritten on every improvement.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}
