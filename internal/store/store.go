package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("store closed")
)

// Fields holds the top-level fields of a document.
type Fields map[string]any

// Snapshot is a point-in-time view of a single document.
type Snapshot struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Fields Fields `json:"fields,omitempty"`
	Exists bool   `json:"exists"`
}

// Decode copies the snapshot fields into out.
func (s Snapshot) Decode(out any) error {
	return Decode(s.Fields, out)
}

// Subscription is a live watch on a document or collection.
// Cancel may be called any number of times.
type Subscription interface {
	Cancel()
}

// Store is a hierarchical document store.
//
// Paths alternate collection and document segments: "calls" is a collection,
// "calls/abc" a document, "calls/abc/offerCandidates" a subcollection.
type Store interface {
	// NewDocID allocates a fresh document id within collection.
	NewDocID(ctx context.Context, collection string) (string, error)

	// Set writes a document. With merge the given fields are merged into the
	// existing document instead of replacing it.
	Set(ctx context.Context, path string, fields Fields, merge bool) error

	// Get reads a document. A missing document yields Exists == false.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Add appends a new document with a generated id to collection.
	Add(ctx context.Context, collection string, fields Fields) (string, error)

	// WatchDocument delivers the current snapshot of path and then every
	// change to it, in order.
	WatchDocument(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)

	// WatchCollection delivers every existing document of collection in
	// insertion order and then each newly added document.
	WatchCollection(ctx context.Context, collection string, fn func(Snapshot)) (Subscription, error)

	Close() error
}

// Decode converts loosely typed document fields into a struct tagged with
// `json` tags. Numbers are converted weakly so values survive JSON and
// msgpack round trips.
func Decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// Int returns the integer value of key, or 0 and false when it is absent or
// not numeric.
func (f Fields) Int(key string) (int64, bool) {
	switch v := f[key].(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// String returns the string value of key.
func (f Fields) String(key string) (string, bool) {
	s, ok := f[key].(string)
	return s, ok
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitDocument splits a document path into its parent collection and id.
func SplitDocument(path string) (collection, id string, err error) {
	parts, err := segments(path)
	if err != nil {
		return "", "", err
	}
	if len(parts)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, path)
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// ValidateCollection checks that path names a collection.
func ValidateCollection(path string) error {
	parts, err := segments(path)
	if err != nil {
		return err
	}
	if len(parts)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, path)
	}
	return nil
}

func segments(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}
