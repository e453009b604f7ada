/*
Package syncstore implements a key-path addressed store that pushes full snapshots
to its watchers.

Every backend exposes the same contract: Watch delivers the complete current
children of a path after registration and again after every change, and Append
adds a child under a store-generated key, resolving ServerTimestamp placeholders
to the store's own clock at commit time.
*/
package syncstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("syncstore: invalid path")

	// ErrClosed is returned, or delivered to watchers, once a store has been closed.
	ErrClosed = errors.New("syncstore: store closed")
)

// CancelFunc stops a watch. Calling it more than once is a no-op.
type CancelFunc func()

// Child is one entry under a watched path.
type Child struct {
	// Key is the store-assigned key of the entry.
	Key string

	// Value is the entry's JSON document.
	Value json.RawMessage
}

// Snapshot is the complete content of a path at one point in time.
// Children are in the order the store committed them.
type Snapshot struct {
	Path     string
	Children []Child
}

// AppendResult describes a committed append.
type AppendResult struct {
	// Key is the store-assigned key of the new child.
	Key string

	// CommittedAt is the store clock reading used for ServerTimestamp placeholders.
	CommittedAt time.Time
}

// Store is the capability the chat core consumes.
type Store interface {
	// Watch registers callbacks for path and returns immediately. onSnapshot is
	// called with the initial content and after every change; onError when a
	// read fails. The watch stays active after an error. Callbacks for one watch
	// never run concurrently.
	Watch(path string, onSnapshot func(Snapshot), onError func(error)) CancelFunc

	// Append stores value as a new child of path and returns its key and commit time.
	Append(ctx context.Context, path string, value any) (AppendResult, error)
}

// ServerValue is a placeholder the store replaces at commit time.
type ServerValue struct {
	SV string `json:".sv"`
}

// ServerTimestamp resolves to the commit time in Unix milliseconds.
var ServerTimestamp = ServerValue{SV: "timestamp"}

// serverTimestampToken is the JSON encoding of ServerTimestamp. Inside JSON strings
// quotes are escaped, so the token can only match a real placeholder object.
const serverTimestampToken = `{".sv":"timestamp"}`

// resolveServerValues replaces every ServerTimestamp placeholder in raw with ms.
func resolveServerValues(raw []byte, ms int64) []byte {
	return bytes.ReplaceAll(raw, []byte(serverTimestampToken), strconv.AppendInt(nil, ms, 10))
}

// encodeValue marshals value and requires a JSON object.
func encodeValue(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 || raw[0] != '{' {
		return nil, errors.New("syncstore: value must encode to a JSON object")
	}

	return raw, nil
}

// CleanPath trims surrounding slashes and rejects empty paths and empty segments.
func CleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", ErrInvalidPath
	}

	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", ErrInvalidPath
		}
	}

	return path, nil
}
