package objectstore

import (
	"context"
	"io"
	"strings"
)

// FingerprintKey is the user metadata key carrying an object's SHA-256
const FingerprintKey = "sha256"

// Object is the remote state of one published object. Fingerprint is empty
// when the object carries no SHA-256 metadata.
type Object struct {
	Key         string
	Size        int64
	Fingerprint string
}

// PutOptions describe an upload
type PutOptions struct {
	ContentType     string
	ContentEncoding string
	Fingerprint     string
}

// Store is the remote publish target
type Store interface {
	// List returns every object under prefix
	List(ctx context.Context, prefix string) ([]Object, error)
	// Put uploads size bytes from r to key
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
}

// lookupFingerprint finds the SHA-256 in user metadata. Servers differ in
// whether keys keep the x-amz-meta- prefix and in their casing.
func lookupFingerprint(meta map[string]string) string {
	for k, v := range meta {
		name := strings.ToLower(k)
		name = strings.TrimPrefix(name, "x-amz-meta-")
		if name == FingerprintKey {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}
