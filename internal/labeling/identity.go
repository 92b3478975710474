package labeling

import (
	"fmt"
	"hash/fnv"
	"path"
	"strings"
)

// maxBaseLen caps the readable part of a document ID so bucket paths with
// long filenames stay usable as primary keys.
const maxBaseLen = 40

// ComputeDocumentID derives a stable document identifier from a bucket
// object path. The readable prefix is the basename without its final
// extension, restricted to letters, digits, '-' and '_' (anything else
// becomes '_') and truncated to 40 characters. The suffix fingerprints the
// full object path, so documents with identical basenames in different
// folders never collide. Same path in, same ID out, on every invocation.
func ComputeDocumentID(objectPath string) string {
	base := path.Base(objectPath)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	var b strings.Builder
	b.Grow(len(base))
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := b.String()
	if len(safe) > maxBaseLen {
		safe = safe[:maxBaseLen]
	}

	h := fnv.New32a()
	h.Write([]byte(objectPath))
	return fmt.Sprintf("%s_%08x", safe, h.Sum32())
}
