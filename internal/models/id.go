package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// ChunkID derives the stable, content-addressed identifier for a chunk.
// The same (collection, filePath, kind, qualifiedName, lineStart) tuple
// always yields the same id, independent of content or run order.
func ChunkID(collection, filePath string, kind ChunkKind, qualifiedName string, lineStart int) string {
	h := sha256.New()
	h.Write([]byte(collection))
	h.Write([]byte{0})
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(qualifiedName))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(lineStart)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:32]
}

// ContentHash derives a content fingerprint used for incremental
// re-indexing decisions; unlike ChunkID it changes whenever the file's
// bytes change.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
