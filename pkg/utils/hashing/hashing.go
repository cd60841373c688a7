// Package hashing computes the content digests used for solution deduplication.
package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the fixed digest length in bytes. The hex form is part of
// the durable contract and must stay at 40 characters.
const DigestSize = 20

// ByContent returns the hex-encoded BLAKE2b digest of a single blob.
func ByContent(content []byte) string {
	sum, _ := blake2b.New(DigestSize, nil)
	_, _ = sum.Write(content)
	return hex.EncodeToString(sum.Sum(nil))
}

// ByFileSet returns the digest of an ordered (path, code) file set.
// Byte-identical file sets always produce the same digest; ordering is the
// submission order, so callers must pass files in a stable order. Each field
// is length-prefixed, so no byte value inside a path or code can shift field
// boundaries.
func ByFileSet(paths []string, codes []string) string {
	sum, _ := blake2b.New(DigestSize, nil)
	for i := range paths {
		writeField(sum, []byte(paths[i]))
		if i < len(codes) {
			writeField(sum, []byte(codes[i]))
		} else {
			writeField(sum, nil)
		}
	}
	return hex.EncodeToString(sum.Sum(nil))
}

func writeField(sum hash.Hash, field []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	_, _ = sum.Write(length[:])
	_, _ = sum.Write(field)
}
