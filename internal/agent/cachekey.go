package agent

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// CacheKey hashes a task's description together with the paths and
// contents of the files it references, so an unchanged task over
// unchanged files maps to the same key. Paths are resolved against root;
// missing files contribute their path only.
func CacheKey(root, description string, files []string) (string, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	h := blake3.New()
	writeField(h, "description", []byte(description))
	for _, f := range sorted {
		writeField(h, "path", []byte(f))
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f)))
		switch {
		case err == nil:
			writeField(h, "content", data)
		case os.IsNotExist(err):
			writeField(h, "missing", nil)
		default:
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeField length-prefixes each field so adjacent values cannot collide.
func writeField(h *blake3.Hasher, name string, value []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(value)))
	_, _ = h.Write([]byte(name))
	_, _ = h.Write(n[:])
	_, _ = h.Write(value)
}
