// Package cache names expensive intermediate artifacts by content hash.
//
// A non-empty file at a derived path is treated as a valid artifact. There is
// no invalidation: every input that changes the artifact bytes must feed the
// key. Zero-length or missing files are misses, which makes interrupted writes
// recompute transparently.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DeriveKey hashes the ordered parts. Each part is length-prefixed so that
// ("ab", "c") and ("a", "bc") never collide.
func DeriveKey(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		io.WriteString(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ParamsKey hashes the canonical JSON form of v. encoding/json sorts map keys
// and keeps struct field order, so equal values always hash equally.
func ParamsKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only unsupported types (channels, funcs) fail; callers pass plain structs.
		panic(fmt.Sprintf("cache: unhashable params %T: %v", v, err))
	}
	return DeriveKey(string(b))
}

// PathFor places a key inside dir with the given extension (".png", "mp3", ...).
func PathFor(key, dir, ext string) string {
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	return filepath.Join(dir, key+ext)
}

// ExistsNonEmpty is the cache-hit test.
func ExistsNonEmpty(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.Mode().IsRegular() && st.Size() > 0
}

// WriteFile writes data next to path and renames it into place, so a crash
// never leaves a truncated file that looks like a hit.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// FileHash returns the hex sha256 of a file's contents.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
