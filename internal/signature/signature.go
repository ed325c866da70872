// Package signature fingerprints a directory tree by file path and
// modification time so callers can tell cheaply whether anything under it
// changed since a previous computation.
package signature

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"

	"ragchat/internal/domain"
)

// Stamp is one file's contribution to a signature.
type Stamp struct {
	Path    string // absolute path
	ModTime int64  // Unix nanoseconds
}

// Signature is an immutable, path-sorted sequence of stamps. File content is
// not hashed: rewriting a file with identical bytes still changes it.
type Signature struct {
	stamps []Stamp
	digest uint64
}

// Compute walks root and returns its signature. Symbolic links to regular
// files count as files; symbolic links to directories are not descended.
func Compute(root string) (Signature, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: resolving %s: %w", domain.ErrFilesystem, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %w", domain.ErrFilesystem, err)
	}
	if !info.IsDir() {
		return Signature{}, fmt.Errorf("%w: %s is not a directory", domain.ErrFilesystem, abs)
	}

	var stamps []Stamp
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		var fi fs.FileInfo
		if d.Type()&fs.ModeSymlink != 0 {
			fi, err = os.Stat(path)
			if err != nil {
				// dangling link
				return nil
			}
		} else {
			fi, err = d.Info()
			if err != nil {
				return err
			}
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		stamps = append(stamps, Stamp{Path: path, ModTime: fi.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return Signature{}, fmt.Errorf("%w: scanning %s: %w", domain.ErrFilesystem, abs, err)
	}
	return New(stamps), nil
}

// New builds a signature from stamps in any order.
func New(stamps []Stamp) Signature {
	sorted := make([]Stamp, len(stamps))
	copy(sorted, stamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return Signature{stamps: sorted, digest: digest(sorted)}
}

func digest(stamps []Stamp) uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, s := range stamps {
		_, _ = h.Write([]byte(s.Path))
		_, _ = h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], uint64(s.ModTime))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Len returns the number of files covered.
func (s Signature) Len() int { return len(s.stamps) }

// Stamps returns a copy of the sorted stamps.
func (s Signature) Stamps() []Stamp {
	out := make([]Stamp, len(s.stamps))
	copy(out, s.stamps)
	return out
}

// Equal reports whether both signatures cover the same files with the same
// modification times.
func (s Signature) Equal(other Signature) bool {
	if s.digest != other.digest || len(s.stamps) != len(other.stamps) {
		return false
	}
	for i := range s.stamps {
		if s.stamps[i] != other.stamps[i] {
			return false
		}
	}
	return true
}

// Digest is a short hex fingerprint. Equal signatures have equal digests; the
// converse is only probable, so use Equal to decide freshness.
func (s Signature) Digest() string {
	return strconv.FormatUint(s.digest, 16)
}
