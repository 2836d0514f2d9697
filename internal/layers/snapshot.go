package layers

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"skref/internal/errors"
)

// Snapshot is a consistent read of one file.
type Snapshot struct {
	Path     string
	Content  []byte
	Checksum string
	Mode     os.FileMode
}

// Checksum returns the hex BLAKE2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReadSnapshot reads path twice and compares both reads and the file's
// size and modification time around them. A file rewritten mid-read fails
// with TRANSIENT_READ so the caller can retry instead of parsing half a file.
func ReadSnapshot(path string) (*Snapshot, error) {
	before, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	first, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	second, err := os.ReadFile(path)
	if err != nil {
		return nil, transient(path, err)
	}
	after, err := os.Stat(path)
	if err != nil {
		return nil, transient(path, err)
	}

	if !bytes.Equal(first, second) ||
		before.Size() != after.Size() ||
		!before.ModTime().Equal(after.ModTime()) ||
		int64(len(first)) != after.Size() {
		return nil, transient(path, nil)
	}

	return &Snapshot{
		Path:     path,
		Content:  first,
		Checksum: Checksum(first),
		Mode:     after.Mode().Perm(),
	}, nil
}

// Verify re-reads the snapshot's file and reports TRANSIENT_READ when its
// content no longer matches.
func (s *Snapshot) Verify() error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return transient(s.Path, err)
	}
	if Checksum(data) != s.Checksum {
		return transient(s.Path, nil)
	}
	return nil
}

func transient(path string, cause error) error {
	return errors.NewSkrefError(errors.TransientRead, fmt.Sprintf("%s changed while being read", path), cause)
}
