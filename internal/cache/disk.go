package cache

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when Entry format changes
const diskSchemaVersion uint16 = 1

// DiskStore keeps entries as one msgpack file per key. Writes go to a temp
// file that is renamed into place, so readers in this or another process
// never observe a partial entry.
type DiskStore struct {
	dir string
}

// OpenDiskStore creates the store directory if needed.
func OpenDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "entries"), 0o755); err != nil {
		return nil, err
	}

	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) pathFor(key Digest) string {
	hexKey := key.String()
	return filepath.Join(s.dir, "entries", hexKey[:2], hexKey+".mp")
}

// Put serializes and writes an entry.
func (s *DiskStore) Put(key Digest, e *Entry) error {
	p := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if err := msgpack.NewEncoder(f).Encode(e); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}

// Get reads an entry. A missing file is a miss, not an error.
func (s *DiskStore) Get(key Digest) (*Entry, bool, error) {
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var e Entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, false, err
	}

	return &e, true, nil
}

// Remove deletes an entry.
func (s *DiskStore) Remove(key Digest) error {
	err := os.Remove(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// DropAll removes every entry.
func (s *DiskStore) DropAll() error {
	if err := os.RemoveAll(filepath.Join(s.dir, "entries")); err != nil {
		return err
	}

	return os.MkdirAll(filepath.Join(s.dir, "entries"), 0o755)
}
