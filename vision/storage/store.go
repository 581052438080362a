package storage

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	arrayPrefix = "array/"
	manifestKey = "meta/names"
)

// Store keeps named arrays in a pebble database directory. One array per key;
// a manifest key lists the stored names in insertion order.
type Store struct {
	mu  sync.Mutex
	db  *pebble.DB
	dir string
}

// OpenStore opens or creates a store in dir.
func OpenStore(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dir)
	}
	return &Store{db: db, dir: dir}, nil
}

// OpenStoreReadOnly opens an existing store for reading. A directory holding no
// store fails with ErrNotFound and is left as it was.
func OpenStoreReadOnly(dir string) (*Store, error) {
	ok, err := isStoreDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dir)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no store in %s", ErrNotFound, dir)
	}
	db, err := pebble.Open(dir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dir)
	}
	return &Store{db: db, dir: dir}, nil
}

// isStoreDir reports whether dir holds a pebble manifest.
func isStoreDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "MANIFEST-") {
			return true, nil
		}
	}
	return false, nil
}

// Put writes arrays and records their names. Existing arrays with the same name
// are replaced.
func (s *Store) Put(arrays ...Array) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.names()
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, a := range arrays {
		if err := a.Validate(); err != nil {
			return err
		}
		if err := batch.Set([]byte(arrayPrefix+a.Name), MarshalArray(a), nil); err != nil {
			return errors.Wrapf(err, "stage array %q", a.Name)
		}
		if !slices.Contains(names, a.Name) {
			names = append(names, a.Name)
		}
	}
	if err := batch.Set([]byte(manifestKey), encodeNames(names), nil); err != nil {
		return errors.Wrap(err, "stage manifest")
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(err, "commit to store %s", s.dir)
	}
	return nil
}

// Get reads the array stored under name.
func (s *Store) Get(name string) (Array, error) {
	val, closer, err := s.db.Get([]byte(arrayPrefix + name))
	if err == pebble.ErrNotFound {
		return Array{}, fmt.Errorf("%w: %q in %s", ErrKeyNotFound, name, s.dir)
	}
	if err != nil {
		return Array{}, errors.Wrapf(err, "read array %q", name)
	}
	defer closer.Close()

	// UnmarshalArray copies, so val may be released afterwards
	arr, err := UnmarshalArray(val)
	if err != nil {
		return Array{}, errors.WithMessagef(err, "array %q in %s", name, s.dir)
	}
	return arr, nil
}

// Names lists stored array names.
func (s *Store) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names()
}

func (s *Store) names() ([]string, error) {
	val, closer, err := s.db.Get([]byte(manifestKey))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	defer closer.Close()
	return decodeNames(val)
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeNames(names []string) []byte {
	var b []byte
	for _, n := range names {
		b = protowire.AppendString(b, n)
	}
	return b
}

func decodeNames(b []byte) ([]string, error) {
	var names []string
	for len(b) > 0 {
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, protowire.ParseError(n))
		}
		names = append(names, string(v))
		b = b[n:]
	}
	return names, nil
}
