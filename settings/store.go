// Package settings holds the node's persistent settings blob.
//
// A blob is replaced as a whole. The committed blob always matches its
// checksum: a write is validated completely before the backing is touched,
// and the in-memory copy only changes after the backing has committed.
package settings

import (
	"hash/crc32"
	"sync"

	"github.com/pkg/errors"

	"github.com/amrbekhit/squidboot/wire"
)

// Blob is a committed settings blob and its checksum.
type Blob struct {
	Data  []byte
	CRC32 uint32
}

// Valid reports whether the checksum matches the data.
func (b Blob) Valid() bool {
	return crc32.ChecksumIEEE(b.Data) == b.CRC32
}

// Backing persists a blob. Store must be atomic with respect to Load: after
// a failed or interrupted Store, Load returns the previous blob.
type Backing interface {
	// Load returns the committed blob. ok is false when nothing has been
	// stored yet.
	Load() (b Blob, ok bool, err error)
	Store(b Blob) error
}

// Store validates writes and keeps the committed blob.
type Store struct {
	mu      sync.Mutex
	max     uint32
	backing Backing
	current Blob
}

// NewStore creates a store accepting blobs of up to max bytes and loads the
// blob already committed to backing, if any.
func NewStore(max uint32, backing Backing) (*Store, error) {
	s := &Store{max: max, backing: backing, current: Blob{CRC32: crc32.ChecksumIEEE(nil)}}
	b, ok, err := backing.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	if ok {
		if !b.Valid() {
			return nil, errors.Errorf("stored settings fail checksum %08X", b.CRC32)
		}
		s.current = b
	}
	return s, nil
}

// Max returns the capacity in bytes.
func (s *Store) Max() uint32 {
	return s.max
}

// Get returns the committed blob, or an empty blob with the checksum of no
// bytes when nothing has been written.
func (s *Store) Get() Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Blob{Data: append([]byte(nil), s.current.Data...), CRC32: s.current.CRC32}
}

// Write validates and commits data. Validation failures are returned as
// wire.SettingsTooLong or wire.BadSettingsCRC; any other error comes from
// the backing and leaves the previous blob in effect.
func (s *Store) Write(crc uint32, data []byte) (Blob, error) {
	if uint64(len(data)) > uint64(s.max) {
		return Blob{}, wire.SettingsTooLong{Max: s.max, Actual: uint32(len(data))}
	}
	if actual := crc32.ChecksumIEEE(data); actual != crc {
		return Blob{}, wire.BadSettingsCRC{Expected: crc, Actual: actual}
	}

	b := Blob{Data: append([]byte(nil), data...), CRC32: crc}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backing.Store(b); err != nil {
		return Blob{}, errors.Wrap(err, "commit settings")
	}
	s.current = b
	return b, nil
}

// MemoryBacking keeps the blob in memory. It is used by tests and by nodes
// that do not need settings to survive a restart.
type MemoryBacking struct {
	mu   sync.Mutex
	blob *Blob
	// Fail, when set, is returned by Store.
	Fail error
}

func (m *MemoryBacking) Load() (Blob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return Blob{}, false, nil
	}
	return *m.blob, true, nil
}

func (m *MemoryBacking) Store(b Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.blob = &b
	return nil
}
