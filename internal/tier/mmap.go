package tier

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MappedLog serves cold-node reads from a read-only mmap of the node log.
// It implements the arena's Pager. The mapping is refreshed lazily when a
// requested offset lies past the mapped region, which happens after new
// appends since the last flush.
type MappedLog struct {
	mu   sync.Mutex
	path string
	data []byte
}

// OpenMapped maps the node log at path. An empty or missing file is valid;
// the first Load past the mapping triggers a remap.
func OpenMapped(path string) (*MappedLog, error) {
	m := &MappedLog{path: path}
	if err := m.remap(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load decodes the node record at offset and returns its value and
// embedding.
func (m *MappedLog) Load(offset int64) (string, []float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset < 0 {
		return "", nil, fmt.Errorf("negative offset %d", offset)
	}
	if offset >= int64(len(m.data)) {
		if err := m.remap(); err != nil {
			return "", nil, err
		}
		if offset >= int64(len(m.data)) {
			return "", nil, fmt.Errorf("offset %d beyond log end %d", offset, len(m.data))
		}
	}

	n, err := DecodeNode(bytes.NewReader(m.data[offset:]))
	if err != nil {
		return "", nil, fmt.Errorf("decode cold record at %d: %w", offset, err)
	}
	return n.Value, n.Embedding, nil
}

// remap drops the current mapping and maps the file at its current size.
func (m *MappedLog) remap() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("munmap node log: %w", err)
		}
		m.data = nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open node log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat node log: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap node log: %w", err)
	}
	m.data = data
	return nil
}

// Close releases the mapping.
func (m *MappedLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
