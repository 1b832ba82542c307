package tier

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quillmem/synapse/internal/graph"
)

// Dump writes a compacted full copy of the arena into dir: one node record
// per node (cold values paged in), unpruned edges, and the dedup index
// snapshot. Files are written to temp names and renamed so a crashed dump
// never leaves a half-written log behind.
func Dump(store *graph.Store, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	// Collect first, page after: store.Node may take the write lock to cache
	// a paged-in value, which must not happen under ForEachNode's read lock.
	var nodes []graph.Node
	var cold []int
	store.ForEachNode(func(n graph.Node) bool {
		if n.Value == "" && n.Offset > 0 {
			cold = append(cold, len(nodes))
		}
		nodes = append(nodes, n)
		return true
	})
	for _, i := range cold {
		if full, ok := store.Node(nodes[i].ID); ok {
			nodes[i] = full
		}
	}

	err := writeAtomic(filepath.Join(dir, NodeLogName), func(w *bufio.Writer) error {
		for _, n := range nodes {
			if err := EncodeNode(w, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dump nodes: %w", err)
	}

	err = writeAtomic(filepath.Join(dir, EdgeLogName), func(w *bufio.Writer) error {
		var encErr error
		store.ForEachEdge(func(e graph.Edge) bool {
			encErr = EncodeEdge(w, e)
			return encErr == nil
		})
		return encErr
	})
	if err != nil {
		return fmt.Errorf("dump edges: %w", err)
	}

	err = writeAtomic(filepath.Join(dir, IndexSnapshotName), func(w *bufio.Writer) error {
		return store.Index().WriteSnapshot(w)
	})
	if err != nil {
		return fmt.Errorf("dump index: %w", err)
	}
	return nil
}

// Restore replays a dump (or live log directory) into an empty store.
func Restore(dir string, store *graph.Store) error {
	return Replay(dir, store)
}

func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
