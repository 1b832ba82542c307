package tier

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/graph"
)

const (
	// NodeLogName and EdgeLogName are the on-disk log file names.
	NodeLogName = "nodes.log"
	EdgeLogName = "edges.log"
	// IndexSnapshotName holds the periodic LSH/Bloom dump. It is advisory;
	// the index is rebuilt from the node log on replay.
	IndexSnapshotName = "index.snapshot"
)

const (
	writeRetries = 3
	retryBackoff = 50 * time.Millisecond
)

// Log manages the append-only node and edge logs for one data directory.
// Writes are buffered; a failed write retries with backoff and on permanent
// failure the log latches failed and invokes the failure hook, after which
// appends are dropped.
type Log struct {
	mu        sync.Mutex
	dir       string
	nodeFile  *os.File
	edgeFile  *os.File
	nodeBuf   *bufio.Writer
	edgeBuf   *bufio.Writer
	nodeOff   int64
	offsets   map[int64]int64 // node id -> offset of its latest record
	failed    bool
	onFailure func()
	logger    *zap.Logger
}

// OpenLog opens (or creates) the logs under dir. Existing node records are
// scanned once to rebuild the offset table.
func OpenLog(dir string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	nodeFile, err := os.OpenFile(filepath.Join(dir, NodeLogName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open node log: %w", err)
	}
	edgeFile, err := os.OpenFile(filepath.Join(dir, EdgeLogName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		nodeFile.Close()
		return nil, fmt.Errorf("open edge log: %w", err)
	}

	l := &Log{
		dir:      dir,
		nodeFile: nodeFile,
		edgeFile: edgeFile,
		offsets:  make(map[int64]int64),
		logger:   logger,
	}
	if err := l.scanOffsets(); err != nil {
		nodeFile.Close()
		edgeFile.Close()
		return nil, err
	}
	if _, err := nodeFile.Seek(0, io.SeekEnd); err != nil {
		nodeFile.Close()
		edgeFile.Close()
		return nil, fmt.Errorf("seek node log: %w", err)
	}
	if _, err := edgeFile.Seek(0, io.SeekEnd); err != nil {
		nodeFile.Close()
		edgeFile.Close()
		return nil, fmt.Errorf("seek edge log: %w", err)
	}
	l.nodeBuf = bufio.NewWriter(nodeFile)
	l.edgeBuf = bufio.NewWriter(edgeFile)
	return l, nil
}

// SetFailureHook installs the callback invoked once on permanent I/O failure.
func (l *Log) SetFailureHook(fn func()) {
	l.mu.Lock()
	l.onFailure = fn
	l.mu.Unlock()
}

// Dir returns the data directory.
func (l *Log) Dir() string { return l.dir }

// NodeLogPath returns the node log path, for mmap.
func (l *Log) NodeLogPath() string { return filepath.Join(l.dir, NodeLogName) }

// scanOffsets walks the existing node log, recording the offset of the
// latest record per id. A truncated tail is tolerated and overwritten by
// the next append.
func (l *Log) scanOffsets() error {
	if _, err := l.nodeFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek node log: %w", err)
	}
	br := bufio.NewReader(l.nodeFile)
	var off int64
	counter := &countingReader{r: br}
	for {
		n, err := DecodeNode(counter)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("scan node log at %d: %w", off, err)
		}
		l.offsets[n.ID] = off
		off = counter.n
	}
	l.nodeOff = off
	return nil
}

// AppendNode writes a node record and records its offset. Safe to call from
// the arena's append hook; it never calls back into the store.
func (l *Log) AppendNode(n graph.Node) {
	var buf bytes.Buffer
	if err := EncodeNode(&buf, n); err != nil {
		l.logger.Error("encode node record", zap.Int64("id", n.ID), zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed {
		return
	}
	off := l.nodeOff
	if !l.writeLocked(l.nodeBuf, buf.Bytes()) {
		return
	}
	l.offsets[n.ID] = off
	l.nodeOff += int64(buf.Len())
}

// AppendEdge writes an edge record.
func (l *Log) AppendEdge(e graph.Edge) {
	var buf bytes.Buffer
	if err := EncodeEdge(&buf, e); err != nil {
		l.logger.Error("encode edge record", zap.Int64("id", e.ID), zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed {
		return
	}
	l.writeLocked(l.edgeBuf, buf.Bytes())
}

// writeLocked writes with bounded retries. On permanent failure it latches
// the log failed and fires the failure hook.
func (l *Log) writeLocked(w *bufio.Writer, data []byte) bool {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoffFor(attempt))
		}
		if _, err = w.Write(data); err == nil {
			return true
		}
	}

	l.logger.Error("log write failed permanently, entering read-only", zap.Error(err))
	l.failed = true
	if l.onFailure != nil {
		l.onFailure()
	}
	return false
}

func retryBackoffFor(attempt int) time.Duration {
	return retryBackoff << (attempt - 1)
}

// Offset returns the node's latest flushed or buffered record offset.
func (l *Log) Offset(id int64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	off, ok := l.offsets[id]
	return off, ok
}

// Sync flushes buffers and fsyncs both logs.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.syncLocked()
}

func (l *Log) syncLocked() error {
	if err := l.nodeBuf.Flush(); err != nil {
		return fmt.Errorf("flush node log: %w", err)
	}
	if err := l.edgeBuf.Flush(); err != nil {
		return fmt.Errorf("flush edge log: %w", err)
	}
	if err := l.nodeFile.Sync(); err != nil {
		return fmt.Errorf("sync node log: %w", err)
	}
	if err := l.edgeFile.Sync(); err != nil {
		return fmt.Errorf("sync edge log: %w", err)
	}
	return nil
}

// Close flushes and closes both logs.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.syncLocked()
	if cerr := l.nodeFile.Close(); err == nil {
		err = cerr
	}
	if cerr := l.edgeFile.Close(); err == nil {
		err = cerr
	}
	return err
}

// Replay reinstalls logged state into an empty store: nodes in record order
// (later records for an id win), then the latest record per edge id.
func Replay(dir string, store *graph.Store) error {
	if err := replayNodes(filepath.Join(dir, NodeLogName), store); err != nil {
		return err
	}
	return replayEdges(filepath.Join(dir, EdgeLogName), store)
}

func replayNodes(path string, store *graph.Store) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open node log: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		n, err := DecodeNode(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("replay node log: %w", err)
		}
		store.LoadNode(n)
	}
}

func replayEdges(path string, store *graph.Store) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open edge log: %w", err)
	}
	defer f.Close()

	latest := make(map[int64]graph.Edge)
	br := bufio.NewReader(f)
	for {
		e, err := DecodeEdge(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("replay edge log: %w", err)
		}
		latest[e.ID] = e
	}

	ids := make([]int64, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		store.LoadEdge(latest[id])
	}
	return nil
}

// countingReader tracks bytes consumed so scanOffsets knows record starts.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
