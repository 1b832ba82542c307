// Package tier persists the graph as flat append-only logs and moves nodes
// between hot, warm, and cold residency based on salience. Cold values are
// paged back in from a read-only mmap of the node log.
package tier

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/quillmem/synapse/internal/graph"
)

// Record magics. Every record self-identifies so replay can detect torn or
// foreign data immediately.
const (
	nodeMagic = "ZNOD"
	edgeMagic = "ZEDG"
)

// labelSize is the fixed on-disk width of a node label.
const labelSize = 32

const flagPinned = 1 << 0

// ErrBadRecord marks log corruption.
var ErrBadRecord = fmt.Errorf("bad log record")

// EncodeNode writes one node record. All integers are little-endian and
// floats are IEEE-754 32-bit.
func EncodeNode(w io.Writer, n graph.Node) error {
	if _, err := w.Write([]byte(nodeMagic)); err != nil {
		return err
	}
	if err := writeFixed(w,
		uint64(n.ID),
		uint8(n.Type),
	); err != nil {
		return err
	}

	var label [labelSize]byte
	copy(label[:], n.Label)
	if _, err := w.Write(label[:]); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(n.Value))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(n.Value)); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(n.Embedding))); err != nil {
		return err
	}
	for _, v := range n.Embedding {
		if err := binary.Write(w, binary.LittleEndian, float32(v)); err != nil {
			return err
		}
	}

	flags := uint8(0)
	if n.Pinned {
		flags |= flagPinned
	}
	return writeFixed(w,
		float32(n.Salience),
		n.CreatedAt.UnixNano(),
		n.LastAccessed.UnixNano(),
		uint8(n.Source),
		uint16(len(n.ConceptKey)),
		[]byte(n.ConceptKey),
		uint64(n.SupersededBy),
		uint8(n.Status),
		flags,
	)
}

// DecodeNode reads one node record.
func DecodeNode(r io.Reader) (graph.Node, error) {
	var n graph.Node
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return n, err
	}
	if string(magic) != nodeMagic {
		return n, fmt.Errorf("%w: magic %q", ErrBadRecord, magic)
	}

	var (
		id       uint64
		typ      uint8
		label    [labelSize]byte
		valueLen uint32
	)
	if err := readFixed(r, &id, &typ); err != nil {
		return n, err
	}
	if _, err := io.ReadFull(r, label[:]); err != nil {
		return n, err
	}
	if err := binary.Read(r, binary.LittleEndian, &valueLen); err != nil {
		return n, err
	}
	if valueLen > graph.MaxValueLen {
		return n, fmt.Errorf("%w: value length %d", ErrBadRecord, valueLen)
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return n, err
	}

	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return n, err
	}
	if dim > 1<<14 {
		return n, fmt.Errorf("%w: embedding dim %d", ErrBadRecord, dim)
	}
	var embedding []float64
	if dim > 0 {
		embedding = make([]float64, dim)
		for i := range embedding {
			var v float32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return n, err
			}
			embedding[i] = float64(v)
		}
	}

	var (
		salience     float32
		created      int64
		accessed     int64
		source       uint8
		keyLen       uint16
		supersededBy uint64
		status       uint8
		flags        uint8
	)
	if err := readFixed(r, &salience, &created, &accessed, &source, &keyLen); err != nil {
		return n, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return n, err
	}
	if err := readFixed(r, &supersededBy, &status, &flags); err != nil {
		return n, err
	}

	n = graph.Node{
		ID:           int64(id),
		Type:         graph.NodeType(typ),
		Label:        trimLabel(label),
		Value:        string(value),
		Embedding:    embedding,
		Salience:     float64(salience),
		CreatedAt:    time.Unix(0, created).UTC(),
		LastAccessed: time.Unix(0, accessed).UTC(),
		Source:       graph.Source(source),
		ConceptKey:   string(key),
		SupersededBy: int64(supersededBy),
		Status:       graph.Status(status),
		Pinned:       flags&flagPinned != 0,
	}
	return n, nil
}

// EncodeEdge writes one edge record.
func EncodeEdge(w io.Writer, e graph.Edge) error {
	if _, err := w.Write([]byte(edgeMagic)); err != nil {
		return err
	}
	return writeFixed(w,
		uint64(e.ID),
		uint64(e.SourceID),
		uint64(e.TargetID),
		uint8(e.Type),
		float32(e.Weight),
		e.CreatedAt.UnixNano(),
		uint32(e.Version),
	)
}

// DecodeEdge reads one edge record.
func DecodeEdge(r io.Reader) (graph.Edge, error) {
	var e graph.Edge
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return e, err
	}
	if string(magic) != edgeMagic {
		return e, fmt.Errorf("%w: magic %q", ErrBadRecord, magic)
	}

	var (
		id, src, dst uint64
		typ          uint8
		weight       float32
		ts           int64
		version      uint32
	)
	if err := readFixed(r, &id, &src, &dst, &typ, &weight, &ts, &version); err != nil {
		return e, err
	}

	e = graph.Edge{
		ID:        int64(id),
		SourceID:  int64(src),
		TargetID:  int64(dst),
		Type:      graph.EdgeType(typ),
		Weight:    float64(weight),
		CreatedAt: time.Unix(0, ts).UTC(),
		Version:   int(version),
	}
	if math.IsNaN(e.Weight) {
		return e, fmt.Errorf("%w: NaN weight", ErrBadRecord)
	}
	return e, nil
}

func trimLabel(b [labelSize]byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

func writeFixed(w io.Writer, vals ...any) error {
	for _, v := range vals {
		if b, ok := v.([]byte); ok {
			if _, err := w.Write(b); err != nil {
				return err
			}
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readFixed(r io.Reader, vals ...any) error {
	for _, v := range vals {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}
