package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Snapshot format: magic "ZIDX", version, LSH geometry + seed, bloom bits,
// concept-key table, and per-band buckets. Little-endian throughout, same
// convention as the node and edge logs. The snapshot is a cache: a missing
// or stale file is rebuilt by replaying the logs.

const snapshotMagic = "ZIDX"
const snapshotVersion = 1

// WriteSnapshot serializes the index.
func (x *Index) WriteSnapshot(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	for _, v := range []uint32{
		snapshotVersion,
		uint32(x.lsh.bands),
		uint32(x.lsh.rows),
		uint32(x.lsh.dims),
	} {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, x.lsh.seed); err != nil {
		return fmt.Errorf("write seed: %w", err)
	}

	// Bloom
	if err := binary.Write(bw, binary.LittleEndian, uint32(x.bloom.hashes)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(x.bloom.bits))); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, x.bloom.bits); err != nil {
		return fmt.Errorf("write bloom: %w", err)
	}

	// Concept keys
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(x.byKey))); err != nil {
		return err
	}
	for k, id := range x.byKey {
		if err := writeString(bw, k); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, id); err != nil {
			return err
		}
	}

	// Buckets
	for _, band := range x.lsh.buckets {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(band))); err != nil {
			return err
		}
		for sig, ids := range band {
			if err := binary.Write(bw, binary.LittleEndian, sig); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(ids))); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, ids); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// ReadSnapshot deserializes an index written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != snapshotMagic {
		return nil, fmt.Errorf("bad index snapshot magic %q", magic)
	}

	var version, bands, rows, dims uint32
	for _, p := range []*uint32{&version, &bands, &rows, &dims} {
		if err := binary.Read(br, binary.LittleEndian, p); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported index snapshot version %d", version)
	}
	var seed int64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	x := &Index{
		byKey: make(map[string]int64),
		lsh:   NewLSH(int(bands), int(rows), int(dims), seed),
	}

	// Bloom
	var hashes uint32
	if err := binary.Read(br, binary.LittleEndian, &hashes); err != nil {
		return nil, err
	}
	var words uint64
	if err := binary.Read(br, binary.LittleEndian, &words); err != nil {
		return nil, err
	}
	bits := make([]uint64, words)
	if err := binary.Read(br, binary.LittleEndian, bits); err != nil {
		return nil, fmt.Errorf("read bloom: %w", err)
	}
	x.bloom = &Bloom{bits: bits, nbits: words * 64, hashes: int(hashes)}

	// Concept keys
	var nkeys uint32
	if err := binary.Read(br, binary.LittleEndian, &nkeys); err != nil {
		return nil, err
	}
	for i := uint32(0); i < nkeys; i++ {
		k, err := readString(br)
		if err != nil {
			return nil, err
		}
		var id int64
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return nil, err
		}
		x.byKey[k] = id
	}

	// Buckets
	for b := 0; b < int(bands); b++ {
		var nbuckets uint32
		if err := binary.Read(br, binary.LittleEndian, &nbuckets); err != nil {
			return nil, err
		}
		for i := uint32(0); i < nbuckets; i++ {
			var sig uint64
			if err := binary.Read(br, binary.LittleEndian, &sig); err != nil {
				return nil, err
			}
			var n uint32
			if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
				return nil, err
			}
			ids := make([]int64, n)
			if err := binary.Read(br, binary.LittleEndian, ids); err != nil {
				return nil, err
			}
			x.lsh.buckets[b][sig] = ids
		}
	}

	return x, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
