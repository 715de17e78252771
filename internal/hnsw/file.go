// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hnsw

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File layout, all little endian:
//
//	magic      [8]byte  "WCHNSW01"
//	header     fileHeader
//	per node:  label u64, level u32, vector [dim]f32,
//	           then for each layer 0..level: count u32, ids [count]u32
var magic = [8]byte{'W', 'C', 'H', 'N', 'S', 'W', '0', '1'}

const (
	formatVersion = 1
	spaceCosineID = 1
)

type fileHeader struct {
	Version  uint32
	Dim      uint32
	Space    uint32
	M        uint32
	EfC      uint32
	Ef       uint32
	Seed     int64
	Count    uint64
	MaxLevel int32
	Entry    int32
}

// Save writes the index to path through a temporary file in the same
// directory, so readers never see a partial index.
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	writeErr := x.write(bw)
	if writeErr == nil {
		writeErr = bw.Flush()
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing vector index: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func (x *Index) write(w io.Writer) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	h := fileHeader{
		Version:  formatVersion,
		Dim:      uint32(x.dim),
		Space:    spaceCosineID,
		M:        uint32(x.m),
		EfC:      uint32(x.efC),
		Ef:       uint32(x.ef),
		Seed:     x.seed,
		Count:    uint64(len(x.labels)),
		MaxLevel: int32(x.maxLevel),
		Entry:    x.entry,
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	for i, label := range x.labels {
		id := uint32(i)
		layers := x.links[id]
		if err := binary.Write(w, binary.LittleEndian, label); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(layers)-1)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, x.vec(id)); err != nil {
			return err
		}
		for _, ns := range layers {
			if err := binary.Write(w, binary.LittleEndian, uint32(len(ns))); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, ns); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads an index written by Save. When wantDim is positive the stored
// dimension must match it.
func Load(path string, wantDim int) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	defer f.Close()

	x, err := read(bufio.NewReaderSize(f, 1<<20), wantDim)
	if err != nil {
		return nil, fmt.Errorf("reading vector index %s: %w", filepath.Base(path), err)
	}
	return x, nil
}

func read(r io.Reader, wantDim int) (*Index, error) {
	var got [8]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if got != magic {
		return nil, errors.New("not a vector index file (bad magic)")
	}

	var h fileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	switch {
	case h.Version != formatVersion:
		return nil, fmt.Errorf("unsupported format version %d", h.Version)
	case h.Space != spaceCosineID:
		return nil, fmt.Errorf("unsupported distance space %d", h.Space)
	case h.Dim == 0 || h.M < 2:
		return nil, errors.New("corrupt header")
	case wantDim > 0 && int(h.Dim) != wantDim:
		return nil, fmt.Errorf("index has %d dimensions, want %d: %w", h.Dim, wantDim, ErrDimensionMismatch)
	case h.Count > 0 && (h.Entry < 0 || uint64(h.Entry) >= h.Count):
		return nil, fmt.Errorf("entry point %d out of range", h.Entry)
	}

	x := &Index{
		dim:      int(h.Dim),
		m:        int(h.M),
		m0:       2 * int(h.M),
		efC:      int(h.EfC),
		ef:       int(h.Ef),
		seed:     h.Seed,
		byLabel:  make(map[uint64]uint32, h.Count),
		entry:    h.Entry,
		maxLevel: int(h.MaxLevel),
	}
	x.mL = 1 / math.Log(float64(x.m))
	if h.Count == 0 {
		x.entry, x.maxLevel = -1, -1
	}

	vec := make([]float32, x.dim)
	for i := uint64(0); i < h.Count; i++ {
		var (
			label uint64
			level uint32
		)
		if err := binary.Read(r, binary.LittleEndian, &label); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if level > maxLevelCap {
			return nil, fmt.Errorf("node %d: level %d out of range", i, level)
		}
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("node %d vector: %w", i, err)
		}
		layers := make([][]uint32, level+1)
		for lc := range layers {
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, fmt.Errorf("node %d layer %d: %w", i, lc, err)
			}
			if uint64(n) > h.Count {
				return nil, fmt.Errorf("node %d layer %d: %d links exceeds node count", i, lc, n)
			}
			ns := make([]uint32, n)
			if err := binary.Read(r, binary.LittleEndian, ns); err != nil {
				return nil, fmt.Errorf("node %d layer %d: %w", i, lc, err)
			}
			for _, o := range ns {
				if uint64(o) >= h.Count {
					return nil, fmt.Errorf("node %d layer %d: link %d out of range", i, lc, o)
				}
			}
			layers[lc] = ns
		}
		if _, dup := x.byLabel[label]; dup {
			return nil, fmt.Errorf("duplicate label %d", label)
		}
		x.byLabel[label] = uint32(i)
		x.labels = append(x.labels, label)
		x.vecs = append(x.vecs, vec...)
		x.links = append(x.links, layers)
	}
	if err := x.checkLinks(); err != nil {
		return nil, err
	}
	x.rng = newRand(x.seed, len(x.labels))
	return x, nil
}

// checkLinks verifies every link on layer lc points at a node that exists
// on layer lc, and that the entry point sits on the top layer.
func (x *Index) checkLinks() error {
	for id, layers := range x.links {
		for lc, ns := range layers {
			for _, o := range ns {
				if len(x.links[o]) <= lc {
					return fmt.Errorf("node %d layer %d: link to node %d below that layer", id, lc, o)
				}
			}
		}
	}
	if x.entry >= 0 && len(x.links[x.entry])-1 != x.maxLevel {
		return fmt.Errorf("entry point %d is not on top layer %d", x.entry, x.maxLevel)
	}
	return nil
}
