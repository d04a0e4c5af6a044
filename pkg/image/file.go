package image

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru"

	"github.com/willibrandon/rbscope/pkg/memory"
)

const (
	formatName    = "rbscope-image"
	formatVersion = 1
)

// ErrCorruptImage is returned when an image file or one of its regions does
// not decode.
var ErrCorruptImage = errors.New("corrupt memory image")

// header is the first line of an image file
type header struct {
	Format      string `json:"format"`
	Version     int    `json:"version"`
	Compression string `json:"compression"`
	Arch        Arch   `json:"arch"`
	Regions     int    `json:"regions"`
}

// regionRecord is one region line of an image file
type regionRecord struct {
	Base   uint64 `json:"base"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
	Data   []byte `json:"data"`
}

// LoadOptions configures Load
type LoadOptions struct {
	// CacheRegions bounds how many decompressed regions are kept. Zero
	// means DefaultCacheRegions.
	CacheRegions int
}

// Save writes the image as JSON lines: a header followed by one line per
// region.
func (m *Image) Save(w io.Writer, c CompressionType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	h := header{
		Format:      formatName,
		Version:     formatVersion,
		Compression: c.String(),
		Arch:        m.arch,
		Regions:     len(m.regions),
	}
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("write image header: %w", err)
	}

	for _, r := range m.regions {
		raw, err := m.unpackLocked(r)
		if err != nil {
			return err
		}
		rec := regionRecord{
			Base:   uint64(r.base),
			Size:   r.size,
			SHA256: digestOf(raw),
			Data:   compress(raw, c),
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write region %s: %w", r.base, err)
		}
	}
	return bw.Flush()
}

// SaveFile writes the image to path using DefaultCompression
func (m *Image) SaveFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := m.Save(f, DefaultCompression); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads an image written by Save. Region bytes stay packed until read.
func Load(r io.Reader, opts LoadOptions) (*Image, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptImage, err)
	}
	if h.Format != formatName || h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format %q version %d", ErrCorruptImage, h.Format, h.Version)
	}
	c, err := ParseCompression(h.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}

	size := opts.CacheRegions
	if size <= 0 {
		size = DefaultCacheRegions
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	m := New(h.Arch)
	m.cache = cache
	for i := 0; i < h.Regions; i++ {
		var rec regionRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: region %d: %v", ErrCorruptImage, i, err)
		}
		if err := checkRegion(rec, c); err != nil {
			return nil, fmt.Errorf("%w: region %d: %v", ErrCorruptImage, i, err)
		}
		reg := &region{
			base:        memory.Address(rec.Base),
			size:        rec.Size,
			packed:      rec.Data,
			compression: c,
			digest:      rec.SHA256,
		}
		if err := m.insert(reg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptImage, err)
		}
	}
	return m, nil
}

// checkRegion rejects a region record before any of it is trusted.
func checkRegion(rec regionRecord, c CompressionType) error {
	switch {
	case rec.Size <= 0 || rec.Size > MaxRegionSize:
		return fmt.Errorf("size %d out of range", rec.Size)
	case rec.Base+uint64(rec.Size) < rec.Base:
		return fmt.Errorf("%s+%d wraps the address space", memory.Address(rec.Base), rec.Size)
	case rec.SHA256 == "":
		return errors.New("missing sha256")
	case c == NoCompression && len(rec.Data) != rec.Size:
		return fmt.Errorf("stored %d bytes, size is %d", len(rec.Data), rec.Size)
	}
	return nil
}

// LoadFile opens and loads an image file
func LoadFile(path string, opts LoadOptions) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, opts)
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
