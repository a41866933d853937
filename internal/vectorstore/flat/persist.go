package flat

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"docqa/internal/domain"
)

const (
	// VectorsFile holds the raw little-endian float32 vectors.
	VectorsFile = "vectors.bin"
	// MetadataFile holds the id to chunk mapping in insertion order.
	MetadataFile = "metadata.json"

	formatVersion = 1
)

var vectorsMagic = [4]byte{'D', 'Q', 'V', 'X'}

type vectorsHeader struct {
	Magic     [4]byte
	Version   uint32
	Dimension uint32
	Count     uint64
}

type metadata struct {
	Version   int              `json:"version"`
	Dimension int              `json:"dimension"`
	NextID    int64            `json:"next_id"`
	Records   []recordMetadata `json:"records"`
}

type recordMetadata struct {
	ID         int64  `json:"id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Save writes the index to dir as a vectors file and a metadata file. Both
// are written into a temporary sibling directory which then replaces dir,
// so readers of dir never see one file without the other.
func (x *Index) Save(dir string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create index parent directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := x.writeVectors(filepath.Join(tmp, VectorsFile)); err != nil {
		return err
	}
	if err := x.writeMetadata(filepath.Join(tmp, MetadataFile)); err != nil {
		return err
	}

	var old string
	if _, err := os.Stat(dir); err == nil {
		old = tmp + ".old"
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("failed to move previous index aside: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		return fmt.Errorf("failed to swap index into place: %w", err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

func (x *Index) writeVectors(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", VectorsFile, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	hdr := vectorsHeader{
		Magic:     vectorsMagic,
		Version:   formatVersion,
		Dimension: uint32(x.dimension),
		Count:     uint64(len(x.ids)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("failed to write %s header: %w", VectorsFile, err)
	}
	var buf [4]byte
	for _, v := range x.data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("failed to write %s: %w", VectorsFile, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", VectorsFile, err)
	}
	return f.Sync()
}

func (x *Index) writeMetadata(path string) error {
	meta := metadata{
		Version:   formatVersion,
		Dimension: x.dimension,
		NextID:    x.nextID,
		Records:   make([]recordMetadata, len(x.ids)),
	}
	for i, id := range x.ids {
		ch := x.chunks[i]
		meta.Records[i] = recordMetadata{
			ID:         id,
			DocumentID: ch.DocumentID,
			ChunkIndex: ch.Index,
			Text:       ch.Text,
			Start:      ch.Start,
			End:        ch.End,
		}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", MetadataFile, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", MetadataFile, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", MetadataFile, err)
	}
	return f.Sync()
}

// Load reads an index saved by Save. A missing directory yields an error
// matching os.ErrNotExist. Artifacts that disagree with each other yield
// domain.ErrCorruptedIndex; they are never repaired.
func Load(dir string) (*Index, error) {
	metaPath := filepath.Join(dir, MetadataFile)
	vecPath := filepath.Join(dir, VectorsFile)

	_, metaErr := os.Stat(metaPath)
	_, vecErr := os.Stat(vecPath)
	switch {
	case errors.Is(metaErr, os.ErrNotExist) && errors.Is(vecErr, os.ErrNotExist):
		return nil, fmt.Errorf("no index in %s: %w", dir, os.ErrNotExist)
	case metaErr != nil || vecErr != nil:
		return nil, fmt.Errorf("%w: %s and %s must both be present in %s", domain.ErrCorruptedIndex, VectorsFile, MetadataFile, dir)
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", MetadataFile, err)
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", domain.ErrCorruptedIndex, MetadataFile, err)
	}
	if meta.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported metadata version %d", domain.ErrCorruptedIndex, meta.Version)
	}

	vectors, hdr, err := readVectors(vecPath)
	if err != nil {
		return nil, err
	}
	if int(hdr.Count) != len(meta.Records) {
		return nil, fmt.Errorf("%w: %s holds %d vectors but %s holds %d records", domain.ErrCorruptedIndex, VectorsFile, hdr.Count, MetadataFile, len(meta.Records))
	}
	if int(hdr.Dimension) != meta.Dimension {
		return nil, fmt.Errorf("%w: %s dimension %d does not match %s dimension %d", domain.ErrCorruptedIndex, VectorsFile, hdr.Dimension, MetadataFile, meta.Dimension)
	}
	if hdr.Count > 0 && hdr.Dimension == 0 {
		return nil, fmt.Errorf("%w: %s holds %d vectors of dimension 0", domain.ErrCorruptedIndex, VectorsFile, hdr.Count)
	}

	x := &Index{
		dimension: meta.Dimension,
		nextID:    meta.NextID,
		ids:       make([]int64, len(meta.Records)),
		chunks:    make([]domain.Chunk, len(meta.Records)),
		data:      vectors,
	}
	prev := int64(-1)
	for i, r := range meta.Records {
		if r.ID <= prev || r.ID >= meta.NextID {
			return nil, fmt.Errorf("%w: record %d has out-of-order id %d", domain.ErrCorruptedIndex, i, r.ID)
		}
		prev = r.ID
		x.ids[i] = r.ID
		x.chunks[i] = domain.Chunk{
			DocumentID: r.DocumentID,
			Index:      r.ChunkIndex,
			Text:       r.Text,
			Start:      r.Start,
			End:        r.End,
		}
	}
	return x, nil
}

func readVectors(path string) ([]float32, vectorsHeader, error) {
	var hdr vectorsHeader
	f, err := os.Open(path)
	if err != nil {
		return nil, hdr, fmt.Errorf("failed to open %s: %w", VectorsFile, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, hdr, fmt.Errorf("failed to stat %s: %w", VectorsFile, err)
	}
	r := bufio.NewReader(f)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, hdr, fmt.Errorf("%w: unreadable %s header: %v", domain.ErrCorruptedIndex, VectorsFile, err)
	}
	if hdr.Magic != vectorsMagic || hdr.Version != formatVersion {
		return nil, hdr, fmt.Errorf("%w: %s has an unknown format", domain.ErrCorruptedIndex, VectorsFile)
	}
	want := int64(binary.Size(hdr)) + int64(hdr.Count)*int64(hdr.Dimension)*4
	if info.Size() != want {
		return nil, hdr, fmt.Errorf("%w: %s is %d bytes, expected %d", domain.ErrCorruptedIndex, VectorsFile, info.Size(), want)
	}

	vectors := make([]float32, int(hdr.Count)*int(hdr.Dimension))
	var buf [4]byte
	for i := range vectors {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, hdr, fmt.Errorf("%w: truncated %s: %v", domain.ErrCorruptedIndex, VectorsFile, err)
		}
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return vectors, hdr, nil
}
