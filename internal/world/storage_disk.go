package world

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Chunk files are a sequence of records: a 9 byte header (op, column index,
// payload length, little endian) followed by a zstd compressed gob payload.
// The newest record for an index wins; a tombstone carries no payload.
const (
	recordTombstone byte = 0
	recordColumn    byte = 1

	recordHeaderLen = 9
)

type recordHeader struct {
	op    byte
	index uint32
	size  uint32
}

func (h recordHeader) appendTo(dst []byte) []byte {
	dst = append(dst, h.op)
	dst = binary.LittleEndian.AppendUint32(dst, h.index)
	return binary.LittleEndian.AppendUint32(dst, h.size)
}

func parseRecordHeader(b []byte) recordHeader {
	return recordHeader{
		op:    b[0],
		index: binary.LittleEndian.Uint32(b[1:5]),
		size:  binary.LittleEndian.Uint32(b[5:9]),
	}
}

// DiskStorageProvider keeps one append-only record file per chunk beneath
// basePath, laid out as <basePath>/<chunkX>/<chunkZ>/chunk.bin.
type DiskStorageProvider struct {
	basePath   string
	region     Region
	syncWrites bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewDiskStorageProvider(basePath string, region Region, syncWrites bool) (*DiskStorageProvider, error) {
	if basePath == "" {
		return nil, errors.New("disk storage requires a base path")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create column encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create column decoder: %w", err)
	}
	return &DiskStorageProvider{
		basePath:   basePath,
		region:     region,
		syncWrites: syncWrites,
		enc:        enc,
		dec:        dec,
	}, nil
}

func (p *DiskStorageProvider) NewStorage(key ChunkCoord, bounds Bounds, dim Dimensions) (BlockStorage, error) {
	if !p.region.ContainsChunk(key) {
		return nil, fmt.Errorf("chunk %v outside region: %w", key, ErrOutOfBounds)
	}
	dir := filepath.Join(p.basePath, strconv.Itoa(key.X), strconv.Itoa(key.Z))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk directory: %w", err)
	}
	return openDiskColumnFile(filepath.Join(dir, "chunk.bin"), p)
}

func (p *DiskStorageProvider) Close() error {
	p.dec.Close()
	return p.enc.Close()
}

func (p *DiskStorageProvider) encodeColumn(col Column) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(col); err != nil {
		return nil, fmt.Errorf("encode column: %w", err)
	}
	return p.enc.EncodeAll(raw.Bytes(), nil), nil
}

func (p *DiskStorageProvider) decodeColumn(payload []byte) (Column, error) {
	raw, err := p.dec.DecodeAll(payload, nil)
	if err != nil {
		return Column{}, fmt.Errorf("decompress column: %w", err)
	}
	var col Column
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&col); err != nil {
		return Column{}, fmt.Errorf("decode column: %w", err)
	}
	return col, nil
}

// payloadRef locates the newest payload of one column inside the file.
type payloadRef struct {
	at   int64
	size uint32
}

type diskColumnFile struct {
	provider *DiskStorageProvider
	file     *os.File

	mu   sync.RWMutex
	live map[int]payloadRef
	tail int64
}

func openDiskColumnFile(path string, provider *DiskStorageProvider) (*diskColumnFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	s := &diskColumnFile{
		provider: provider,
		file:     f,
		live:     make(map[int]payloadRef),
	}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	return s, nil
}

// replay rebuilds the live index from the record log. A record cut short by a
// crash is dropped and the file truncated back to the last complete record.
func (s *diskColumnFile) replay() error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	end := info.Size()
	r := bufio.NewReader(io.NewSectionReader(s.file, 0, end))

	var pos int64
	header := make([]byte, recordHeaderLen)
	for pos < end {
		if _, err := io.ReadFull(r, header); err != nil {
			break
		}
		h := parseRecordHeader(header)
		if pos+recordHeaderLen+int64(h.size) > end {
			break
		}
		if _, err := r.Discard(int(h.size)); err != nil {
			return fmt.Errorf("skip payload at %d: %w", pos, err)
		}
		switch h.op {
		case recordColumn:
			s.live[int(h.index)] = payloadRef{at: pos + recordHeaderLen, size: h.size}
		case recordTombstone:
			delete(s.live, int(h.index))
		default:
			return fmt.Errorf("unknown record op %d at %d", h.op, pos)
		}
		pos += recordHeaderLen + int64(h.size)
	}
	if pos < end {
		if err := s.file.Truncate(pos); err != nil {
			return fmt.Errorf("truncate torn record: %w", err)
		}
	}
	s.tail = pos
	return nil
}

func (s *diskColumnFile) LoadColumn(index int) (Column, bool, error) {
	s.mu.RLock()
	ref, ok := s.live[index]
	s.mu.RUnlock()
	if !ok {
		return Column{}, false, nil
	}
	payload := make([]byte, ref.size)
	if _, err := s.file.ReadAt(payload, ref.at); err != nil {
		return Column{}, false, fmt.Errorf("read column %d: %w", index, err)
	}
	col, err := s.provider.decodeColumn(payload)
	if err != nil {
		return Column{}, false, err
	}
	return col, true, nil
}

func (s *diskColumnFile) SaveColumn(index int, col Column) error {
	payload, err := s.provider.encodeColumn(col)
	if err != nil {
		return err
	}
	return s.append(recordHeader{op: recordColumn, index: uint32(index), size: uint32(len(payload))}, payload)
}

func (s *diskColumnFile) Delete(index int) error {
	return s.append(recordHeader{op: recordTombstone, index: uint32(index)}, nil)
}

func (s *diskColumnFile) append(h recordHeader, payload []byte) error {
	buf := make([]byte, 0, recordHeaderLen+len(payload))
	buf = append(h.appendTo(buf), payload...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteAt(buf, s.tail); err != nil {
		return fmt.Errorf("append record for column %d: %w", h.index, err)
	}
	if s.provider.syncWrites {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync chunk file: %w", err)
		}
	}
	if h.op == recordColumn {
		s.live[int(h.index)] = payloadRef{at: s.tail + recordHeaderLen, size: h.size}
	} else {
		delete(s.live, int(h.index))
	}
	s.tail += int64(len(buf))
	return nil
}

func (s *diskColumnFile) ForEach(fn func(index int, col Column) bool) error {
	s.mu.RLock()
	indexes := make([]int, 0, len(s.live))
	for idx := range s.live {
		indexes = append(indexes, idx)
	}
	s.mu.RUnlock()

	slices.Sort(indexes)
	for _, idx := range indexes {
		col, ok, err := s.LoadColumn(idx)
		if err != nil {
			return err
		}
		if ok && !fn(idx, col) {
			break
		}
	}
	return nil
}

func (s *diskColumnFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
