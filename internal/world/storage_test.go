package world

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testRegion() Region {
	return Region{
		Origin:        ChunkCoord{X: 0, Z: 0},
		ChunksPerAxis: 2,
		ChunkDimension: Dimensions{
			Width:  4,
			Length: 4,
			Height: 8,
		},
	}
}

func exerciseBlockStorage(t *testing.T, storage BlockStorage) {
	t.Helper()

	col := Column{Biome: "desert", Blocks: []Block{{Material: "stone"}, {}, {Material: "sand"}}}
	if err := storage.SaveColumn(3, col); err != nil {
		t.Fatalf("SaveColumn: %v", err)
	}
	if err := storage.SaveColumn(5, Column{Blocks: []Block{{Material: "dirt"}}}); err != nil {
		t.Fatalf("SaveColumn second: %v", err)
	}

	loaded, ok, err := storage.LoadColumn(3)
	if err != nil {
		t.Fatalf("LoadColumn: %v", err)
	}
	if !ok {
		t.Fatalf("expected column 3 to be present")
	}
	if !reflect.DeepEqual(loaded, col) {
		t.Fatalf("column mismatch: got %+v want %+v", loaded, col)
	}

	if _, ok, err := storage.LoadColumn(9); err != nil || ok {
		t.Fatalf("expected missing column, got ok=%v err=%v", ok, err)
	}

	if err := storage.Delete(5); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	seen := make(map[int]Column)
	if err := storage.ForEach(func(idx int, c Column) bool {
		seen[idx] = c
		return true
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one column after delete, got %d", len(seen))
	}
	if _, ok := seen[3]; !ok {
		t.Fatalf("expected column 3 in iteration, got %v", seen)
	}
}

func TestMemoryStorage(t *testing.T) {
	provider := NewMemoryStorageProvider()
	defer provider.Close()
	storage, err := provider.NewStorage(ChunkCoord{}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	exerciseBlockStorage(t, storage)
}

func TestDiskStorage(t *testing.T) {
	provider, err := NewDiskStorageProvider(t.TempDir(), testRegion(), false)
	if err != nil {
		t.Fatalf("NewDiskStorageProvider: %v", err)
	}
	defer provider.Close()
	storage, err := provider.NewStorage(ChunkCoord{X: 1, Z: 0}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	defer storage.Close()
	exerciseBlockStorage(t, storage)
}

func TestDiskStorageRejectsForeignChunk(t *testing.T) {
	provider, err := NewDiskStorageProvider(t.TempDir(), testRegion(), false)
	if err != nil {
		t.Fatalf("NewDiskStorageProvider: %v", err)
	}
	defer provider.Close()
	if _, err := provider.NewStorage(ChunkCoord{X: 5, Z: 5}, Bounds{}, testRegion().ChunkDimension); err == nil {
		t.Fatalf("expected error for chunk outside region")
	}
}

func TestDiskStoragePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	provider, err := NewDiskStorageProvider(dir, testRegion(), true)
	if err != nil {
		t.Fatalf("NewDiskStorageProvider: %v", err)
	}
	storage, err := provider.NewStorage(ChunkCoord{}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	col := Column{Blocks: []Block{{Material: strings.Repeat("stone", 8)}, {Material: "water"}}}
	if err := storage.SaveColumn(7, col); err != nil {
		t.Fatalf("SaveColumn: %v", err)
	}
	if err := storage.SaveColumn(7, Column{Blocks: []Block{{Material: "glass"}}}); err != nil {
		t.Fatalf("SaveColumn overwrite: %v", err)
	}
	if err := storage.SaveColumn(8, col); err != nil {
		t.Fatalf("SaveColumn: %v", err)
	}
	if err := storage.Delete(8); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	storage.Close()
	provider.Close()

	reopenedProvider, err := NewDiskStorageProvider(dir, testRegion(), false)
	if err != nil {
		t.Fatalf("reopen provider: %v", err)
	}
	defer reopenedProvider.Close()
	reopened, err := reopenedProvider.NewStorage(ChunkCoord{}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer reopened.Close()

	loaded, ok, err := reopened.LoadColumn(7)
	if err != nil {
		t.Fatalf("LoadColumn: %v", err)
	}
	if !ok {
		t.Fatalf("expected column 7 to be present")
	}
	want := Column{Blocks: []Block{{Material: "glass"}}}
	if !reflect.DeepEqual(loaded, want) {
		t.Fatalf("reloaded column mismatch: got %+v want %+v", loaded, want)
	}
	if _, ok, _ := reopened.LoadColumn(8); ok {
		t.Fatalf("expected deleted column to stay deleted")
	}
}

func TestDiskStorageDropsTornRecord(t *testing.T) {
	dir := t.TempDir()
	provider, err := NewDiskStorageProvider(dir, testRegion(), false)
	if err != nil {
		t.Fatalf("NewDiskStorageProvider: %v", err)
	}
	defer provider.Close()

	storage, err := provider.NewStorage(ChunkCoord{}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if err := storage.SaveColumn(2, Column{Blocks: []Block{{Material: "stone"}}}); err != nil {
		t.Fatalf("SaveColumn: %v", err)
	}
	storage.Close()

	path := filepath.Join(dir, "0", "0", "chunk.bin")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat chunk file: %v", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open chunk file: %v", err)
	}
	// Header of a column record whose payload never made it to disk.
	if _, err := f.Write([]byte{recordColumn, 4, 0, 0, 0, 64, 0, 0, 0, 1, 2}); err != nil {
		t.Fatalf("write torn record: %v", err)
	}
	f.Close()

	reopened, err := provider.NewStorage(ChunkCoord{}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer reopened.Close()
	if _, ok, err := reopened.LoadColumn(2); err != nil || !ok {
		t.Fatalf("expected column 2 to survive, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := reopened.LoadColumn(4); ok {
		t.Fatalf("expected torn column 4 to be dropped")
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat chunk file: %v", err)
	}
	if after.Size() != info.Size() {
		t.Fatalf("expected file truncated to %d bytes, got %d", info.Size(), after.Size())
	}
}

func TestDiskStorageCompressesPayload(t *testing.T) {
	provider, err := NewDiskStorageProvider(t.TempDir(), testRegion(), false)
	if err != nil {
		t.Fatalf("NewDiskStorageProvider: %v", err)
	}
	defer provider.Close()

	blocks := make([]Block, 128)
	for i := range blocks {
		blocks[i] = Block{Material: "cobblestone"}
	}
	col := Column{Blocks: blocks}
	payload, err := provider.encodeColumn(col)
	if err != nil {
		t.Fatalf("encodeColumn: %v", err)
	}
	if len(payload) >= 128*len("cobblestone") {
		t.Fatalf("expected compressed payload, got %d bytes", len(payload))
	}
	decoded, err := provider.decodeColumn(payload)
	if err != nil {
		t.Fatalf("decodeColumn: %v", err)
	}
	if !reflect.DeepEqual(decoded, col) {
		t.Fatalf("decoded column mismatch")
	}
}

func TestBadgerStorage(t *testing.T) {
	provider, err := OpenBadgerStorageProvider(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadgerStorageProvider: %v", err)
	}
	defer provider.Close()

	storage, err := provider.NewStorage(ChunkCoord{X: 1, Z: 1}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	exerciseBlockStorage(t, storage)

	other, err := provider.NewStorage(ChunkCoord{X: 1, Z: 12}, Bounds{}, testRegion().ChunkDimension)
	if err != nil {
		t.Fatalf("NewStorage other: %v", err)
	}
	count := 0
	if err := other.ForEach(func(int, Column) bool {
		count++
		return true
	}); err != nil {
		t.Fatalf("ForEach other: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected chunks to be isolated, found %d columns", count)
	}
}
