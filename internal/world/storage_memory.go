package world

import "sync"

type memoryStorageProvider struct{}

func NewMemoryStorageProvider() StorageProvider {
	return &memoryStorageProvider{}
}

func (p *memoryStorageProvider) NewStorage(key ChunkCoord, bounds Bounds, dim Dimensions) (BlockStorage, error) {
	return &memoryBlockStorage{
		columns: make(map[int]Column),
	}, nil
}

func (p *memoryStorageProvider) Close() error {
	return nil
}

type memoryBlockStorage struct {
	mu      sync.RWMutex
	columns map[int]Column
}

func (m *memoryBlockStorage) LoadColumn(index int) (Column, bool, error) {
	m.mu.RLock()
	col, ok := m.columns[index]
	m.mu.RUnlock()
	if !ok {
		return Column{}, false, nil
	}
	return col.clone(), true, nil
}

func (m *memoryBlockStorage) SaveColumn(index int, col Column) error {
	m.mu.Lock()
	m.columns[index] = col.clone()
	m.mu.Unlock()
	return nil
}

func (m *memoryBlockStorage) Delete(index int) error {
	m.mu.Lock()
	delete(m.columns, index)
	m.mu.Unlock()
	return nil
}

func (m *memoryBlockStorage) ForEach(fn func(index int, col Column) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for idx, col := range m.columns {
		if !fn(idx, col.clone()) {
			break
		}
	}
	return nil
}

func (m *memoryBlockStorage) Close() error {
	return nil
}
