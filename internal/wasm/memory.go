package wasm

import (
	"encoding/binary"
	"fmt"
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = uint32(65536)
	// MemoryLimitPages is maximum number of pages defined (2^16).
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
	MemoryLimitPages = uint32(65536)
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
)

// Memory describes the limits of the single linear memory a module defines or imports.
type Memory struct {
	// Initial is the minimum page count.
	Initial uint32
	// Maximum is only meaningful when HasMaximum.
	Maximum    uint32
	HasMaximum bool
	// IsImport is true when the memory came from the import section rather than the memory section.
	IsImport bool
}

// MaxPages returns Maximum when declared, otherwise limit. Either is capped at MemoryLimitPages.
func (m *Memory) MaxPages(limit uint32) uint32 {
	if limit > MemoryLimitPages {
		limit = MemoryLimitPages
	}
	if m.HasMaximum && m.Maximum < limit {
		return m.Maximum
	}
	return limit
}

// MemoryInstance is the linear memory of an instantiated module.
type MemoryInstance struct {
	Buffer []byte
	// Max is the page count Grow may not exceed.
	Max uint32
}

// NewMemoryInstance allocates the initial pages of m, allowing growth up to the lesser of its maximum and limitPages.
func NewMemoryInstance(m *Memory, limitPages uint32) (*MemoryInstance, error) {
	max := m.MaxPages(limitPages)
	if m.Initial > max {
		return nil, fmt.Errorf("memory min %d pages (%s) > limit %d pages (%s)",
			m.Initial, PagesToUnitOfBytes(m.Initial), max, PagesToUnitOfBytes(max))
	}
	return &MemoryInstance{Buffer: make([]byte, MemoryPagesToBytesNum(m.Initial)), Max: max}, nil
}

// Size returns the length in bytes.
func (m *MemoryInstance) Size() uint32 {
	return uint32(len(m.Buffer))
}

// hasSize returns true if Len is sufficient for sizeInBytes at the given offset.
func (m *MemoryInstance) hasSize(offset uint64, sizeInBytes uint64) bool {
	return offset+sizeInBytes <= uint64(len(m.Buffer)) // uint64 prevents overflow on add
}

// ReadByte reads a single byte from the underlying buffer at the offset in or returns false if out of range.
func (m *MemoryInstance) ReadByte(offset uint64) (byte, bool) {
	if !m.hasSize(offset, 1) {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint16Le reads a little-endian uint16 at offset, or returns false if out of range.
func (m *MemoryInstance) ReadUint16Le(offset uint64) (uint16, bool) {
	if !m.hasSize(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.Buffer[offset:]), true
}

// ReadUint32Le reads a little-endian uint32 at offset, or returns false if out of range.
func (m *MemoryInstance) ReadUint32Le(offset uint64) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), true
}

// ReadUint64Le reads a little-endian uint64 at offset, or returns false if out of range.
func (m *MemoryInstance) ReadUint64Le(offset uint64) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), true
}

// Read returns a view of byteCount bytes at offset, or false if out of range.
func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.hasSize(uint64(offset), uint64(byteCount)) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount], true
}

// WriteByte writes a single byte at offset, or returns false if out of range.
func (m *MemoryInstance) WriteByte(offset uint64, v byte) bool {
	if !m.hasSize(offset, 1) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint16Le writes v in little-endian at offset, or returns false if out of range.
func (m *MemoryInstance) WriteUint16Le(offset uint64, v uint16) bool {
	if !m.hasSize(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.Buffer[offset:], v)
	return true
}

// WriteUint32Le writes v in little-endian at offset, or returns false if out of range.
func (m *MemoryInstance) WriteUint32Le(offset uint64, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le writes v in little-endian at offset, or returns false if out of range.
func (m *MemoryInstance) WriteUint64Le(offset uint64, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// Write copies val to offset, or returns false if it would not fit.
func (m *MemoryInstance) Write(offset uint32, val []byte) bool {
	if !m.hasSize(uint64(offset), uint64(len(val))) {
		return false
	}
	copy(m.Buffer[offset:], val)
	return true
}

// MemoryPagesToBytesNum converts the given pages into the number of bytes contained in these pages.
func MemoryPagesToBytesNum(pages uint32) (bytesNum uint64) {
	return uint64(pages) << MemoryPageSizeInBits
}

// memoryBytesNumToPages converts the given number of bytes into the number of pages.
func memoryBytesNumToPages(bytesNum uint64) (pages uint32) {
	return uint32(bytesNum >> MemoryPageSizeInBits)
}

// Grow extends the memory buffer by "delta" * MemoryPageSize.
// The logic here is described in https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem.
//
// Returns false if the operation resulted in exceeding the maximum memory pages.
// Otherwise, returns the prior memory size after growing the memory buffer.
func (m *MemoryInstance) Grow(delta uint32) (previousPages uint32, ok bool) {
	currentPages := m.PageSize()
	if uint64(currentPages)+uint64(delta) > uint64(m.Max) {
		return 0, false
	}
	if delta > 0 {
		m.Buffer = append(m.Buffer, make([]byte, MemoryPagesToBytesNum(delta))...)
	}
	return currentPages, true
}

// PageSize returns the current memory buffer size in pages.
func (m *MemoryInstance) PageSize() uint32 {
	return memoryBytesNumToPages(uint64(len(m.Buffer)))
}

// PagesToUnitOfBytes converts the pages to a human-readable form similar to what's specified. Ex. 1 -> "64 Ki"
//
// See https://www.w3.org/TR/wasm-core-1/#memory-instances%E2%91%A0
func PagesToUnitOfBytes(pages uint32) string {
	k := uint64(pages) * 64
	if k < 1024 {
		return fmt.Sprintf("%d Ki", k)
	}
	m := k / 1024
	if m < 1024 {
		return fmt.Sprintf("%d Mi", m)
	}
	g := m / 1024
	if g < 1024 {
		return fmt.Sprintf("%d Gi", g)
	}
	return fmt.Sprintf("%d Ti", g/1024)
}
