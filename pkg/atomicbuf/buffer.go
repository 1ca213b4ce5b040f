// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package atomicbuf provides Buffer, a view over a byte slice which is
// usually memory-mapped and shared with another process.
//
// Plain accessors read and write little-endian values without any ordering
// guarantees. Volatile reads and ordered writes go through sync/atomic and
// are used for every field a concurrent party observes, e.g., frame lengths,
// term tails or position counters. Values accessed atomically must be
// naturally aligned, which holds for all layouts of this module as long as
// the backing slice itself is 8-byte aligned (mmap'd regions and Go heap
// allocations of at least eight bytes are).
//
// The atomic accessors operate in host byte order. All supported platforms
// are little-endian, which makes them agree with the plain accessors.
package atomicbuf

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Buffer wraps a byte slice with typed and atomic accessors.
type Buffer struct {
	data []byte
}

// NewBuffer wraps an existing byte slice. No copy is made.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// MakeBuffer allocates a new zeroed Buffer of the given capacity.
func MakeBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Wrap replaces the underlying byte slice.
func (b *Buffer) Wrap(data []byte) {
	b.data = data
}

// Capacity of this Buffer in bytes.
func (b *Buffer) Capacity() int32 {
	return int32(len(b.data))
}

// Bytes returns the backing slice. Modifications are visible to all views.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Slice returns a sub-slice of length bytes starting at offset.
func (b *Buffer) Slice(offset, length int32) []byte {
	return b.data[offset : offset+length]
}

func (b *Buffer) int32Ptr(offset int32) *int32 {
	_ = b.data[offset+3]
	return (*int32)(unsafe.Pointer(&b.data[offset]))
}

func (b *Buffer) int64Ptr(offset int32) *int64 {
	_ = b.data[offset+7]
	return (*int64)(unsafe.Pointer(&b.data[offset]))
}

// GetUint8 reads a byte.
func (b *Buffer) GetUint8(offset int32) uint8 {
	return b.data[offset]
}

// PutUint8 writes a byte.
func (b *Buffer) PutUint8(offset int32, value uint8) {
	b.data[offset] = value
}

// GetUint16 reads a little-endian uint16.
func (b *Buffer) GetUint16(offset int32) uint16 {
	return binary.LittleEndian.Uint16(b.data[offset:])
}

// PutUint16 writes a little-endian uint16.
func (b *Buffer) PutUint16(offset int32, value uint16) {
	binary.LittleEndian.PutUint16(b.data[offset:], value)
}

// GetInt32 reads a little-endian int32.
func (b *Buffer) GetInt32(offset int32) int32 {
	return int32(binary.LittleEndian.Uint32(b.data[offset:]))
}

// PutInt32 writes a little-endian int32.
func (b *Buffer) PutInt32(offset int32, value int32) {
	binary.LittleEndian.PutUint32(b.data[offset:], uint32(value))
}

// GetInt64 reads a little-endian int64.
func (b *Buffer) GetInt64(offset int32) int64 {
	return int64(binary.LittleEndian.Uint64(b.data[offset:]))
}

// PutInt64 writes a little-endian int64.
func (b *Buffer) PutInt64(offset int32, value int64) {
	binary.LittleEndian.PutUint64(b.data[offset:], uint64(value))
}

// GetInt32Volatile reads an int32 with acquire semantics.
func (b *Buffer) GetInt32Volatile(offset int32) int32 {
	return atomic.LoadInt32(b.int32Ptr(offset))
}

// PutInt32Ordered writes an int32 with release semantics.
func (b *Buffer) PutInt32Ordered(offset int32, value int32) {
	atomic.StoreInt32(b.int32Ptr(offset), value)
}

// GetInt64Volatile reads an int64 with acquire semantics.
func (b *Buffer) GetInt64Volatile(offset int32) int64 {
	return atomic.LoadInt64(b.int64Ptr(offset))
}

// PutInt64Ordered writes an int64 with release semantics.
func (b *Buffer) PutInt64Ordered(offset int32, value int64) {
	atomic.StoreInt64(b.int64Ptr(offset), value)
}

// GetAndAddInt64 atomically adds delta and returns the previous value.
func (b *Buffer) GetAndAddInt64(offset int32, delta int64) int64 {
	return atomic.AddInt64(b.int64Ptr(offset), delta) - delta
}

// CompareAndSetInt64 atomically replaces expected by update.
func (b *Buffer) CompareAndSetInt64(offset int32, expected, update int64) bool {
	return atomic.CompareAndSwapInt64(b.int64Ptr(offset), expected, update)
}

// CompareAndSetInt32 atomically replaces expected by update.
func (b *Buffer) CompareAndSetInt32(offset int32, expected, update int32) bool {
	return atomic.CompareAndSwapInt32(b.int32Ptr(offset), expected, update)
}

// GetBytes copies len(dst) bytes starting at offset into dst.
func (b *Buffer) GetBytes(offset int32, dst []byte) {
	copy(dst, b.data[offset:int(offset)+len(dst)])
}

// PutBytes copies src into this Buffer at offset.
func (b *Buffer) PutBytes(offset int32, src []byte) {
	copy(b.data[offset:int(offset)+len(src)], src)
}

// PutBuffer copies length bytes of src, starting at srcOffset, to offset.
func (b *Buffer) PutBuffer(offset int32, src *Buffer, srcOffset, length int32) {
	copy(b.data[offset:offset+length], src.data[srcOffset:srcOffset+length])
}

// SetMemory fills length bytes starting at offset with value.
func (b *Buffer) SetMemory(offset, length int32, value byte) {
	region := b.data[offset : offset+length]
	if value == 0 {
		clear(region)
		return
	}
	for i := range region {
		region[i] = value
	}
}
