// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"math"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

const (
	// BufferBuilderMinCapacity is the smallest capacity a BufferBuilder
	// grows to or compacts to.
	BufferBuilderMinCapacity int32 = 4096

	// MaxBufferBuilderCapacity a BufferBuilder never exceeds.
	MaxBufferBuilderCapacity int32 = math.MaxInt32 - 8
)

// BufferBuilder accumulates the fragments of one message. Its capacity
// doubles as needed and is only reduced by Compact.
type BufferBuilder struct {
	data   []byte
	buffer *atomicbuf.Buffer
	limit  int32
}

// NewBufferBuilder with the given initial capacity. Zero defers the
// allocation to the first Append.
func NewBufferBuilder(initialCapacity int32) *BufferBuilder {
	if initialCapacity < 0 || initialCapacity > MaxBufferBuilderCapacity {
		panic(fmt.Sprintf("client.BufferBuilder: invalid initial capacity %d", initialCapacity))
	}

	data := make([]byte, initialCapacity)
	return &BufferBuilder{
		data:   data,
		buffer: atomicbuf.NewBuffer(data),
	}
}

// Capacity of the underlying buffer.
func (bb *BufferBuilder) Capacity() int32 {
	return int32(len(bb.data))
}

// Limit is the number of bytes appended since the last Reset.
func (bb *BufferBuilder) Limit() int32 {
	return bb.limit
}

// SetLimit moves the limit within the current capacity.
func (bb *BufferBuilder) SetLimit(limit int32) {
	if limit < 0 || limit > bb.Capacity() {
		panic(fmt.Sprintf("client.BufferBuilder: limit %d outside of capacity %d", limit, bb.Capacity()))
	}
	bb.limit = limit
}

// Buffer holding the appended bytes from offset zero up to Limit. It is
// replaced when the builder grows.
func (bb *BufferBuilder) Buffer() *atomicbuf.Buffer {
	return bb.buffer
}

// Bytes appended so far. The slice aliases the builder's memory.
func (bb *BufferBuilder) Bytes() []byte {
	return bb.data[:bb.limit]
}

// Reset the limit to zero, keeping the capacity.
func (bb *BufferBuilder) Reset() *BufferBuilder {
	bb.limit = 0
	return bb
}

// Compact shrinks the capacity down to the limit, but not below
// BufferBuilderMinCapacity.
func (bb *BufferBuilder) Compact() *BufferBuilder {
	newCapacity := max(BufferBuilderMinCapacity, bb.limit)
	if newCapacity < bb.Capacity() {
		bb.resize(newCapacity)
	}
	return bb
}

// Append length bytes of src starting at offset. Growing beyond
// MaxBufferBuilderCapacity panics with ErrBufferBuilderTooLarge.
func (bb *BufferBuilder) Append(src *atomicbuf.Buffer, offset, length int32) *BufferBuilder {
	if length == 0 {
		return bb
	}

	bb.ensureCapacity(length)
	bb.buffer.PutBuffer(bb.limit, src, offset, length)
	bb.limit += length
	return bb
}

// AppendBytes appends all of src.
func (bb *BufferBuilder) AppendBytes(src []byte) *BufferBuilder {
	if len(src) == 0 {
		return bb
	}

	bb.ensureCapacity(int32(len(src)))
	bb.buffer.PutBytes(bb.limit, src)
	bb.limit += int32(len(src))
	return bb
}

func (bb *BufferBuilder) ensureCapacity(additional int32) {
	required := int64(bb.limit) + int64(additional)
	if required <= int64(bb.Capacity()) {
		return
	}
	bb.resize(findSuitableCapacity(bb.Capacity(), required))
}

func (bb *BufferBuilder) resize(newCapacity int32) {
	data := make([]byte, newCapacity)
	copy(data, bb.data[:bb.limit])
	bb.data = data
	bb.buffer.Wrap(data)
}

func findSuitableCapacity(capacity int32, required int64) int32 {
	if required > int64(MaxBufferBuilderCapacity) {
		panic(ErrBufferBuilderTooLarge)
	}

	newCapacity := max(int64(capacity), int64(BufferBuilderMinCapacity))
	for newCapacity < required {
		newCapacity *= 2
	}
	return int32(min(newCapacity, int64(MaxBufferBuilderCapacity)))
}
