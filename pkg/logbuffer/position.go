// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"fmt"
	"math/bits"
)

const (
	// PartitionCount is the number of term buffers of a log.
	PartitionCount = 3

	// TermMinLength is the smallest term buffer length.
	TermMinLength int32 = 64 * 1024

	// TermMaxLength is the largest term buffer length.
	TermMaxLength int32 = 1024 * 1024 * 1024
)

// PositionBitsToShift for a power of two term length.
func PositionBitsToShift(termLength int32) uint8 {
	return uint8(bits.TrailingZeros32(uint32(termLength)))
}

// ComputePosition of a term id and offset.
func ComputePosition(activeTermID, termOffset int32, positionBitsToShift uint8, initialTermID int32) int64 {
	termCount := int64(activeTermID - initialTermID)
	return termCount<<positionBitsToShift + int64(termOffset)
}

// ComputeTermBeginPosition is the position at offset zero of the given term.
func ComputeTermBeginPosition(activeTermID int32, positionBitsToShift uint8, initialTermID int32) int64 {
	termCount := int64(activeTermID - initialTermID)
	return termCount << positionBitsToShift
}

// ComputeTermIDFromPosition is the inverse of ComputePosition for the term id.
func ComputeTermIDFromPosition(position int64, positionBitsToShift uint8, initialTermID int32) int32 {
	return int32(position>>positionBitsToShift) + initialTermID
}

// ComputeTermOffsetFromPosition masks the term offset out of a position.
func ComputeTermOffsetFromPosition(position int64, positionBitsToShift uint8) int32 {
	mask := int64(1)<<positionBitsToShift - 1
	return int32(position & mask)
}

// IndexByTerm selects the partition of a term.
func IndexByTerm(initialTermID, activeTermID int32) int {
	return int((activeTermID - initialTermID) % PartitionCount)
}

// IndexByTermCount selects the partition for a term count.
func IndexByTermCount(termCount int64) int {
	return int(termCount % PartitionCount)
}

// IndexByPosition selects the partition holding the given position.
func IndexByPosition(position int64, positionBitsToShift uint8) int {
	return int((position >> positionBitsToShift) % PartitionCount)
}

// MaxPossiblePosition for a log of the given term length.
func MaxPossiblePosition(termLength int32) int64 {
	return int64(termLength) << 31
}

// ComputeLogLength of a log file, metadata included.
func ComputeLogLength(termLength int32) int64 {
	return int64(termLength)*PartitionCount + LogMetaDataLength
}

// CheckTermLength validates a term length.
func CheckTermLength(termLength int32) error {
	switch {
	case termLength < TermMinLength:
		return fmt.Errorf("term length %d is less than min length %d", termLength, TermMinLength)
	case termLength > TermMaxLength:
		return fmt.Errorf("term length %d is greater than max length %d", termLength, TermMaxLength)
	case termLength&(termLength-1) != 0:
		return fmt.Errorf("term length %d is not a power of two", termLength)
	default:
		return nil
	}
}
