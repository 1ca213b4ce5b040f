// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logbuffer describes the layout of a stream's log: three equally
// sized term buffers used round-robin, followed by a metadata section.
//
// A position is the absolute byte count of a stream. It encodes the term
// count and the offset within the current term,
//
//	position = (termID - initialTermID) << PositionBitsToShift(termLength) | termOffset
//
// and selects the term buffer by IndexByPosition. All position functions are
// pure and safe for concurrent use.
//
// Every unit in a term buffer is a frame, aligned to FrameAlignment and
// prefixed with a DataFrameHeaderLength byte header. A frame becomes visible
// to readers once its length field is written with an ordered store. Padding
// frames fill the remainder of a term when a message does not fit.
package logbuffer
