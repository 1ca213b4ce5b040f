// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/shmlog/shmlog-go/pkg/command"
)

var (
	// ErrClientClosed is returned by operations on a closed or terminated
	// client conductor.
	ErrClientClosed = errors.New("client is closed")

	// ErrClientTimeout is reported when the driver declared this client dead.
	ErrClientTimeout = errors.New("client timed out by the driver")

	// ErrMessageTooLong is returned for messages above a publication's
	// maximum message length.
	ErrMessageTooLong = errors.New("message exceeds the maximum message length")

	// ErrBufferBuilderTooLarge is the panic value of a BufferBuilder growing
	// beyond MaxBufferBuilderCapacity.
	ErrBufferBuilderTooLarge = errors.New("client.BufferBuilder: too large")
)

// DriverTimeoutError is returned when the driver did not answer in time, or
// reported through the error handler when its heartbeat went stale.
type DriverTimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *DriverTimeoutError) Error() string {
	return fmt.Sprintf("driver did not respond to %s within %v", e.Operation, e.Timeout)
}

// RegistrationError is the driver's rejection of a command.
type RegistrationError struct {
	CorrelationID int64
	Code          command.ErrorCode
	Message       string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("driver rejected request %d: %v: %s", e.CorrelationID, e.Code, e.Message)
}

// ConductorServiceTimeoutError is reported when the conductor was not
// serviced within the inter-service timeout.
type ConductorServiceTimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *ConductorServiceTimeoutError) Error() string {
	return fmt.Sprintf("conductor not serviced for %v, exceeding %v", e.Elapsed, e.Timeout)
}

// ProtocolError is a driver event the client could not make sense of.
type ProtocolError struct {
	MsgTypeID int32
	Err       error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s: %v", command.TypeName(e.MsgTypeID), e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
