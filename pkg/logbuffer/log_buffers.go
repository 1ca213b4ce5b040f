// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// LogBuffers are the three term buffers and the metadata section of one
// log, backed either by a memory mapped log file or by heap memory.
//
// The reference count and the state change timestamp are owned by the
// client conductor and must only be touched from its goroutine.
type LogBuffers struct {
	fileName    string
	file        *os.File
	mapping     []byte
	termBuffers [PartitionCount]*atomicbuf.Buffer
	metaData    *MetaData
	termLength  int32

	refCount              int
	timeOfLastStateChange int64
	closed                bool
}

// Factory maps the log file named by the driver.
type Factory interface {
	Map(fileName string) (*LogBuffers, error)
}

// FileFactory maps log files from the file system.
type FileFactory struct{}

// Map the named log file.
func (FileFactory) Map(fileName string) (*LogBuffers, error) {
	return MapLogBuffers(fileName)
}

// MapLogBuffers maps an existing log file read-write and shared.
func MapLogBuffers(fileName string) (*LogBuffers, error) {
	file, err := os.OpenFile(fileName, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	length := info.Size()
	if length < LogMetaDataLength+3*int64(TermMinLength) {
		_ = file.Close()
		return nil, fmt.Errorf("log file %s is too short: %d bytes", fileName, length)
	}

	mapping, err := mapFile(file, int(length))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("mapping log file %s failed: %w", fileName, err)
	}

	metaData := NewMetaData(atomicbuf.NewBuffer(mapping[length-LogMetaDataLength:]))
	termLength := metaData.TermLength()
	if err := CheckTermLength(termLength); err != nil || ComputeLogLength(termLength) != length {
		_ = unmapFile(mapping)
		_ = file.Close()
		return nil, fmt.Errorf("log file %s has an invalid term length %d", fileName, termLength)
	}

	lb := newLogBuffers(mapping, termLength)
	lb.fileName = fileName
	lb.file = file
	return lb, nil
}

// CreateLogBuffers creates and maps a zeroed log file for the given term
// length. The metadata must be initialised by the caller.
func CreateLogBuffers(fileName string, termLength int32) (*LogBuffers, error) {
	if err := CheckTermLength(termLength); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}

	length := ComputeLogLength(termLength)
	if err := file.Truncate(length); err != nil {
		_ = file.Close()
		_ = os.Remove(fileName)
		return nil, err
	}

	mapping, err := mapFile(file, int(length))
	if err != nil {
		_ = file.Close()
		_ = os.Remove(fileName)
		return nil, fmt.Errorf("mapping log file %s failed: %w", fileName, err)
	}

	lb := newLogBuffers(mapping, termLength)
	lb.fileName = fileName
	lb.file = file
	return lb, nil
}

// AllocateLogBuffers on the heap, for logs never shared across processes.
func AllocateLogBuffers(termLength int32) (*LogBuffers, error) {
	if err := CheckTermLength(termLength); err != nil {
		return nil, err
	}
	return newLogBuffers(make([]byte, ComputeLogLength(termLength)), termLength), nil
}

func newLogBuffers(mapping []byte, termLength int32) *LogBuffers {
	lb := &LogBuffers{
		mapping:    mapping,
		termLength: termLength,
	}

	for i := 0; i < PartitionCount; i++ {
		start := int64(i) * int64(termLength)
		lb.termBuffers[i] = atomicbuf.NewBuffer(mapping[start : start+int64(termLength)])
	}
	metaStart := int64(PartitionCount) * int64(termLength)
	lb.metaData = NewMetaData(atomicbuf.NewBuffer(mapping[metaStart : metaStart+LogMetaDataLength]))

	return lb
}

// FileName of the mapped log, empty for heap backed logs.
func (lb *LogBuffers) FileName() string {
	return lb.fileName
}

// TermBuffers of the three partitions.
func (lb *LogBuffers) TermBuffers() [PartitionCount]*atomicbuf.Buffer {
	return lb.termBuffers
}

// TermBuffer of one partition.
func (lb *LogBuffers) TermBuffer(partitionIndex int) *atomicbuf.Buffer {
	return lb.termBuffers[partitionIndex]
}

func (lb *LogBuffers) MetaData() *MetaData {
	return lb.metaData
}

func (lb *LogBuffers) TermLength() int32 {
	return lb.termLength
}

// IncRef and return the new reference count.
func (lb *LogBuffers) IncRef() int {
	lb.refCount++
	return lb.refCount
}

// DecRef and return the new reference count.
func (lb *LogBuffers) DecRef() int {
	lb.refCount--
	return lb.refCount
}

func (lb *LogBuffers) RefCount() int {
	return lb.refCount
}

// TimeOfLastStateChange in nanoseconds of the conductor's clock.
func (lb *LogBuffers) TimeOfLastStateChange() int64 {
	return lb.timeOfLastStateChange
}

func (lb *LogBuffers) SetTimeOfLastStateChange(nowNs int64) {
	lb.timeOfLastStateChange = nowNs
}

// Close unmaps the log. Any buffer handed out before is invalid afterwards.
// Calling Close again is a no-op.
func (lb *LogBuffers) Close() error {
	if lb.closed {
		return nil
	}
	lb.closed = true

	var err error
	if lb.file != nil {
		if unmapErr := unmapFile(lb.mapping); unmapErr != nil {
			err = multierror.Append(err, unmapErr)
		}
		if closeErr := lb.file.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}
	lb.mapping = nil

	log.WithFields(log.Fields{
		"file":        lb.fileName,
		"term-length": lb.termLength,
	}).Debug("Closed log buffers")

	return err
}

// IsClosed reports whether Close was called.
func (lb *LogBuffers) IsClosed() bool {
	return lb.closed
}
