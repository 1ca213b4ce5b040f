// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package logbuffer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndMapLogBuffers(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "1.logbuffer")

	created, err := CreateLogBuffers(fileName, testTermLength)
	require.NoError(t, err)
	created.MetaData().Initialise(1, testInitialTermID, testTermLength, testMTU, 4096, testSessionID, testStreamID)

	info, err := os.Stat(fileName)
	require.NoError(t, err)
	assert.Equal(t, ComputeLogLength(testTermLength), info.Size())

	mapped, err := MapLogBuffers(fileName)
	require.NoError(t, err)
	assert.Equal(t, testTermLength, mapped.TermLength())
	assert.Equal(t, testInitialTermID, mapped.MetaData().InitialTermID())
	assert.Equal(t, fileName, mapped.FileName())

	// Both mappings share the same memory.
	created.TermBuffer(1).PutInt64Ordered(64, 0x1234)
	assert.Equal(t, int64(0x1234), mapped.TermBuffer(1).GetInt64Volatile(64))

	assert.Equal(t, 1, mapped.IncRef())
	assert.Equal(t, 0, mapped.DecRef())

	require.NoError(t, mapped.Close())
	require.NoError(t, mapped.Close())
	assert.True(t, mapped.IsClosed())
	require.NoError(t, created.Close())
}

func TestCreateLogBuffersTwice(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "2.logbuffer")

	lb, err := CreateLogBuffers(fileName, testTermLength)
	require.NoError(t, err)
	defer lb.Close()

	_, err = CreateLogBuffers(fileName, testTermLength)
	assert.Error(t, err)
}

func TestMapLogBuffersRejectsGarbage(t *testing.T) {
	dir := t.TempDir()

	_, err := MapLogBuffers(filepath.Join(dir, "missing.logbuffer"))
	assert.Error(t, err)

	short := filepath.Join(dir, "short.logbuffer")
	require.NoError(t, os.WriteFile(short, make([]byte, 1024), 0o600))
	_, err = MapLogBuffers(short)
	assert.Error(t, err)

	// Right size, but the metadata names no valid term length.
	zeroed := filepath.Join(dir, "zeroed.logbuffer")
	require.NoError(t, os.WriteFile(zeroed, make([]byte, ComputeLogLength(testTermLength)), 0o600))
	_, err = MapLogBuffers(zeroed)
	assert.Error(t, err)
}
