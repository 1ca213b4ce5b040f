// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package logbuffer

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(file *os.File, length int) ([]byte, error) {
	return unix.Mmap(int(file.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmapFile(mapping []byte) error {
	return unix.Munmap(mapping)
}
