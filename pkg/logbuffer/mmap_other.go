// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !unix

package logbuffer

import (
	"errors"
	"os"
)

var errMmapUnsupported = errors.New("memory mapped log files are not supported on this platform")

func mapFile(_ *os.File, _ int) ([]byte, error) {
	return nil, errMmapUnsupported
}

func unmapFile(_ []byte) error {
	return errMmapUnsupported
}
