// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loopback

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

// IPCChannel is the only channel this driver serves.
const IPCChannel = "shmlog:ipc"

// channelParams are the parameters of an IPC channel URI.
type channelParams struct {
	termLength int32
}

// parseChannel parses "shmlog:ipc" with an optional "?term-length=N".
func parseChannel(channel string, defaultTermLength int32) (params channelParams, err error) {
	params.termLength = defaultTermLength

	media, query, _ := strings.Cut(channel, "?")
	if media != IPCChannel {
		err = fmt.Errorf("unsupported channel %q, expected %s", channel, IPCChannel)
		return
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		err = fmt.Errorf("malformed parameters of channel %q: %w", channel, err)
		return
	}

	for key := range values {
		switch key {
		case "term-length":
			termLength, parseErr := strconv.ParseInt(values.Get(key), 10, 32)
			if parseErr != nil {
				err = fmt.Errorf("malformed term-length of channel %q: %w", channel, parseErr)
				return
			}
			if err = logbuffer.CheckTermLength(int32(termLength)); err != nil {
				return
			}
			params.termLength = int32(termLength)

		default:
			err = fmt.Errorf("unknown parameter %q of channel %q", key, channel)
			return
		}
	}

	return
}
