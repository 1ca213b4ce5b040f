// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package loopback is an in-process driver for IPC streams.
//
// The Driver receives client commands through its Write method and
// broadcasts its events to every Receiver. Publications are backed by
// memory mapped log files; subscribers on the same stream read them
// directly. Each duty cycle the driver advances the publication limits,
// keeps the connected flags current, cleans consumed terms and refreshes
// its heartbeat.
package loopback
