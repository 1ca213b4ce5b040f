// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package command contains the records exchanged between clients and the
// driver: commands from a client to the driver and events broadcast by the
// driver.
//
// Every record has a message type id, carried next to the payload by the
// transport, and a body serialized as a CBOR array. Encode and Decode map
// between both representations.
package command
