// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package client is the client library of the log buffer transport.
//
// Publications append messages to log buffers shared with the driver,
// subscriptions poll the images of a stream's publishers. Both are obtained
// from a ClientConductor, which talks to the driver through a command
// transport and an event receiver, and owns the lifecycle of every
// resource. The Client type bundles a conductor with an AgentRunner driving
// it from its own goroutine.
//
// The data plane, Publication.Offer and the poll methods, is lock free and
// never logs. A single Publication, Subscription or Image must only be used
// from one goroutine at a time.
package client
