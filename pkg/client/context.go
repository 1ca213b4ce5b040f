// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/idle"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

// Default timeouts of a Context.
const (
	DefaultDriverTimeout                = 10 * time.Second
	DefaultKeepaliveInterval            = 500 * time.Millisecond
	DefaultInterServiceTimeout          = 10 * time.Second
	DefaultResourceLingerTimeout        = 3 * time.Second
	DefaultPublicationConnectionTimeout = 5 * time.Second
)

// ImageHandler is called when an image becomes available or unavailable.
type ImageHandler func(image *Image)

// ErrorHandler receives errors not belonging to any caller.
type ErrorHandler func(err error)

// Context configures a ClientConductor. Create one with NewContext and
// adjust its fields before use.
type Context struct {
	// DriverTimeout bounds every request to the driver and the age of the
	// driver's heartbeat.
	DriverTimeout time.Duration

	// KeepaliveInterval between two keepalives sent to the driver.
	KeepaliveInterval time.Duration

	// InterServiceTimeout is the longest acceptable pause between two duty
	// cycles of the conductor.
	InterServiceTimeout time.Duration

	// ResourceLingerTimeout delays unmapping released log buffers.
	ResourceLingerTimeout time.Duration

	// PublicationConnectionTimeout bounds Client.AwaitConnected.
	PublicationConnectionTimeout time.Duration

	// IdleStrategy of the AgentRunner driving the conductor.
	IdleStrategy idle.Strategy

	// AwaitingIdleStrategy while busy polling for a driver response.
	AwaitingIdleStrategy idle.Strategy

	// NanoClock returns the current time in nanoseconds. The driver's
	// heartbeat is compared against it.
	NanoClock func() int64

	ErrorHandler            ErrorHandler
	AvailableImageHandler   ImageHandler
	UnavailableImageHandler ImageHandler

	// LogBuffersFactory maps the log files named by the driver.
	LogBuffersFactory logbuffer.Factory

	// CountersValues is the driver's counters values buffer.
	CountersValues *atomicbuf.Buffer
}

// NewContext with default values. CountersValues has to be set.
func NewContext() *Context {
	return &Context{
		DriverTimeout:                DefaultDriverTimeout,
		KeepaliveInterval:            DefaultKeepaliveInterval,
		InterServiceTimeout:          DefaultInterServiceTimeout,
		ResourceLingerTimeout:        DefaultResourceLingerTimeout,
		PublicationConnectionTimeout: DefaultPublicationConnectionTimeout,
		IdleStrategy:                 idle.Sleeping{Period: time.Millisecond},
		AwaitingIdleStrategy:         idle.DefaultBackoff(),
		NanoClock:                    SystemNanoClock,
		ErrorHandler:                 defaultErrorHandler,
		AvailableImageHandler:        func(*Image) {},
		UnavailableImageHandler:      func(*Image) {},
		LogBuffersFactory:            logbuffer.FileFactory{},
	}
}

// SystemNanoClock is the wall clock in nanoseconds.
func SystemNanoClock() int64 {
	return time.Now().UnixNano()
}

func defaultErrorHandler(err error) {
	log.WithError(err).Warn("Client reported an error")
}

// Validate checks the Context for missing or contradicting values.
func (ctx *Context) Validate() (err error) {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"DriverTimeout", ctx.DriverTimeout},
		{"KeepaliveInterval", ctx.KeepaliveInterval},
		{"InterServiceTimeout", ctx.InterServiceTimeout},
		{"PublicationConnectionTimeout", ctx.PublicationConnectionTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			err = multierror.Append(err, errors.New(d.name+" must be positive"))
		}
	}

	if ctx.ResourceLingerTimeout < 0 {
		err = multierror.Append(err, errors.New("ResourceLingerTimeout must not be negative"))
	}
	if ctx.KeepaliveInterval >= ctx.DriverTimeout {
		err = multierror.Append(err, errors.New("KeepaliveInterval must be less than DriverTimeout"))
	}

	if ctx.IdleStrategy == nil || ctx.AwaitingIdleStrategy == nil {
		err = multierror.Append(err, errors.New("idle strategies must be set"))
	}
	if ctx.NanoClock == nil {
		err = multierror.Append(err, errors.New("NanoClock must be set"))
	}
	if ctx.ErrorHandler == nil || ctx.AvailableImageHandler == nil || ctx.UnavailableImageHandler == nil {
		err = multierror.Append(err, errors.New("handlers must be set"))
	}
	if ctx.LogBuffersFactory == nil {
		err = multierror.Append(err, errors.New("LogBuffersFactory must be set"))
	}
	if ctx.CountersValues == nil {
		err = multierror.Append(err, errors.New("CountersValues must be set"))
	}

	return
}
