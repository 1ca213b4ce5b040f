// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

func TestContextValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(ctx *Context)
		valid  bool
	}{
		{"defaults", func(*Context) {}, true},
		{"no counters", func(ctx *Context) { ctx.CountersValues = nil }, false},
		{"zero driver timeout", func(ctx *Context) { ctx.DriverTimeout = 0 }, false},
		{"keepalive above driver timeout", func(ctx *Context) { ctx.KeepaliveInterval = time.Minute }, false},
		{"no linger", func(ctx *Context) { ctx.ResourceLingerTimeout = 0 }, true},
		{"negative linger", func(ctx *Context) { ctx.ResourceLingerTimeout = -time.Second }, false},
		{"no idle strategy", func(ctx *Context) { ctx.IdleStrategy = nil }, false},
		{"no clock", func(ctx *Context) { ctx.NanoClock = nil }, false},
		{"no error handler", func(ctx *Context) { ctx.ErrorHandler = nil }, false},
		{"no factory", func(ctx *Context) { ctx.LogBuffersFactory = nil }, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx := NewContext()
			ctx.CountersValues = atomicbuf.MakeBuffer(1024)
			test.modify(ctx)

			if err := ctx.Validate(); test.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestContextDefaults(t *testing.T) {
	ctx := NewContext()

	assert.Equal(t, DefaultDriverTimeout, ctx.DriverTimeout)
	assert.Equal(t, DefaultKeepaliveInterval, ctx.KeepaliveInterval)
	assert.Equal(t, DefaultResourceLingerTimeout, ctx.ResourceLingerTimeout)
	assert.InDelta(t, time.Now().UnixNano(), ctx.NanoClock(), float64(time.Second))
	assert.NotPanics(t, func() {
		ctx.ErrorHandler(assert.AnError)
		ctx.AvailableImageHandler(nil)
		ctx.UnavailableImageHandler(nil)
	})
}
