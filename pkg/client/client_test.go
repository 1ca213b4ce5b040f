// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package client_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/client"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
	"github.com/shmlog/shmlog-go/pkg/loopback"
)

const streamID int32 = 1001

func startDriver(t *testing.T) *loopback.Driver {
	driver, err := loopback.NewDriver(loopback.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	driver.Start()
	t.Cleanup(func() { assert.NoError(t, driver.Close()) })
	return driver
}

func connect(t *testing.T, driver *loopback.Driver, receiver client.EventReceiver) *client.Client {
	ctx := client.NewContext()
	ctx.CountersValues = driver.CountersValues()
	ctx.ResourceLingerTimeout = 10 * time.Millisecond

	c, err := client.Connect(ctx, driver, receiver)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c
}

func pollUntil(t *testing.T, sub *client.Subscription, handler logbuffer.FragmentHandler, received func() bool) {
	require.Eventually(t, func() bool {
		sub.Poll(handler, 10)
		return received()
	}, 5*time.Second, time.Millisecond)
}

func TestHelloWorld(t *testing.T) {
	driver := startDriver(t)
	c := connect(t, driver, driver)

	sub, err := c.AddSubscription(loopback.IPCChannel, streamID)
	require.NoError(t, err)
	pub, err := c.AddPublication(loopback.IPCChannel, streamID)
	require.NoError(t, err)

	require.NoError(t, c.AwaitConnected(pub))
	require.NoError(t, c.AwaitConnected(sub))

	assert.Equal(t, int64(64), pub.Offer([]byte("Hello World!")))

	var messages []string
	pollUntil(t, sub, func(buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) {
		messages = append(messages, string(buffer.Slice(offset, length)))
		assert.Equal(t, pub.SessionID(), header.SessionID())
		assert.Equal(t, streamID, header.StreamID())
	}, func() bool { return len(messages) > 0 })

	assert.Equal(t, []string{"Hello World!"}, messages)
	assert.Equal(t, int64(64), sub.Images()[0].Position())
}

func TestExchangeBetweenClients(t *testing.T) {
	driver := startDriver(t)
	publisher := connect(t, driver, driver)
	subscriber := connect(t, driver, driver.NewReceiver())
	assert.NotEqual(t, publisher.ClientID(), subscriber.ClientID())

	images := make(chan *client.Image, 4)
	sub, err := subscriber.AddSubscriptionWithHandlers(loopback.IPCChannel, streamID,
		func(img *client.Image) { images <- img },
		func(img *client.Image) { images <- img })
	require.NoError(t, err)

	pub, err := publisher.AddPublication(loopback.IPCChannel+"?term-length=65536", streamID)
	require.NoError(t, err)
	require.NoError(t, publisher.AwaitConnected(pub))
	assert.Equal(t, int32(65536), pub.TermBufferLength())

	select {
	case img := <-images:
		assert.Equal(t, pub.SessionID(), img.SessionID())
		assert.Equal(t, loopback.IPCChannel, img.SourceIdentity())
	case <-time.After(5 * time.Second):
		t.Fatal("no image became available")
	}

	var received [][]byte
	assembler := client.NewFragmentAssembler(
		func(buffer *atomicbuf.Buffer, offset, length int32, _ *logbuffer.Header) {
			received = append(received, bytes.Clone(buffer.Slice(offset, length)))
		}, client.DefaultFragmentAssemblyBufferLength)

	// The messages exceed the publication window, so the subscriber polls
	// while the publisher offers.
	large := bytes.Repeat([]byte("shmlog "), 1000)
	var offered [][]byte
	for i := 0; i < 20; i++ {
		message := append([]byte{byte(i)}, large...)
		require.Eventually(t, func() bool {
			sub.Poll(assembler.OnFragment, 10)
			return pub.Offer(message) > 0
		}, 5*time.Second, time.Millisecond)
		offered = append(offered, message)
	}

	pollUntil(t, sub, assembler.OnFragment, func() bool { return len(received) == len(offered) })
	assert.Equal(t, offered, received)

	require.NoError(t, pub.Close())
	select {
	case img := <-images:
		assert.True(t, img.IsClosed())
		assert.True(t, img.IsEndOfStream())
	case <-time.After(5 * time.Second):
		t.Fatal("image did not become unavailable")
	}
	assert.False(t, sub.IsConnected())
}

func TestUnavailableImageKeepsPosition(t *testing.T) {
	driver := startDriver(t)
	c := connect(t, driver, driver)

	type withdrawal struct {
		position    int64
		endOfStream bool
	}
	withdrawals := make(chan withdrawal, 1)

	sub, err := c.AddSubscriptionWithHandlers(loopback.IPCChannel, streamID,
		func(*client.Image) {},
		func(img *client.Image) { withdrawals <- withdrawal{img.Position(), img.IsEndOfStream()} })
	require.NoError(t, err)
	pub, err := c.AddPublication(loopback.IPCChannel, streamID)
	require.NoError(t, err)
	require.NoError(t, c.AwaitConnected(pub))
	require.NoError(t, c.AwaitConnected(sub))

	require.Equal(t, int64(64), pub.Offer([]byte("Hello World!")))

	var count int
	pollUntil(t, sub, func(*atomicbuf.Buffer, int32, int32, *logbuffer.Header) { count++ },
		func() bool { return count == 1 })
	img := sub.Images()[0]
	require.Equal(t, int64(64), img.Position())

	require.NoError(t, pub.Close())
	select {
	case w := <-withdrawals:
		assert.Equal(t, withdrawal{64, true}, w)
	case <-time.After(5 * time.Second):
		t.Fatal("image did not become unavailable")
	}
	assert.Equal(t, int64(64), img.Position())
	assert.True(t, img.IsEndOfStream())
}

func TestRegistrationErrorFromDriver(t *testing.T) {
	driver := startDriver(t)
	c := connect(t, driver, driver)

	_, err := c.AddPublication("shmlog:udp?endpoint=localhost:40123", streamID)
	var regErr *client.RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Contains(t, regErr.Error(), "unsupported channel")
}
