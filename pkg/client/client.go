// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"

	"github.com/shmlog/shmlog-go/pkg/idle"
)

// Client is a ClientConductor driven by an AgentRunner.
type Client struct {
	ctx       *Context
	conductor *ClientConductor
	runner    *AgentRunner
}

// Connect a client to the driver behind transport and receiver.
func Connect(ctx *Context, transport CommandTransport, receiver EventReceiver) (*Client, error) {
	conductor, err := NewClientConductor(ctx, NewDriverProxy(transport), receiver)
	if err != nil {
		return nil, err
	}

	runner := NewAgentRunner(conductor, ctx.IdleStrategy, ctx.ErrorHandler)
	runner.Start()

	return &Client{
		ctx:       ctx,
		conductor: conductor,
		runner:    runner,
	}, nil
}

// Conductor of this client.
func (c *Client) Conductor() *ClientConductor {
	return c.conductor
}

func (c *Client) ClientID() int64 {
	return c.conductor.ClientID()
}

// AddPublication, see ClientConductor.AddPublication.
func (c *Client) AddPublication(channel string, streamID int32) (*Publication, error) {
	return c.conductor.AddPublication(channel, streamID)
}

// AddSubscription, see ClientConductor.AddSubscription.
func (c *Client) AddSubscription(channel string, streamID int32) (*Subscription, error) {
	return c.conductor.AddSubscription(channel, streamID)
}

// AddSubscriptionWithHandlers, see ClientConductor.AddSubscriptionWithHandlers.
func (c *Client) AddSubscriptionWithHandlers(
	channel string, streamID int32, available, unavailable ImageHandler) (*Subscription, error) {

	return c.conductor.AddSubscriptionWithHandlers(channel, streamID, available, unavailable)
}

// Connectable is a Publication or a Subscription.
type Connectable interface {
	IsConnected() bool
	IsClosed() bool
}

// AwaitConnected waits up to the PublicationConnectionTimeout for resource
// to be connected.
func (c *Client) AwaitConnected(resource Connectable) error {
	idler := idle.DefaultBackoff()
	deadlineNs := c.ctx.NanoClock() + int64(c.ctx.PublicationConnectionTimeout)

	for !resource.IsConnected() {
		if resource.IsClosed() || c.conductor.IsClosed() {
			return ErrClientClosed
		}
		if c.ctx.NanoClock()-deadlineNs > 0 {
			return fmt.Errorf("not connected within %v", c.ctx.PublicationConnectionTimeout)
		}
		idler.Idle(0)
	}
	return nil
}

// Close stops the runner and closes the conductor.
func (c *Client) Close() error {
	c.runner.Stop()
	return c.conductor.Close()
}
