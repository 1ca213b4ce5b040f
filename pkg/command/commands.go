// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"io"

	"github.com/dtn7/cboring"
)

// Correlated is the common head of every command.
type Correlated struct {
	ClientID      int64
	CorrelationID int64
}

func (c *Correlated) marshal(w io.Writer, n uint64) error {
	if err := cboring.WriteArrayLength(n, w); err != nil {
		return err
	}
	return writeInts(w, c.ClientID, c.CorrelationID)
}

func (c *Correlated) unmarshal(r io.Reader, n uint64) error {
	if err := readFields(r, n); err != nil {
		return err
	}
	return readInt64s(r, &c.ClientID, &c.CorrelationID)
}

// channelStream is the body of the add commands.
type channelStream struct {
	Correlated
	StreamID int32
	Channel  string
}

func (cs *channelStream) MarshalCbor(w io.Writer) error {
	if err := cs.marshal(w, 4); err != nil {
		return err
	}
	if err := writeInts(w, int64(cs.StreamID)); err != nil {
		return err
	}
	return cboring.WriteTextString(cs.Channel, w)
}

func (cs *channelStream) UnmarshalCbor(r io.Reader) (err error) {
	if err = cs.unmarshal(r, 4); err != nil {
		return
	}
	if err = readInt32s(r, &cs.StreamID); err != nil {
		return
	}
	cs.Channel, err = cboring.ReadTextString(r)
	return
}

// registration is the body of the remove commands.
type registration struct {
	Correlated
	RegistrationID int64
}

func (rg *registration) MarshalCbor(w io.Writer) error {
	if err := rg.marshal(w, 3); err != nil {
		return err
	}
	return writeInts(w, rg.RegistrationID)
}

func (rg *registration) UnmarshalCbor(r io.Reader) error {
	if err := rg.unmarshal(r, 3); err != nil {
		return err
	}
	return readInt64s(r, &rg.RegistrationID)
}

// AddPublication asks the driver for a publication on channel and stream.
type AddPublication struct {
	channelStream
}

// NewAddPublication command.
func NewAddPublication(clientID, correlationID int64, channel string, streamID int32) *AddPublication {
	return &AddPublication{channelStream{Correlated{clientID, correlationID}, streamID, channel}}
}

func (*AddPublication) TypeID() int32 {
	return AddPublicationTypeID
}

// RemovePublication releases the publication of RegistrationID.
type RemovePublication struct {
	registration
}

// NewRemovePublication command.
func NewRemovePublication(clientID, correlationID, registrationID int64) *RemovePublication {
	return &RemovePublication{registration{Correlated{clientID, correlationID}, registrationID}}
}

func (*RemovePublication) TypeID() int32 {
	return RemovePublicationTypeID
}

// AddSubscription asks the driver for a subscription on channel and stream.
type AddSubscription struct {
	channelStream
}

// NewAddSubscription command.
func NewAddSubscription(clientID, correlationID int64, channel string, streamID int32) *AddSubscription {
	return &AddSubscription{channelStream{Correlated{clientID, correlationID}, streamID, channel}}
}

func (*AddSubscription) TypeID() int32 {
	return AddSubscriptionTypeID
}

// RemoveSubscription releases the subscription of RegistrationID.
type RemoveSubscription struct {
	registration
}

// NewRemoveSubscription command.
func NewRemoveSubscription(clientID, correlationID, registrationID int64) *RemoveSubscription {
	return &RemoveSubscription{registration{Correlated{clientID, correlationID}, registrationID}}
}

func (*RemoveSubscription) TypeID() int32 {
	return RemoveSubscriptionTypeID
}

// ClientKeepalive tells the driver the client is still alive.
type ClientKeepalive struct {
	Correlated
}

// NewClientKeepalive command.
func NewClientKeepalive(clientID int64) *ClientKeepalive {
	return &ClientKeepalive{Correlated{ClientID: clientID}}
}

func (*ClientKeepalive) TypeID() int32 {
	return ClientKeepaliveTypeID
}

func (ck *ClientKeepalive) MarshalCbor(w io.Writer) error {
	return ck.marshal(w, 2)
}

func (ck *ClientKeepalive) UnmarshalCbor(r io.Reader) error {
	return ck.unmarshal(r, 2)
}

// ClientClose tells the driver to release all resources of the client.
type ClientClose struct {
	Correlated
}

// NewClientClose command.
func NewClientClose(clientID int64) *ClientClose {
	return &ClientClose{Correlated{ClientID: clientID}}
}

func (*ClientClose) TypeID() int32 {
	return ClientCloseTypeID
}

func (cc *ClientClose) MarshalCbor(w io.Writer) error {
	return cc.marshal(w, 2)
}

func (cc *ClientClose) UnmarshalCbor(r io.Reader) error {
	return cc.unmarshal(r, 2)
}
