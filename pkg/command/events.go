// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"io"

	"github.com/dtn7/cboring"
)

// Error answers the command of OffendingCorrelationID with a failure.
type Error struct {
	OffendingCorrelationID int64
	Code                   ErrorCode
	Message                string
}

func (*Error) TypeID() int32 {
	return OnErrorTypeID
}

func (e *Error) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := writeInts(w, e.OffendingCorrelationID, int64(e.Code)); err != nil {
		return err
	}
	return cboring.WriteTextString(e.Message, w)
}

func (e *Error) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, 3); err != nil {
		return
	}

	var code int64
	if err = readInt64s(r, &e.OffendingCorrelationID, &code); err != nil {
		return
	}
	e.Code = ErrorCode(code)

	e.Message, err = cboring.ReadTextString(r)
	return
}

// PublicationReady answers an AddPublication. RegistrationID differs from
// CorrelationID when the driver reused an existing publication.
type PublicationReady struct {
	CorrelationID             int64
	RegistrationID            int64
	SessionID                 int32
	StreamID                  int32
	PublicationLimitCounterID int32
	LogFileName               string
}

func (*PublicationReady) TypeID() int32 {
	return OnPublicationReadyTypeID
}

func (pr *PublicationReady) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(6, w); err != nil {
		return err
	}
	if err := writeInts(w, pr.CorrelationID, pr.RegistrationID,
		int64(pr.SessionID), int64(pr.StreamID), int64(pr.PublicationLimitCounterID)); err != nil {
		return err
	}
	return cboring.WriteTextString(pr.LogFileName, w)
}

func (pr *PublicationReady) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, 6); err != nil {
		return
	}
	if err = readInt64s(r, &pr.CorrelationID, &pr.RegistrationID); err != nil {
		return
	}
	if err = readInt32s(r, &pr.SessionID, &pr.StreamID, &pr.PublicationLimitCounterID); err != nil {
		return
	}
	pr.LogFileName, err = cboring.ReadTextString(r)
	return
}

// correlationOnly is the body of events carrying nothing but a correlation id.
type correlationOnly struct {
	CorrelationID int64
}

func (co *correlationOnly) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return writeInts(w, co.CorrelationID)
}

func (co *correlationOnly) UnmarshalCbor(r io.Reader) error {
	if err := readFields(r, 1); err != nil {
		return err
	}
	return readInt64s(r, &co.CorrelationID)
}

// SubscriptionReady answers an AddSubscription.
type SubscriptionReady struct {
	correlationOnly
}

// NewSubscriptionReady event.
func NewSubscriptionReady(correlationID int64) *SubscriptionReady {
	return &SubscriptionReady{correlationOnly{correlationID}}
}

func (*SubscriptionReady) TypeID() int32 {
	return OnSubscriptionReadyTypeID
}

// OperationSuccess acknowledges a remove command.
type OperationSuccess struct {
	correlationOnly
}

// NewOperationSuccess event.
func NewOperationSuccess(correlationID int64) *OperationSuccess {
	return &OperationSuccess{correlationOnly{correlationID}}
}

func (*OperationSuccess) TypeID() int32 {
	return OnOperationSuccessTypeID
}

// AvailableImage announces a publisher's stream to a subscription.
// CorrelationID identifies the image.
type AvailableImage struct {
	CorrelationID              int64
	SubscriptionRegistrationID int64
	SessionID                  int32
	StreamID                   int32
	SubscriberPositionID       int32
	LogFileName                string
	SourceIdentity             string
}

func (*AvailableImage) TypeID() int32 {
	return OnAvailableImageTypeID
}

func (ai *AvailableImage) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(7, w); err != nil {
		return err
	}
	if err := writeInts(w, ai.CorrelationID, ai.SubscriptionRegistrationID,
		int64(ai.SessionID), int64(ai.StreamID), int64(ai.SubscriberPositionID)); err != nil {
		return err
	}
	if err := cboring.WriteTextString(ai.LogFileName, w); err != nil {
		return err
	}
	return cboring.WriteTextString(ai.SourceIdentity, w)
}

func (ai *AvailableImage) UnmarshalCbor(r io.Reader) (err error) {
	if err = readFields(r, 7); err != nil {
		return
	}
	if err = readInt64s(r, &ai.CorrelationID, &ai.SubscriptionRegistrationID); err != nil {
		return
	}
	if err = readInt32s(r, &ai.SessionID, &ai.StreamID, &ai.SubscriberPositionID); err != nil {
		return
	}
	if ai.LogFileName, err = cboring.ReadTextString(r); err != nil {
		return
	}
	ai.SourceIdentity, err = cboring.ReadTextString(r)
	return
}

// UnavailableImage withdraws the image of CorrelationID from a subscription.
type UnavailableImage struct {
	CorrelationID              int64
	SubscriptionRegistrationID int64
	StreamID                   int32
}

func (*UnavailableImage) TypeID() int32 {
	return OnUnavailableImageTypeID
}

func (ui *UnavailableImage) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	return writeInts(w, ui.CorrelationID, ui.SubscriptionRegistrationID, int64(ui.StreamID))
}

func (ui *UnavailableImage) UnmarshalCbor(r io.Reader) error {
	if err := readFields(r, 3); err != nil {
		return err
	}
	if err := readInt64s(r, &ui.CorrelationID, &ui.SubscriptionRegistrationID); err != nil {
		return err
	}
	return readInt32s(r, &ui.StreamID)
}

// ClientTimeout tells a client the driver considers it dead.
type ClientTimeout struct {
	ClientID int64
}

func (*ClientTimeout) TypeID() int32 {
	return OnClientTimeoutTypeID
}

func (ct *ClientTimeout) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return writeInts(w, ct.ClientID)
}

func (ct *ClientTimeout) UnmarshalCbor(r io.Reader) error {
	if err := readFields(r, 1); err != nil {
		return err
	}
	return readInt64s(r, &ct.ClientID)
}
