// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/dtn7/cboring"
)

// Record is a command or event. TypeID identifies the concrete type on the
// wire; the CborMarshaler only covers the record's fields.
type Record interface {
	TypeID() int32

	cboring.CborMarshaler
}

var (
	// ErrUnknownType is returned by Decode for a message type id without a
	// record type.
	ErrUnknownType = errors.New("unknown message type id")

	// ErrMalformed is returned by Decode for a payload not matching the
	// record layout of its type, e.g. a truncated one.
	ErrMalformed = errors.New("malformed message")
)

var recordMapping = map[int32]reflect.Type{
	AddPublicationTypeID:      reflect.TypeOf(AddPublication{}),
	RemovePublicationTypeID:   reflect.TypeOf(RemovePublication{}),
	AddSubscriptionTypeID:     reflect.TypeOf(AddSubscription{}),
	RemoveSubscriptionTypeID:  reflect.TypeOf(RemoveSubscription{}),
	ClientKeepaliveTypeID:     reflect.TypeOf(ClientKeepalive{}),
	ClientCloseTypeID:         reflect.TypeOf(ClientClose{}),
	OnErrorTypeID:             reflect.TypeOf(Error{}),
	OnAvailableImageTypeID:    reflect.TypeOf(AvailableImage{}),
	OnPublicationReadyTypeID:  reflect.TypeOf(PublicationReady{}),
	OnOperationSuccessTypeID:  reflect.TypeOf(OperationSuccess{}),
	OnUnavailableImageTypeID:  reflect.TypeOf(UnavailableImage{}),
	OnSubscriptionReadyTypeID: reflect.TypeOf(SubscriptionReady{}),
	OnClientTimeoutTypeID:     reflect.TypeOf(ClientTimeout{}),
}

// Encode a record's fields as CBOR.
func Encode(record Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := cboring.Marshal(record, &buf); err != nil {
		return nil, fmt.Errorf("encoding %s failed: %w", TypeName(record.TypeID()), err)
	}
	return buf.Bytes(), nil
}

// Decode the payload of a message with the given type id.
func Decode(msgTypeID int32, payload []byte) (Record, error) {
	t, ok := recordMapping[msgTypeID]
	if !ok {
		return nil, fmt.Errorf("%w %#x", ErrUnknownType, msgTypeID)
	}

	record := reflect.New(t).Interface().(Record)
	r := bytes.NewReader(payload)
	if err := cboring.Unmarshal(record, r); err != nil {
		return nil, fmt.Errorf("%w: %s of %d bytes: %v", ErrMalformed, TypeName(msgTypeID), len(payload), err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %s has %d trailing bytes", ErrMalformed, TypeName(msgTypeID), r.Len())
	}

	return record, nil
}

// readFields expects an array of exactly n elements.
func readFields(r io.Reader, n uint64) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != n {
		return fmt.Errorf("expected array of %d elements, got %d", n, l)
	}
	return nil
}

func writeInts(w io.Writer, values ...int64) error {
	for _, v := range values {
		if err := cboring.WriteUInt(uint64(v), w); err != nil {
			return err
		}
	}
	return nil
}

func readInt64(r io.Reader) (int64, error) {
	n, err := cboring.ReadUInt(r)
	return int64(n), err
}

func readInt32(r io.Reader) (int32, error) {
	n, err := readInt64(r)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("value %d exceeds int32", n)
	}
	return int32(n), nil
}

func readInt64s(r io.Reader, fields ...*int64) error {
	for _, f := range fields {
		n, err := readInt64(r)
		if err != nil {
			return err
		}
		*f = n
	}
	return nil
}

func readInt32s(r io.Reader, fields ...*int32) error {
	for _, f := range fields {
		n, err := readInt32(r)
		if err != nil {
			return err
		}
		*f = n
	}
	return nil
}
