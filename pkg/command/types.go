// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import "fmt"

// Command type ids, client to driver.
const (
	AddPublicationTypeID     int32 = 0x01
	RemovePublicationTypeID  int32 = 0x02
	AddSubscriptionTypeID    int32 = 0x04
	RemoveSubscriptionTypeID int32 = 0x05
	ClientKeepaliveTypeID    int32 = 0x06
	ClientCloseTypeID        int32 = 0x0B
)

// Event type ids, driver to clients.
const (
	OnErrorTypeID             int32 = 0x0F01
	OnAvailableImageTypeID    int32 = 0x0F02
	OnPublicationReadyTypeID  int32 = 0x0F03
	OnOperationSuccessTypeID  int32 = 0x0F04
	OnUnavailableImageTypeID  int32 = 0x0F05
	OnSubscriptionReadyTypeID int32 = 0x0F07
	OnClientTimeoutTypeID     int32 = 0x0F0A
)

// TypeName of a message type id, for logging.
func TypeName(msgTypeID int32) string {
	switch msgTypeID {
	case AddPublicationTypeID:
		return "ADD_PUBLICATION"
	case RemovePublicationTypeID:
		return "REMOVE_PUBLICATION"
	case AddSubscriptionTypeID:
		return "ADD_SUBSCRIPTION"
	case RemoveSubscriptionTypeID:
		return "REMOVE_SUBSCRIPTION"
	case ClientKeepaliveTypeID:
		return "CLIENT_KEEPALIVE"
	case ClientCloseTypeID:
		return "CLIENT_CLOSE"
	case OnErrorTypeID:
		return "ON_ERROR"
	case OnAvailableImageTypeID:
		return "ON_AVAILABLE_IMAGE"
	case OnPublicationReadyTypeID:
		return "ON_PUBLICATION_READY"
	case OnOperationSuccessTypeID:
		return "ON_OPERATION_SUCCESS"
	case OnUnavailableImageTypeID:
		return "ON_UNAVAILABLE_IMAGE"
	case OnSubscriptionReadyTypeID:
		return "ON_SUBSCRIPTION_READY"
	case OnClientTimeoutTypeID:
		return "ON_CLIENT_TIMEOUT"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", msgTypeID)
	}
}

// ErrorCode reported by the driver in an Error event.
type ErrorCode uint64

const (
	GenericError ErrorCode = iota
	InvalidChannel
	UnknownSubscription
	UnknownPublication
	ChannelEndpointError
	UnknownCounter
	UnknownCommandTypeID
	MalformedCommand
	NotSupported
	ResourceTemporarilyUnavailable
	StorageSpace
)

func (ec ErrorCode) String() string {
	switch ec {
	case GenericError:
		return "GENERIC_ERROR"
	case InvalidChannel:
		return "INVALID_CHANNEL"
	case UnknownSubscription:
		return "UNKNOWN_SUBSCRIPTION"
	case UnknownPublication:
		return "UNKNOWN_PUBLICATION"
	case ChannelEndpointError:
		return "CHANNEL_ENDPOINT_ERROR"
	case UnknownCounter:
		return "UNKNOWN_COUNTER"
	case UnknownCommandTypeID:
		return "UNKNOWN_COMMAND_TYPE_ID"
	case MalformedCommand:
		return "MALFORMED_COMMAND"
	case NotSupported:
		return "NOT_SUPPORTED"
	case ResourceTemporarilyUnavailable:
		return "RESOURCE_TEMPORARILY_UNAVAILABLE"
	case StorageSpace:
		return "STORAGE_SPACE"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_CODE(%d)", uint64(ec))
	}
}
