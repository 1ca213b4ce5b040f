// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"sync/atomic"

	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

// Subscription polls the images of all publishers on its channel and
// stream. The image list is replaced on every change, so polling never
// takes a lock.
type Subscription struct {
	conductor      resourceReleaser
	channel        string
	registrationID int64
	streamID       int32

	availableImageHandler   ImageHandler
	unavailableImageHandler ImageHandler

	images          atomic.Pointer[[]*Image]
	roundRobinIndex int
	isClosed        atomic.Bool
}

func newSubscription(
	conductor resourceReleaser, channel string, streamID int32, registrationID int64,
	availableImageHandler, unavailableImageHandler ImageHandler) *Subscription {

	sub := &Subscription{
		conductor:               conductor,
		channel:                 channel,
		registrationID:          registrationID,
		streamID:                streamID,
		availableImageHandler:   availableImageHandler,
		unavailableImageHandler: unavailableImageHandler,
	}
	sub.images.Store(&[]*Image{})
	return sub
}

func (sub *Subscription) Channel() string {
	return sub.channel
}

func (sub *Subscription) StreamID() int32 {
	return sub.streamID
}

func (sub *Subscription) RegistrationID() int64 {
	return sub.registrationID
}

// IsClosed reports whether the subscription was released.
func (sub *Subscription) IsClosed() bool {
	return sub.isClosed.Load()
}

// IsConnected reports whether at least one image is open.
func (sub *Subscription) IsConnected() bool {
	for _, img := range *sub.images.Load() {
		if !img.IsClosed() {
			return true
		}
	}
	return false
}

// Images currently available. The returned slice must not be modified.
func (sub *Subscription) Images() []*Image {
	return *sub.images.Load()
}

func (sub *Subscription) ImageCount() int {
	return len(*sub.images.Load())
}

// ImageBySessionID or nil.
func (sub *Subscription) ImageBySessionID(sessionID int32) *Image {
	for _, img := range *sub.images.Load() {
		if img.SessionID() == sessionID {
			return img
		}
	}
	return nil
}

// Poll the images round robin for up to fragmentLimit fragments in total.
func (sub *Subscription) Poll(handler logbuffer.FragmentHandler, fragmentLimit int) int {
	return sub.roundRobin(fragmentLimit, func(img *Image, limit int) int {
		return img.Poll(handler, limit)
	})
}

// ControlledPoll the images round robin.
func (sub *Subscription) ControlledPoll(handler logbuffer.ControlledFragmentHandler, fragmentLimit int) int {
	return sub.roundRobin(fragmentLimit, func(img *Image, limit int) int {
		return img.ControlledPoll(handler, limit)
	})
}

// BoundedPoll the images round robin, each up to limitPosition.
func (sub *Subscription) BoundedPoll(handler logbuffer.FragmentHandler, limitPosition int64, fragmentLimit int) int {
	return sub.roundRobin(fragmentLimit, func(img *Image, limit int) int {
		return img.BoundedPoll(handler, limitPosition, limit)
	})
}

// BoundedControlledPoll the images round robin, each up to limitPosition.
func (sub *Subscription) BoundedControlledPoll(
	handler logbuffer.ControlledFragmentHandler, limitPosition int64, fragmentLimit int) int {

	return sub.roundRobin(fragmentLimit, func(img *Image, limit int) int {
		return img.BoundedControlledPoll(handler, limitPosition, limit)
	})
}

func (sub *Subscription) roundRobin(fragmentLimit int, poll func(img *Image, limit int) int) int {
	images := *sub.images.Load()
	length := len(images)
	if length == 0 {
		return 0
	}

	startingIndex := sub.roundRobinIndex
	sub.roundRobinIndex++
	if startingIndex >= length {
		startingIndex = 0
		sub.roundRobinIndex = 0
	}

	fragmentsRead := 0
	for i := startingIndex; i < length && fragmentsRead < fragmentLimit; i++ {
		fragmentsRead += poll(images[i], fragmentLimit-fragmentsRead)
	}
	for i := 0; i < startingIndex && fragmentsRead < fragmentLimit; i++ {
		fragmentsRead += poll(images[i], fragmentLimit-fragmentsRead)
	}

	return fragmentsRead
}

// Close releases the subscription. Its images become unavailable.
func (sub *Subscription) Close() error {
	if sub.isClosed.Load() {
		return nil
	}
	return sub.conductor.releaseSubscription(sub)
}

func (sub *Subscription) hasImage(correlationID int64) bool {
	for _, img := range *sub.images.Load() {
		if img.CorrelationID() == correlationID {
			return true
		}
	}
	return false
}

func (sub *Subscription) addImage(img *Image) {
	oldImages := *sub.images.Load()
	newImages := make([]*Image, len(oldImages), len(oldImages)+1)
	copy(newImages, oldImages)
	newImages = append(newImages, img)
	sub.images.Store(&newImages)
}

// removeImage returns the removed image or nil.
func (sub *Subscription) removeImage(correlationID int64) *Image {
	oldImages := *sub.images.Load()
	for i, img := range oldImages {
		if img.CorrelationID() != correlationID {
			continue
		}

		newImages := make([]*Image, 0, len(oldImages)-1)
		newImages = append(newImages, oldImages[:i]...)
		newImages = append(newImages, oldImages[i+1:]...)
		sub.images.Store(&newImages)
		return img
	}
	return nil
}

// close the subscription and hand back its images, done by the conductor.
func (sub *Subscription) close() []*Image {
	sub.isClosed.Store(true)
	images := *sub.images.Load()
	sub.images.Store(&[]*Image{})
	return images
}
