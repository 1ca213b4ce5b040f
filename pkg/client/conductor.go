// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/command"
	"github.com/shmlog/shmlog-go/pkg/counters"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

type pendingKind uint8

const (
	_ pendingKind = iota
	pendingAddPublication
	pendingAddSubscription
	pendingRemove
)

// pendingRequest is a command awaiting the driver's answer.
type pendingRequest struct {
	kind          pendingKind
	correlationID int64
	channel       string
	streamID      int32

	availableImageHandler   ImageHandler
	unavailableImageHandler ImageHandler

	done         bool
	err          error
	publication  *Publication
	subscription *Subscription
}

func (req *pendingRequest) complete(err error) {
	req.done = true
	req.err = err
}

type channelStreamKey struct {
	channel  string
	streamID int32
}

// ClientConductor turns the blocking client API into commands to the driver
// and applies the driver's events to publications, subscriptions and
// images.
//
// DoWork must be called from one goroutine, usually an AgentRunner. The
// other methods may be called from any goroutine; they are serialized by an
// internal lock and service the driver's events themselves while waiting for
// an answer. Image and error handlers run on the goroutine which processed
// the event, after the lock was released.
type ClientConductor struct {
	ctx            *Context
	driverProxy    DriverProxy
	driverListener *driverListenerAdapter

	mutex                  sync.Mutex
	resourceByRegID        map[int64]any
	publicationByKey       map[channelStreamKey]*Publication
	pendingByCorrelationID map[int64]*pendingRequest
	logBuffersByName       map[string]*logbuffer.LogBuffers
	lingeringLogBuffers    []*logbuffer.LogBuffers
	callbacks              []func()

	timeOfLastKeepaliveNs int64
	timeOfLastServiceNs   int64

	isClosed      atomic.Bool
	isTerminating atomic.Bool
}

// NewClientConductor for a driver reached through driverProxy and receiver.
func NewClientConductor(ctx *Context, driverProxy DriverProxy, receiver EventReceiver) (*ClientConductor, error) {
	if err := ctx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client context: %w", err)
	}

	nowNs := ctx.NanoClock()
	cc := &ClientConductor{
		ctx:                    ctx,
		driverProxy:            driverProxy,
		resourceByRegID:        make(map[int64]any),
		publicationByKey:       make(map[channelStreamKey]*Publication),
		pendingByCorrelationID: make(map[int64]*pendingRequest),
		logBuffersByName:       make(map[string]*logbuffer.LogBuffers),
		timeOfLastKeepaliveNs:  nowNs,
		timeOfLastServiceNs:    nowNs,
	}
	cc.driverListener = newDriverListenerAdapter(receiver, cc)

	return cc, nil
}

// ClientID as known to the driver.
func (cc *ClientConductor) ClientID() int64 {
	return cc.driverProxy.ClientID()
}

// IsClosed reports whether the conductor was closed or terminated.
func (cc *ClientConductor) IsClosed() bool {
	return cc.isClosed.Load() || cc.isTerminating.Load()
}

// withLock runs f under the conductor's lock and the callbacks queued by f
// after releasing it.
func (cc *ClientConductor) withLock(f func()) {
	var callbacks []func()

	func() {
		cc.mutex.Lock()
		defer cc.mutex.Unlock()

		f()
		callbacks, cc.callbacks = cc.callbacks, nil
	}()

	for _, callback := range callbacks {
		callback()
	}
}

func (cc *ClientConductor) ensureActive() error {
	if cc.IsClosed() {
		return ErrClientClosed
	}
	return nil
}

// AddPublication on channel and stream. An open publication for the same
// channel and stream is shared and its reference count incremented.
func (cc *ClientConductor) AddPublication(channel string, streamID int32) (pub *Publication, err error) {
	cc.withLock(func() {
		pub, err = cc.addPublication(channel, streamID)
	})
	return
}

func (cc *ClientConductor) addPublication(channel string, streamID int32) (*Publication, error) {
	if err := cc.ensureActive(); err != nil {
		return nil, err
	}

	key := channelStreamKey{channel, streamID}
	if pub, ok := cc.publicationByKey[key]; ok {
		pub.refCount++
		return pub, nil
	}

	correlationID, err := cc.driverProxy.AddPublication(channel, streamID)
	if err != nil {
		return nil, err
	}

	req := &pendingRequest{
		kind:          pendingAddPublication,
		correlationID: correlationID,
		channel:       channel,
		streamID:      streamID,
	}
	if err := cc.awaitResponse(req, "AddPublication"); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"channel":      channel,
		"stream":       streamID,
		"session":      req.publication.SessionID(),
		"registration": req.publication.RegistrationID(),
	}).Info("Added publication")

	return req.publication, nil
}

// AddSubscription on channel and stream, using the Context's image handlers.
func (cc *ClientConductor) AddSubscription(channel string, streamID int32) (*Subscription, error) {
	return cc.AddSubscriptionWithHandlers(channel, streamID, nil, nil)
}

// AddSubscriptionWithHandlers on channel and stream. Nil handlers fall back
// to the Context's.
func (cc *ClientConductor) AddSubscriptionWithHandlers(
	channel string, streamID int32, available, unavailable ImageHandler) (sub *Subscription, err error) {

	if available == nil {
		available = cc.ctx.AvailableImageHandler
	}
	if unavailable == nil {
		unavailable = cc.ctx.UnavailableImageHandler
	}

	cc.withLock(func() {
		sub, err = cc.addSubscription(channel, streamID, available, unavailable)
	})
	return
}

func (cc *ClientConductor) addSubscription(
	channel string, streamID int32, available, unavailable ImageHandler) (*Subscription, error) {

	if err := cc.ensureActive(); err != nil {
		return nil, err
	}

	correlationID, err := cc.driverProxy.AddSubscription(channel, streamID)
	if err != nil {
		return nil, err
	}

	req := &pendingRequest{
		kind:                    pendingAddSubscription,
		correlationID:           correlationID,
		channel:                 channel,
		streamID:                streamID,
		availableImageHandler:   available,
		unavailableImageHandler: unavailable,
	}
	if err := cc.awaitResponse(req, "AddSubscription"); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"channel":      channel,
		"stream":       streamID,
		"registration": correlationID,
	}).Info("Added subscription")

	return req.subscription, nil
}

// awaitResponse busy polls the driver's events until req is answered or
// the driver timeout elapsed.
func (cc *ClientConductor) awaitResponse(req *pendingRequest, operation string) error {
	cc.pendingByCorrelationID[req.correlationID] = req
	defer delete(cc.pendingByCorrelationID, req.correlationID)

	deadlineNs := cc.ctx.NanoClock() + int64(cc.ctx.DriverTimeout)
	idler := cc.ctx.AwaitingIdleStrategy
	idler.Reset()

	for {
		workCount, err := cc.service()
		if err != nil {
			cc.queueError(err)
		}

		if req.done {
			return req.err
		}
		if cc.isTerminating.Load() {
			return ErrClientClosed
		}
		if cc.ctx.NanoClock()-deadlineNs > 0 {
			return &DriverTimeoutError{Operation: operation, Timeout: cc.ctx.DriverTimeout}
		}

		idler.Idle(workCount)
	}
}

// DoWork is one duty cycle: it checks the timeouts, sends a keepalive if
// due, frees lingering log buffers and dispatches the driver's events.
// While another goroutine holds the conductor, DoWork returns immediately.
func (cc *ClientConductor) DoWork() (workCount int, err error) {
	if !cc.mutex.TryLock() {
		return 0, nil
	}

	var callbacks []func()
	func() {
		defer cc.mutex.Unlock()

		if cc.IsClosed() {
			err = ErrClientClosed
		} else {
			workCount, err = cc.service()
		}
		callbacks, cc.callbacks = cc.callbacks, nil
	}()

	for _, callback := range callbacks {
		callback()
	}
	return
}

func (cc *ClientConductor) service() (int, error) {
	workCount := cc.checkTimeouts(cc.ctx.NanoClock())
	if cc.isTerminating.Load() {
		return workCount, nil
	}

	n, err := cc.driverListener.receiveMessages()
	return workCount + n, err
}

func (cc *ClientConductor) checkTimeouts(nowNs int64) (workCount int) {
	if elapsedNs := nowNs - cc.timeOfLastServiceNs; elapsedNs > int64(cc.ctx.InterServiceTimeout) {
		cc.queueError(&ConductorServiceTimeoutError{
			Elapsed: time.Duration(elapsedNs),
			Timeout: cc.ctx.InterServiceTimeout,
		})
	}
	cc.timeOfLastServiceNs = nowNs

	if nowNs-cc.timeOfLastKeepaliveNs >= int64(cc.ctx.KeepaliveInterval) {
		cc.timeOfLastKeepaliveNs = nowNs
		workCount++

		if ageNs := nowNs - cc.driverProxy.TimeOfLastDriverKeepalive(); ageNs > int64(cc.ctx.DriverTimeout) {
			cc.terminate(&DriverTimeoutError{Operation: "heartbeat", Timeout: cc.ctx.DriverTimeout})
			return
		}

		if err := cc.driverProxy.SendClientKeepalive(); err != nil {
			cc.queueError(fmt.Errorf("sending keepalive failed: %w", err))
		}
	}

	workCount += cc.freeLingeringResources(nowNs)
	return
}

// terminate closes every resource after the driver was lost. The conductor
// still has to be closed to unmap the log buffers.
func (cc *ClientConductor) terminate(cause error) {
	if cc.isTerminating.Swap(true) {
		return
	}

	log.WithError(cause).WithField("client", cc.ClientID()).Error("Client conductor is terminating")

	cc.forceCloseResources()
	cc.queueError(cause)
}

func (cc *ClientConductor) forceCloseResources() {
	for registrationID, resource := range cc.resourceByRegID {
		switch r := resource.(type) {
		case *Publication:
			r.close()
			cc.releaseLogBuffers(r.logBuffers)
		case *Subscription:
			cc.closeImages(r, r.close())
		}
		delete(cc.resourceByRegID, registrationID)
	}
	clear(cc.publicationByKey)
}

func (cc *ClientConductor) closeImages(sub *Subscription, images []*Image) {
	for _, img := range images {
		img.close()
		cc.releaseLogBuffers(img.logBuffers)
		cc.queueImageCallback(sub.unavailableImageHandler, img)
	}
}

func (cc *ClientConductor) queueError(err error) {
	handler := cc.ctx.ErrorHandler
	cc.callbacks = append(cc.callbacks, func() { handler(err) })
}

func (cc *ClientConductor) queueImageCallback(handler ImageHandler, img *Image) {
	cc.callbacks = append(cc.callbacks, func() { handler(img) })
}

func (cc *ClientConductor) mapLogBuffers(logFileName string) (*logbuffer.LogBuffers, error) {
	lb, ok := cc.logBuffersByName[logFileName]
	if !ok {
		var err error
		if lb, err = cc.ctx.LogBuffersFactory.Map(logFileName); err != nil {
			return nil, err
		}
		cc.logBuffersByName[logFileName] = lb
	}

	lb.IncRef()
	return lb, nil
}

// releaseLogBuffers moves log buffers without users to the lingering list.
func (cc *ClientConductor) releaseLogBuffers(lb *logbuffer.LogBuffers) {
	if lb.DecRef() > 0 {
		return
	}

	for name, mapped := range cc.logBuffersByName {
		if mapped == lb {
			delete(cc.logBuffersByName, name)
		}
	}
	lb.SetTimeOfLastStateChange(cc.ctx.NanoClock())
	cc.lingeringLogBuffers = append(cc.lingeringLogBuffers, lb)
}

func (cc *ClientConductor) freeLingeringResources(nowNs int64) (freed int) {
	remaining := cc.lingeringLogBuffers[:0]
	for _, lb := range cc.lingeringLogBuffers {
		if nowNs-lb.TimeOfLastStateChange() < int64(cc.ctx.ResourceLingerTimeout) {
			remaining = append(remaining, lb)
			continue
		}

		if err := lb.Close(); err != nil {
			cc.queueError(fmt.Errorf("closing log buffers failed: %w", err))
		}
		freed++
	}

	clear(cc.lingeringLogBuffers[len(remaining):])
	cc.lingeringLogBuffers = remaining
	return
}

func (cc *ClientConductor) position(counterID int32) (*counters.Position, error) {
	values := cc.ctx.CountersValues
	if counterID < 0 || counters.ValueOffset(counterID)+counters.ValueLength > values.Capacity() {
		return nil, fmt.Errorf("counter id %d is out of range", counterID)
	}
	return counters.NewPosition(values, counterID), nil
}

func (cc *ClientConductor) onPublicationReady(event *command.PublicationReady) {
	req, ok := cc.pendingByCorrelationID[event.CorrelationID]
	if !ok || req.kind != pendingAddPublication {
		return
	}

	limit, err := cc.position(event.PublicationLimitCounterID)
	if err != nil {
		req.complete(&ProtocolError{MsgTypeID: event.TypeID(), Err: err})
		return
	}

	lb, err := cc.mapLogBuffers(event.LogFileName)
	if err != nil {
		req.complete(fmt.Errorf("mapping publication log %s failed: %w", event.LogFileName, err))
		return
	}

	pub := newPublication(cc, req.channel, req.streamID, event.SessionID,
		event.CorrelationID, event.RegistrationID, limit, lb)
	cc.resourceByRegID[event.CorrelationID] = pub
	cc.publicationByKey[channelStreamKey{req.channel, req.streamID}] = pub

	req.publication = pub
	req.complete(nil)
}

func (cc *ClientConductor) onSubscriptionReady(event *command.SubscriptionReady) {
	req, ok := cc.pendingByCorrelationID[event.CorrelationID]
	if !ok || req.kind != pendingAddSubscription {
		return
	}

	sub := newSubscription(cc, req.channel, req.streamID, event.CorrelationID,
		req.availableImageHandler, req.unavailableImageHandler)
	cc.resourceByRegID[event.CorrelationID] = sub

	req.subscription = sub
	req.complete(nil)
}

func (cc *ClientConductor) onOperationSuccess(event *command.OperationSuccess) {
	if req, ok := cc.pendingByCorrelationID[event.CorrelationID]; ok && req.kind == pendingRemove {
		req.complete(nil)
	}
}

func (cc *ClientConductor) onError(event *command.Error) {
	req, ok := cc.pendingByCorrelationID[event.OffendingCorrelationID]
	if !ok {
		log.WithFields(log.Fields{
			"correlation": event.OffendingCorrelationID,
			"code":        event.Code,
			"message":     event.Message,
		}).Debug("Ignoring driver error for an unknown request")
		return
	}

	req.complete(&RegistrationError{
		CorrelationID: event.OffendingCorrelationID,
		Code:          event.Code,
		Message:       event.Message,
	})
}

func (cc *ClientConductor) onAvailableImage(event *command.AvailableImage) {
	sub, ok := cc.resourceByRegID[event.SubscriptionRegistrationID].(*Subscription)
	if !ok || sub.hasImage(event.CorrelationID) {
		return
	}

	position, err := cc.position(event.SubscriberPositionID)
	if err != nil {
		cc.queueError(&ProtocolError{MsgTypeID: event.TypeID(), Err: err})
		return
	}

	lb, err := cc.mapLogBuffers(event.LogFileName)
	if err != nil {
		cc.queueError(fmt.Errorf("mapping image log %s failed: %w", event.LogFileName, err))
		return
	}

	img := NewImage(event.CorrelationID, event.SubscriptionRegistrationID, event.SessionID,
		position, lb, event.SourceIdentity)
	sub.addImage(img)

	log.WithFields(log.Fields{
		"subscription": event.SubscriptionRegistrationID,
		"image":        event.CorrelationID,
		"session":      event.SessionID,
		"stream":       event.StreamID,
		"source":       event.SourceIdentity,
	}).Debug("Image available")

	cc.queueImageCallback(sub.availableImageHandler, img)
}

func (cc *ClientConductor) onUnavailableImage(event *command.UnavailableImage) {
	sub, ok := cc.resourceByRegID[event.SubscriptionRegistrationID].(*Subscription)
	if !ok {
		return
	}

	img := sub.removeImage(event.CorrelationID)
	if img == nil {
		return
	}

	log.WithFields(log.Fields{
		"subscription": event.SubscriptionRegistrationID,
		"image":        event.CorrelationID,
		"stream":       event.StreamID,
	}).Debug("Image unavailable")

	cc.closeImages(sub, []*Image{img})
}

func (cc *ClientConductor) onClientTimeout(event *command.ClientTimeout) {
	if event.ClientID == cc.ClientID() {
		cc.terminate(ErrClientTimeout)
	}
}

func (cc *ClientConductor) releasePublication(pub *Publication) (err error) {
	cc.withLock(func() {
		err = cc.doReleasePublication(pub)
	})
	return
}

func (cc *ClientConductor) doReleasePublication(pub *Publication) error {
	if pub.IsClosed() {
		return nil
	}

	pub.refCount--
	if pub.refCount > 0 {
		return nil
	}

	pub.close()
	delete(cc.resourceByRegID, pub.registrationID)
	delete(cc.publicationByKey, channelStreamKey{pub.channel, pub.streamID})

	err := cc.awaitRemoval(cc.driverProxy.RemovePublication, pub.registrationID, "RemovePublication")
	cc.releaseLogBuffers(pub.logBuffers)

	log.WithFields(log.Fields{
		"channel":      pub.channel,
		"stream":       pub.streamID,
		"registration": pub.registrationID,
	}).Info("Released publication")

	return err
}

func (cc *ClientConductor) releaseSubscription(sub *Subscription) (err error) {
	cc.withLock(func() {
		err = cc.doReleaseSubscription(sub)
	})
	return
}

func (cc *ClientConductor) doReleaseSubscription(sub *Subscription) error {
	if sub.IsClosed() {
		return nil
	}

	images := sub.close()
	delete(cc.resourceByRegID, sub.registrationID)

	err := cc.awaitRemoval(cc.driverProxy.RemoveSubscription, sub.registrationID, "RemoveSubscription")
	cc.closeImages(sub, images)

	log.WithFields(log.Fields{
		"channel":      sub.channel,
		"stream":       sub.streamID,
		"registration": sub.registrationID,
	}).Info("Released subscription")

	return err
}

func (cc *ClientConductor) awaitRemoval(remove func(int64) (int64, error), registrationID int64, operation string) error {
	correlationID, err := remove(registrationID)
	if err != nil {
		return err
	}
	return cc.awaitResponse(&pendingRequest{kind: pendingRemove, correlationID: correlationID}, operation)
}

// Close releases every resource, tells the driver this client is gone and
// unmaps all log buffers after at most a second of lingering. Closing again
// is a no-op.
func (cc *ClientConductor) Close() (err error) {
	cc.withLock(func() {
		err = cc.close()
	})
	return
}

func (cc *ClientConductor) close() (result error) {
	if cc.isClosed.Swap(true) {
		return nil
	}

	if !cc.isTerminating.Load() {
		cc.forceCloseResources()
		if err := cc.driverProxy.ClientClose(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if len(cc.lingeringLogBuffers) > 0 {
		if linger := min(cc.ctx.ResourceLingerTimeout, time.Second); linger > 0 {
			time.Sleep(linger)
		}
	}

	for _, lb := range cc.lingeringLogBuffers {
		if err := lb.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	cc.lingeringLogBuffers = nil

	for name, lb := range cc.logBuffersByName {
		if err := lb.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(cc.logBuffersByName, name)
	}

	log.WithField("client", cc.ClientID()).Info("Client conductor closed")
	return
}

// ResourceInfo describes a publication or subscription of this client.
type ResourceInfo struct {
	RegistrationID int64  `json:"registrationId"`
	Kind           string `json:"kind"`
	Channel        string `json:"channel"`
	StreamID       int32  `json:"streamId"`
	SessionID      int32  `json:"sessionId,omitempty"`
	Images         int    `json:"images,omitempty"`
}

// Resources currently registered with this conductor.
func (cc *ClientConductor) Resources() (infos []ResourceInfo) {
	cc.withLock(func() {
		for registrationID, resource := range cc.resourceByRegID {
			switch r := resource.(type) {
			case *Publication:
				infos = append(infos, ResourceInfo{
					RegistrationID: registrationID,
					Kind:           "publication",
					Channel:        r.channel,
					StreamID:       r.streamID,
					SessionID:      r.sessionID,
				})
			case *Subscription:
				infos = append(infos, ResourceInfo{
					RegistrationID: registrationID,
					Kind:           "subscription",
					Channel:        r.channel,
					StreamID:       r.streamID,
					Images:         r.ImageCount(),
				})
			}
		}
	})
	return
}
