// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loopback

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/command"
	"github.com/shmlog/shmlog-go/pkg/counters"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

// Config of a Driver.
type Config struct {
	// Dir for the log files. Empty selects a fresh directory below /dev/shm,
	// or the temporary directory, which is removed on Close.
	Dir string

	// TermLength of publications without a term-length channel parameter.
	TermLength int32

	// MTU of every publication, a multiple of the frame alignment.
	MTU int32

	// MaxCounters of the counters buffers.
	MaxCounters int

	// ClientLivenessTimeout after which a silent client is timed out.
	ClientLivenessTimeout time.Duration

	// DutyCycleInterval of the goroutine started by Start.
	DutyCycleInterval time.Duration

	// NanoClock is the driver's clock, used for its heartbeat.
	NanoClock func() int64
}

// DefaultConfig of a Driver.
func DefaultConfig() Config {
	return Config{
		TermLength:            1024 * 1024,
		MTU:                   1408,
		MaxCounters:           1024,
		ClientLivenessTimeout: 10 * time.Second,
		DutyCycleInterval:     time.Millisecond,
		NanoClock: func() int64 {
			return time.Now().UnixNano()
		},
	}
}

type streamKey struct {
	channel  string
	streamID int32
}

type subscription struct {
	registrationID int64
	clientID       int64
	channel        string
	streamID       int32

	// retainedCounterIDs of images withdrawn from this subscription. A client
	// reads an image's final position after the withdrawal, so the counters
	// are only freed together with the subscription.
	retainedCounterIDs []int32
}

// Driver is an in-process driver for IPC publications and subscriptions.
// It serves any number of clients, each reading events from its own
// Receiver.
type Driver struct {
	cfg        Config
	instanceID uuid.UUID
	ownsDir    bool

	counters       *counters.Manager
	correlationIDs atomic.Int64
	heartbeatNs    atomic.Int64

	commandsMutex sync.Mutex
	commands      []message

	receiversMutex  sync.Mutex
	receivers       []*Receiver
	defaultReceiver *Receiver

	// The remaining fields are owned by the duty cycle.
	dutyMutex         sync.Mutex
	publicationsByKey map[streamKey]*ipcPublication
	publicationRegs   map[int64]*ipcPublication
	subscriptions     map[int64]*subscription
	clientHeartbeats  map[int64]int64
	nextSessionID     int32
	pageSize          int32
	isClosed          atomic.Bool

	stopSyn  chan struct{}
	stopAck  chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewDriver with the given configuration. Zero values of cfg are replaced
// by DefaultConfig's.
func NewDriver(cfg Config) (*Driver, error) {
	defaults := DefaultConfig()
	if cfg.TermLength == 0 {
		cfg.TermLength = defaults.TermLength
	}
	if cfg.MTU == 0 {
		cfg.MTU = defaults.MTU
	}
	if cfg.MaxCounters == 0 {
		cfg.MaxCounters = defaults.MaxCounters
	}
	if cfg.ClientLivenessTimeout == 0 {
		cfg.ClientLivenessTimeout = defaults.ClientLivenessTimeout
	}
	if cfg.DutyCycleInterval == 0 {
		cfg.DutyCycleInterval = defaults.DutyCycleInterval
	}
	if cfg.NanoClock == nil {
		cfg.NanoClock = defaults.NanoClock
	}

	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:               cfg,
		instanceID:        uuid.New(),
		publicationsByKey: make(map[streamKey]*ipcPublication),
		publicationRegs:   make(map[int64]*ipcPublication),
		subscriptions:     make(map[int64]*subscription),
		clientHeartbeats:  make(map[int64]int64),
		nextSessionID:     rand.Int31(),
		pageSize:          int32(os.Getpagesize()),
		stopSyn:           make(chan struct{}),
		stopAck:           make(chan struct{}),
	}

	if d.cfg.Dir == "" {
		base := os.TempDir()
		if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
			base = "/dev/shm"
		}
		d.cfg.Dir = filepath.Join(base, "shmlog-"+d.instanceID.String())
		d.ownsDir = true
	}
	if err := os.MkdirAll(d.cfg.Dir, 0o700); err != nil {
		return nil, err
	}

	d.counters = counters.NewManager(counters.NewBuffers(cfg.MaxCounters))
	d.defaultReceiver = d.NewReceiver()
	d.heartbeatNs.Store(cfg.NanoClock())

	log.WithFields(log.Fields{
		"driver":      d.instanceID,
		"dir":         d.cfg.Dir,
		"term-length": cfg.TermLength,
		"mtu":         cfg.MTU,
	}).Info("Started loopback driver")

	return d, nil
}

func checkConfig(cfg Config) (err error) {
	if termErr := logbuffer.CheckTermLength(cfg.TermLength); termErr != nil {
		err = multierror.Append(err, termErr)
	}
	if cfg.MTU <= logbuffer.DataFrameHeaderLength || cfg.MTU%logbuffer.FrameAlignment != 0 {
		err = multierror.Append(err, fmt.Errorf("MTU %d must be a multiple of %d above the header length",
			cfg.MTU, logbuffer.FrameAlignment))
	}
	if cfg.MaxCounters < 1 {
		err = multierror.Append(err, errors.New("MaxCounters must be positive"))
	}
	return
}

// InstanceID of this driver.
func (d *Driver) InstanceID() uuid.UUID {
	return d.instanceID
}

// Dir holding the log files.
func (d *Driver) Dir() string {
	return d.cfg.Dir
}

// CountersValues shared with the clients.
func (d *Driver) CountersValues() *atomicbuf.Buffer {
	return d.counters.ValuesBuffer()
}

// CountersReader of the driver's counters.
func (d *Driver) CountersReader() *counters.Reader {
	return d.counters.Reader
}

// NewReceiver for another client of this driver.
func (d *Driver) NewReceiver() *Receiver {
	d.receiversMutex.Lock()
	defer d.receiversMutex.Unlock()

	r := &Receiver{}
	d.receivers = append(d.receivers, r)
	return r
}

// NextCorrelationID allocates an id unique within this driver.
func (d *Driver) NextCorrelationID() int64 {
	return d.correlationIDs.Add(1)
}

// Write queues a client command for the next duty cycle.
func (d *Driver) Write(msgTypeID int32, payload []byte) error {
	d.commandsMutex.Lock()
	defer d.commandsMutex.Unlock()

	if d.isClosed.Load() {
		return errors.New("loopback driver is closed")
	}

	d.commands = append(d.commands, message{msgTypeID, append([]byte(nil), payload...)})
	return nil
}

// TimeOfLastDriverKeepalive in nanoseconds of the driver's clock.
func (d *Driver) TimeOfLastDriverKeepalive() int64 {
	return d.heartbeatNs.Load()
}

// Receive events through the default receiver.
func (d *Driver) Receive(handler func(msgTypeID int32, buffer []byte)) (int, error) {
	return d.defaultReceiver.Receive(handler)
}

func (d *Driver) broadcast(record command.Record) {
	payload, err := command.Encode(record)
	if err != nil {
		log.WithError(err).WithField("driver", d.instanceID).Error("Encoding event failed")
		return
	}

	d.receiversMutex.Lock()
	defer d.receiversMutex.Unlock()

	for _, r := range d.receivers {
		r.offer(message{record.TypeID(), payload})
	}
}

func (d *Driver) broadcastError(correlationID int64, code command.ErrorCode, err error) {
	log.WithFields(log.Fields{
		"driver":      d.instanceID,
		"correlation": correlationID,
		"code":        code,
	}).WithError(err).Info("Rejecting command")

	d.broadcast(&command.Error{
		OffendingCorrelationID: correlationID,
		Code:                   code,
		Message:                err.Error(),
	})
}

// DoWork runs one duty cycle and returns the amount of work done.
func (d *Driver) DoWork() int {
	d.dutyMutex.Lock()
	defer d.dutyMutex.Unlock()

	if d.isClosed.Load() {
		return 0
	}

	nowNs := d.cfg.NanoClock()
	d.heartbeatNs.Store(nowNs)

	d.commandsMutex.Lock()
	commands := d.commands
	d.commands = nil
	d.commandsMutex.Unlock()

	workCount := len(commands)
	for _, cmd := range commands {
		d.onCommand(nowNs, cmd)
	}

	for _, pub := range d.publicationsByKey {
		workCount += pub.update()
	}

	workCount += d.checkClientLiveness(nowNs)
	return workCount
}

func (d *Driver) onCommand(nowNs int64, cmd message) {
	record, err := command.Decode(cmd.msgTypeID, cmd.payload)
	if err != nil {
		code := command.MalformedCommand
		if errors.Is(err, command.ErrUnknownType) {
			code = command.UnknownCommandTypeID
		}
		d.broadcastError(0, code, err)
		return
	}

	switch c := record.(type) {
	case *command.AddPublication:
		d.clientHeartbeats[c.ClientID] = nowNs
		d.onAddPublication(c)
	case *command.RemovePublication:
		d.clientHeartbeats[c.ClientID] = nowNs
		d.onRemovePublication(c)
	case *command.AddSubscription:
		d.clientHeartbeats[c.ClientID] = nowNs
		d.onAddSubscription(c)
	case *command.RemoveSubscription:
		d.clientHeartbeats[c.ClientID] = nowNs
		d.onRemoveSubscription(c)
	case *command.ClientKeepalive:
		d.clientHeartbeats[c.ClientID] = nowNs
	case *command.ClientClose:
		d.removeClient(c.ClientID)
	default:
		d.broadcastError(0, command.UnknownCommandTypeID,
			fmt.Errorf("%s is not a command", command.TypeName(cmd.msgTypeID)))
	}
}

func (d *Driver) onAddPublication(c *command.AddPublication) {
	params, err := parseChannel(c.Channel, d.cfg.TermLength)
	if err != nil {
		d.broadcastError(c.CorrelationID, command.InvalidChannel, err)
		return
	}

	key := streamKey{IPCChannel, c.StreamID}
	pub, ok := d.publicationsByKey[key]
	if !ok {
		if pub, err = d.newPublication(c.CorrelationID, c.Channel, c.StreamID, params); err != nil {
			d.broadcastError(c.CorrelationID, command.GenericError, err)
			return
		}
		d.publicationsByKey[key] = pub

		for _, sub := range d.subscriptions {
			if sub.streamID == pub.streamID {
				d.link(pub, sub)
			}
		}
	}

	pub.registrations[c.CorrelationID] = c.ClientID
	d.publicationRegs[c.CorrelationID] = pub

	d.broadcast(&command.PublicationReady{
		CorrelationID:             c.CorrelationID,
		RegistrationID:            pub.registrationID,
		SessionID:                 pub.sessionID,
		StreamID:                  pub.streamID,
		PublicationLimitCounterID: pub.limitCounterID,
		LogFileName:               pub.logFileName,
	})
}

func (d *Driver) newPublication(
	registrationID int64, channel string, streamID int32, params channelParams) (*ipcPublication, error) {

	logFileName := filepath.Join(d.cfg.Dir, fmt.Sprintf("%d.logbuffer", registrationID))
	lb, err := logbuffer.CreateLogBuffers(logFileName, params.termLength)
	if err != nil {
		return nil, err
	}

	sessionID := d.nextSessionID
	d.nextSessionID++
	lb.MetaData().Initialise(registrationID, rand.Int31(), params.termLength, d.cfg.MTU, d.pageSize, sessionID, streamID)

	label := fmt.Sprintf("pub-lmt: %d %d %d %s", registrationID, sessionID, streamID, channel)
	limitCounterID, err := d.counters.Allocate(counters.PublisherLimitTypeID, registrationID, label)
	if err != nil {
		_ = lb.Close()
		_ = os.Remove(logFileName)
		return nil, err
	}

	log.WithFields(log.Fields{
		"driver":       d.instanceID,
		"registration": registrationID,
		"session":      sessionID,
		"stream":       streamID,
		"file":         logFileName,
	}).Info("Created IPC publication")

	return &ipcPublication{
		registrationID:      registrationID,
		channel:             channel,
		streamID:            streamID,
		sessionID:           sessionID,
		logFileName:         logFileName,
		logBuffers:          lb,
		limitCounterID:      limitCounterID,
		limit:               d.counters.Position(limitCounterID),
		termLength:          params.termLength,
		termWindowLength:    params.termLength / 2,
		positionBitsToShift: logbuffer.PositionBitsToShift(params.termLength),
		registrations:       make(map[int64]int64),
		links:               make(map[int64]*subscriberLink),
	}, nil
}

func (d *Driver) onRemovePublication(c *command.RemovePublication) {
	pub, ok := d.publicationRegs[c.RegistrationID]
	if !ok {
		d.broadcastError(c.CorrelationID, command.UnknownPublication,
			fmt.Errorf("unknown publication %d", c.RegistrationID))
		return
	}

	d.removePublicationRegistration(pub, c.RegistrationID)
	d.broadcast(command.NewOperationSuccess(c.CorrelationID))
}

func (d *Driver) removePublicationRegistration(pub *ipcPublication, registrationID int64) {
	delete(d.publicationRegs, registrationID)
	delete(pub.registrations, registrationID)
	if len(pub.registrations) == 0 {
		d.closePublication(pub)
	}
}

// closePublication withdraws the publication's images and releases its log.
// Clients keep their own mappings of the unlinked log file.
func (d *Driver) closePublication(pub *ipcPublication) {
	pub.logBuffers.MetaData().SetEndOfStreamPosition(pub.producerPosition())

	for imageCorrelationID, link := range pub.links {
		d.broadcast(&command.UnavailableImage{
			CorrelationID:              imageCorrelationID,
			SubscriptionRegistrationID: link.subscriptionRegistrationID,
			StreamID:                   pub.streamID,
		})

		if sub, ok := d.subscriptions[link.subscriptionRegistrationID]; ok {
			sub.retainedCounterIDs = append(sub.retainedCounterIDs, link.counterID)
		} else {
			d.freeCounter(link.counterID)
		}
	}
	d.freeCounter(pub.limitCounterID)

	delete(d.publicationsByKey, streamKey{IPCChannel, pub.streamID})

	if err := pub.logBuffers.Close(); err != nil {
		log.WithError(err).WithField("driver", d.instanceID).Warn("Closing publication log failed")
	}
	if err := os.Remove(pub.logFileName); err != nil {
		log.WithError(err).WithField("driver", d.instanceID).Warn("Removing publication log failed")
	}

	log.WithFields(log.Fields{
		"driver":       d.instanceID,
		"registration": pub.registrationID,
		"stream":       pub.streamID,
	}).Info("Closed IPC publication")
}

func (d *Driver) onAddSubscription(c *command.AddSubscription) {
	if _, err := parseChannel(c.Channel, d.cfg.TermLength); err != nil {
		d.broadcastError(c.CorrelationID, command.InvalidChannel, err)
		return
	}

	sub := &subscription{
		registrationID: c.CorrelationID,
		clientID:       c.ClientID,
		channel:        c.Channel,
		streamID:       c.StreamID,
	}
	d.subscriptions[sub.registrationID] = sub
	d.broadcast(command.NewSubscriptionReady(c.CorrelationID))

	for _, pub := range d.publicationsByKey {
		if pub.streamID == sub.streamID {
			d.link(pub, sub)
		}
	}
}

// link a subscription to a publication, starting its image at the
// publication's current position.
func (d *Driver) link(pub *ipcPublication, sub *subscription) {
	imageCorrelationID := d.NextCorrelationID()

	label := fmt.Sprintf("sub-pos: %d %d %d %s", sub.registrationID, pub.sessionID, pub.streamID, sub.channel)
	counterID, err := d.counters.Allocate(counters.SubscriberPositionTypeID, sub.registrationID, label)
	if err != nil {
		log.WithError(err).WithField("driver", d.instanceID).Warn("Linking subscription failed")
		return
	}

	position := d.counters.Position(counterID)
	position.SetOrdered(pub.producerPosition())

	pub.links[imageCorrelationID] = &subscriberLink{
		imageCorrelationID:         imageCorrelationID,
		subscriptionRegistrationID: sub.registrationID,
		counterID:                  counterID,
		position:                   position,
	}

	d.broadcast(&command.AvailableImage{
		CorrelationID:              imageCorrelationID,
		SubscriptionRegistrationID: sub.registrationID,
		SessionID:                  pub.sessionID,
		StreamID:                   pub.streamID,
		SubscriberPositionID:       counterID,
		LogFileName:                pub.logFileName,
		SourceIdentity:             IPCChannel,
	})
}

func (d *Driver) onRemoveSubscription(c *command.RemoveSubscription) {
	if _, ok := d.subscriptions[c.RegistrationID]; !ok {
		d.broadcastError(c.CorrelationID, command.UnknownSubscription,
			fmt.Errorf("unknown subscription %d", c.RegistrationID))
		return
	}

	d.removeSubscription(c.RegistrationID)
	d.broadcast(command.NewOperationSuccess(c.CorrelationID))
}

func (d *Driver) removeSubscription(registrationID int64) {
	if sub, ok := d.subscriptions[registrationID]; ok {
		for _, counterID := range sub.retainedCounterIDs {
			d.freeCounter(counterID)
		}
		delete(d.subscriptions, registrationID)
	}

	for _, pub := range d.publicationsByKey {
		for imageCorrelationID, link := range pub.links {
			if link.subscriptionRegistrationID == registrationID {
				delete(pub.links, imageCorrelationID)
				d.freeCounter(link.counterID)
			}
		}
	}
}

// removeClient releases every resource registered by a client.
func (d *Driver) removeClient(clientID int64) {
	delete(d.clientHeartbeats, clientID)

	for registrationID, pub := range d.publicationRegs {
		if pub.registrations[registrationID] == clientID {
			d.removePublicationRegistration(pub, registrationID)
		}
	}
	for registrationID, sub := range d.subscriptions {
		if sub.clientID == clientID {
			d.removeSubscription(registrationID)
		}
	}

	log.WithFields(log.Fields{
		"driver": d.instanceID,
		"client": clientID,
	}).Info("Removed client")
}

func (d *Driver) checkClientLiveness(nowNs int64) (workCount int) {
	for clientID, heartbeatNs := range d.clientHeartbeats {
		if nowNs-heartbeatNs <= int64(d.cfg.ClientLivenessTimeout) {
			continue
		}

		log.WithFields(log.Fields{
			"driver": d.instanceID,
			"client": clientID,
		}).Warn("Client timed out")

		d.broadcast(&command.ClientTimeout{ClientID: clientID})
		d.removeClient(clientID)
		workCount++
	}
	return
}

func (d *Driver) freeCounter(counterID int32) {
	if err := d.counters.Free(counterID); err != nil {
		log.WithError(err).WithField("driver", d.instanceID).Warn("Freeing counter failed")
	}
}

// Start a goroutine running the duty cycle every DutyCycleInterval until
// Close is called.
func (d *Driver) Start() {
	d.started = true
	go d.handler()
}

func (d *Driver) handler() {
	ticker := time.NewTicker(d.cfg.DutyCycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopSyn:
			log.WithField("driver", d.instanceID).Debug("Loopback driver received closing signal")
			close(d.stopAck)
			return

		case <-ticker.C:
			d.DoWork()
		}
	}
}

// Close stops the duty cycle, releases all publications and removes the
// log directory if the driver created it.
func (d *Driver) Close() (err error) {
	d.stopOnce.Do(func() {
		if d.started {
			close(d.stopSyn)
			<-d.stopAck
		}

		d.dutyMutex.Lock()
		defer d.dutyMutex.Unlock()

		d.isClosed.Store(true)
		for key, pub := range d.publicationsByKey {
			if closeErr := pub.logBuffers.Close(); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}
			if rmErr := os.Remove(pub.logFileName); rmErr != nil && !os.IsNotExist(rmErr) {
				err = multierror.Append(err, rmErr)
			}
			delete(d.publicationsByKey, key)
		}

		if d.ownsDir {
			if rmErr := os.RemoveAll(d.cfg.Dir); rmErr != nil {
				err = multierror.Append(err, rmErr)
			}
		}

		d.receiversMutex.Lock()
		for _, r := range d.receivers {
			r.close()
		}
		d.receiversMutex.Unlock()

		log.WithField("driver", d.instanceID).Info("Closed loopback driver")
	})
	return
}
