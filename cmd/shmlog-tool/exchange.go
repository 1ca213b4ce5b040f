// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/client"
	"github.com/shmlog/shmlog-go/pkg/idle"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
	"github.com/shmlog/shmlog-go/pkg/loopback"
	"github.com/shmlog/shmlog-go/pkg/stat"
)

// exchange publishes files dropped into the outbox and stores every
// received message in the inbox.
type exchange struct {
	conf       exchangeConf
	knownFiles sync.Map

	driver     *loopback.Driver
	client     *client.Client
	pub        *client.Publication
	sub        *client.Subscription
	assembler  *client.FragmentAssembler
	watcher    *fsnotify.Watcher
	offerIdler idle.Strategy

	statServer *stat.Server
	httpServer *http.Server

	stopSyn chan struct{}
	stopAck chan struct{}
}

// newExchange starts a driver and a client and connects the exchange's
// publication with its subscription.
func newExchange(conf tomlConfig) (ex *exchange, err error) {
	ex = &exchange{
		conf:       conf.Exchange,
		offerIdler: idle.DefaultBackoff(),
		stopSyn:    make(chan struct{}),
		stopAck:    make(chan struct{}),
	}

	defer func() {
		if err != nil {
			if closeErr := ex.release(); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}
			ex = nil
		}
	}()

	for _, dir := range []string{ex.conf.Outbox, ex.conf.Inbox} {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return
		}
	}

	if ex.driver, err = loopback.NewDriver(conf.Driver.driverConfig()); err != nil {
		return
	}
	ex.driver.Start()

	if ex.client, err = client.Connect(conf.Client.clientContext(ex.driver), ex.driver, ex.driver); err != nil {
		return
	}
	if ex.sub, err = ex.client.AddSubscription(loopback.IPCChannel, ex.conf.Stream); err != nil {
		return
	}
	if ex.pub, err = ex.client.AddPublication(loopback.IPCChannel, ex.conf.Stream); err != nil {
		return
	}
	if err = ex.client.AwaitConnected(ex.pub); err != nil {
		return
	}

	ex.assembler = client.NewFragmentAssembler(ex.onMessage, ex.pub.MaxPayloadLength())

	if ex.watcher, err = fsnotify.NewWatcher(); err != nil {
		return
	}
	if err = ex.watcher.Add(ex.conf.Outbox); err != nil {
		return
	}

	if conf.Stat.Listen != "" {
		ex.startStat(conf.Stat)
	}

	log.WithFields(log.Fields{
		"outbox":  ex.conf.Outbox,
		"inbox":   ex.conf.Inbox,
		"stream":  ex.conf.Stream,
		"session": ex.pub.SessionID(),
	}).Info("Started exchange")
	return
}

func (ex *exchange) startStat(conf statConf) {
	ex.statServer = stat.NewServer(mux.NewRouter(), ex.driver.CountersReader(), conf.Interval.Duration)
	ex.statServer.AddResources("exchange", ex.client.Conductor())

	ex.httpServer = &http.Server{
		Addr:    conf.Listen,
		Handler: ex.statServer,
	}

	go func() {
		if err := ex.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("listen", conf.Listen).Error("Stat server errored")
		}
	}()
}

// start the exchange's goroutine.
func (ex *exchange) start() {
	go ex.handler()
}

func (ex *exchange) handler() {
	defer close(ex.stopAck)

	ticker := time.NewTicker(ex.conf.PollInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ex.stopSyn:
			log.Debug("Exchange received closing signal")
			return

		case e, ok := <-ex.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if e.Op&fsnotify.Create == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			if _, known := ex.knownFiles.LoadOrStore(filepath.Base(e.Name), struct{}{}); known {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			ex.publishFile(e.Name)

		case err, ok := <-ex.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return

		case <-ticker.C:
			for ex.sub.Poll(ex.assembler.OnFragment, 16) > 0 {
			}
		}
	}
}

// publishFile offers a file's content as one message. Empty files are
// retried with a growing delay, as they might not have been written yet.
func (ex *exchange) publishFile(name string) {
	logger := log.WithField("file", name)

	for i := 0; i < 5; i++ {
		data, err := os.ReadFile(name)
		if err != nil {
			logger.WithError(err).Warn("Reading file errored, retrying..")
		} else if len(data) == 0 {
			logger.Debug("File is empty, retrying..")
		} else if err := ex.pub.CheckMessageLength(len(data)); err != nil {
			logger.WithError(err).Error("File exceeds the maximum message length")
			return
		} else if position, err := ex.offer(data); err != nil {
			logger.WithError(err).Error("Publishing file errored")
			return
		} else {
			logger.WithFields(log.Fields{
				"length":   len(data),
				"position": position,
			}).Info("Published file")
			return
		}

		time.Sleep(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond)
	}

	logger.Error("Failed to process file, giving up.")
}

// offer data until it is accepted, the publication fails permanently, or
// the exchange is stopped.
func (ex *exchange) offer(data []byte) (int64, error) {
	ex.offerIdler.Reset()

	for {
		result := ex.pub.Offer(data)
		switch result {
		case client.NotConnected, client.BackPressured, client.AdminAction:
			// Our own subscription has to catch up before the limit moves.
			polled := ex.sub.Poll(ex.assembler.OnFragment, 16)
			ex.offerIdler.Idle(polled)

		case client.PublicationClosed, client.MaxPositionExceeded, client.MessageTooLong:
			return result, fmt.Errorf("offer failed with %d", result)

		default:
			return result, nil
		}

		select {
		case <-ex.stopSyn:
			return 0, fmt.Errorf("exchange is closing")
		default:
		}
	}
}

// onMessage stores a reassembled message as <session>-<position> in the inbox.
func (ex *exchange) onMessage(buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) {
	name := filepath.Join(ex.conf.Inbox, fmt.Sprintf("%08x-%016x", uint32(header.SessionID()), header.Position()))
	logger := log.WithFields(log.Fields{
		"file":     name,
		"session":  header.SessionID(),
		"position": header.Position(),
	})

	if err := writeAtomically(name, buffer.Slice(offset, length)); err != nil {
		logger.WithError(err).Error("Writing received message errored")
		return
	}

	logger.WithField("length", length).Info("Saved received message")
}

// writeAtomically writes data to a hidden file first and renames it, so a
// reader never sees a partial message.
func writeAtomically(name string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(name), ".incoming-*")
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return
	}
	if err = f.Close(); err != nil {
		return
	}
	return os.Rename(f.Name(), name)
}

// close stops the exchange and releases its resources.
func (ex *exchange) close() error {
	close(ex.stopSyn)
	<-ex.stopAck

	return ex.release()
}

func (ex *exchange) release() (err error) {
	if ex.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if shutdownErr := ex.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = multierror.Append(err, shutdownErr)
		}
		cancel()
	}
	if ex.statServer != nil {
		ex.statServer.Close()
	}
	if ex.watcher != nil {
		if watchErr := ex.watcher.Close(); watchErr != nil {
			err = multierror.Append(err, watchErr)
		}
	}
	if ex.client != nil {
		if clientErr := ex.client.Close(); clientErr != nil {
			err = multierror.Append(err, clientErr)
		}
	}
	if ex.driver != nil {
		if driverErr := ex.driver.Close(); driverErr != nil {
			err = multierror.Append(err, driverErr)
		}
	}
	return
}
