// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/client"
	"github.com/shmlog/shmlog-go/pkg/loopback"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Profiling bool
	Logging   logConf
	Driver    driverConf
	Client    clientConf
	Exchange  exchangeConf
	Stat      statConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// driverConf describes the embedded loopback driver.
type driverConf struct {
	Dir                   string
	TermLength            int32    `toml:"term-length"`
	MTU                   int32    `toml:"mtu"`
	MaxCounters           int      `toml:"max-counters"`
	ClientLivenessTimeout duration `toml:"client-liveness-timeout"`
}

// clientConf overrides the client's timeouts. Zero values keep the defaults.
type clientConf struct {
	DriverTimeout                duration `toml:"driver-timeout"`
	KeepaliveInterval            duration `toml:"keepalive-interval"`
	ResourceLingerTimeout        duration `toml:"resource-linger-timeout"`
	PublicationConnectionTimeout duration `toml:"publication-connection-timeout"`
}

// exchangeConf describes the directories messages are exchanged over.
type exchangeConf struct {
	Outbox       string
	Inbox        string
	Stream       int32
	PollInterval duration `toml:"poll-interval"`
}

// statConf describes the optional HTTP endpoint for counter snapshots.
type statConf struct {
	Listen   string
	Interval duration
}

// duration is a time.Duration read from strings like "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// defaultConfig is overwritten by the values of a configuration file.
func defaultConfig() tomlConfig {
	return tomlConfig{
		Exchange: exchangeConf{
			Stream:       1001,
			PollInterval: duration{10 * time.Millisecond},
		},
		Stat: statConf{
			Interval: duration{time.Second},
		},
	}
}

// parseConfig reads and checks a TOML configuration file.
func parseConfig(filename string) (conf tomlConfig, err error) {
	conf = defaultConfig()

	md, err := toml.DecodeFile(filename, &conf)
	if err != nil {
		return
	}

	for _, key := range md.Undecoded() {
		log.WithField("key", key.String()).Warn("Ignoring unknown configuration key")
	}

	err = conf.check()
	return
}

// check the configuration for missing or contradicting values.
func (conf tomlConfig) check() (err error) {
	if conf.Exchange.Outbox == "" {
		err = multierror.Append(err, fmt.Errorf("exchange.outbox is empty"))
	}
	if conf.Exchange.Inbox == "" {
		err = multierror.Append(err, fmt.Errorf("exchange.inbox is empty"))
	}
	if conf.Exchange.Outbox != "" && conf.Exchange.Outbox == conf.Exchange.Inbox {
		err = multierror.Append(err, fmt.Errorf("exchange.outbox and exchange.inbox must differ"))
	}
	if conf.Exchange.PollInterval.Duration <= 0 {
		err = multierror.Append(err, fmt.Errorf("exchange.poll-interval must be positive"))
	}
	if conf.Stat.Listen != "" && conf.Stat.Interval.Duration <= 0 {
		err = multierror.Append(err, fmt.Errorf("stat.interval must be positive"))
	}
	return
}

// setupLogging configures logrus' standard logger.
func (conf logConf) setupLogging() {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.WithField("format", conf.Format).Warn("Unknown logging format")
	}
}

// driverConfig derives the loopback driver's Config. Zero values are
// replaced by the driver's defaults.
func (conf driverConf) driverConfig() loopback.Config {
	return loopback.Config{
		Dir:                   conf.Dir,
		TermLength:            conf.TermLength,
		MTU:                   conf.MTU,
		MaxCounters:           conf.MaxCounters,
		ClientLivenessTimeout: conf.ClientLivenessTimeout.Duration,
	}
}

// clientContext for a client of the given driver.
func (conf clientConf) clientContext(driver *loopback.Driver) *client.Context {
	ctx := client.NewContext()
	ctx.CountersValues = driver.CountersValues()

	overrides := []struct {
		value  time.Duration
		target *time.Duration
	}{
		{conf.DriverTimeout.Duration, &ctx.DriverTimeout},
		{conf.KeepaliveInterval.Duration, &ctx.KeepaliveInterval},
		{conf.ResourceLingerTimeout.Duration, &ctx.ResourceLingerTimeout},
		{conf.PublicationConnectionTimeout.Duration, &ctx.PublicationConnectionTimeout},
	}
	for _, o := range overrides {
		if o.value > 0 {
			*o.target = o.value
		}
	}

	ctx.ErrorHandler = func(err error) {
		log.WithError(err).Warn("Client reported an error")
	}
	ctx.AvailableImageHandler = func(img *client.Image) {
		log.WithFields(log.Fields{
			"session": img.SessionID(),
			"source":  img.SourceIdentity(),
		}).Info("Image became available")
	}
	ctx.UnavailableImageHandler = func(img *client.Image) {
		log.WithField("session", img.SessionID()).Info("Image became unavailable")
	}

	return ctx
}

// writeConfig encodes the effective configuration as TOML.
func writeConfig(w io.Writer, conf tomlConfig) error {
	return toml.NewEncoder(w).Encode(conf)
}
