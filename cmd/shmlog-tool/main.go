// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// shmlog-tool exchanges files over a shared memory log.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

// printUsage of shmlog-tool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s exchange|show-config:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s exchange configuration.toml\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Starts an embedded driver and publishes every file dropped into the\n")
	_, _ = fmt.Fprintf(os.Stderr, "  outbox. Received messages are written into the inbox. Move files into\n")
	_, _ = fmt.Fprintf(os.Stderr, "  the outbox instead of writing them in place.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s show-config configuration.toml\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints the effective configuration, defaults included.\n\n")

	os.Exit(1)
}

// printFatal of an error with a short context description and exits afterwards.
func printFatal(err error, msg string) {
	_, _ = fmt.Fprintf(os.Stderr, "%s errored: %s\n  %v\n", os.Args[0], msg, err)
	os.Exit(1)
}

func runExchange(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	conf, err := parseConfig(args[0])
	if err != nil {
		printFatal(err, "Parsing configuration")
	}
	conf.Logging.setupLogging()

	if conf.Profiling {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	ex, err := newExchange(conf)
	if err != nil {
		log.WithError(err).Fatal("Starting exchange errored")
	}
	ex.start()

	waitSigint()
	log.Info("Shutting down..")

	if err := ex.close(); err != nil {
		log.WithError(err).Warn("Closing exchange errored")
	}
}

func showConfig(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	conf, err := parseConfig(args[0])
	if err != nil {
		printFatal(err, "Parsing configuration")
	}
	if err := writeConfig(os.Stdout, conf); err != nil {
		printFatal(err, "Encoding configuration")
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "exchange":
		runExchange(os.Args[2:])

	case "show-config":
		showConfig(os.Args[2:])

	default:
		printUsage()
	}
}
