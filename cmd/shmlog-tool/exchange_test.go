// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmlog/shmlog-go/pkg/client"
	"github.com/shmlog/shmlog-go/pkg/loopback"
	"github.com/shmlog/shmlog-go/pkg/stat"
)

func startDriver(t *testing.T) *loopback.Driver {
	driver, err := loopback.NewDriver(loopback.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	driver.Start()
	t.Cleanup(func() { assert.NoError(t, driver.Close()) })
	return driver
}

func testConfig(t *testing.T) tomlConfig {
	dir := t.TempDir()

	conf := defaultConfig()
	conf.Driver.Dir = filepath.Join(dir, "log")
	conf.Driver.TermLength = 65536
	conf.Client.ResourceLingerTimeout = duration{10 * time.Millisecond}
	conf.Exchange.Outbox = filepath.Join(dir, "outbox")
	conf.Exchange.Inbox = filepath.Join(dir, "inbox")
	conf.Exchange.PollInterval = duration{time.Millisecond}
	require.NoError(t, os.MkdirAll(conf.Driver.Dir, 0o755))
	require.NoError(t, conf.check())
	return conf
}

// dropFile writes content next to the outbox and moves it in.
func dropFile(t *testing.T, conf tomlConfig, name string, content []byte) {
	staged := filepath.Join(filepath.Dir(conf.Exchange.Outbox), name)
	require.NoError(t, os.WriteFile(staged, content, 0o644))
	require.NoError(t, os.Rename(staged, filepath.Join(conf.Exchange.Outbox, name)))
}

func inboxContents(t *testing.T, conf tomlConfig) (contents [][]byte) {
	entries, err := os.ReadDir(conf.Exchange.Inbox)
	require.NoError(t, err)

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(conf.Exchange.Inbox, entry.Name()))
		require.NoError(t, err)
		contents = append(contents, data)
	}
	return
}

func TestClientContext(t *testing.T) {
	driver := startDriver(t)

	ctx := clientConf{
		DriverTimeout:         duration{2 * time.Second},
		ResourceLingerTimeout: duration{time.Millisecond},
	}.clientContext(driver)

	require.NoError(t, ctx.Validate())
	assert.Same(t, driver.CountersValues(), ctx.CountersValues)
	assert.Equal(t, 2*time.Second, ctx.DriverTimeout)
	assert.Equal(t, time.Millisecond, ctx.ResourceLingerTimeout)
	assert.Equal(t, client.DefaultKeepaliveInterval, ctx.KeepaliveInterval)
	assert.Equal(t, client.DefaultPublicationConnectionTimeout, ctx.PublicationConnectionTimeout)
}

func TestExchange(t *testing.T) {
	conf := testConfig(t)

	ex, err := newExchange(conf)
	require.NoError(t, err)
	ex.start()

	small := []byte("Hello World!")
	large := bytes.Repeat([]byte("0123456789abcdef"), 250)
	require.Greater(t, len(large), int(ex.pub.MaxPayloadLength()), "large has to be fragmented")
	require.LessOrEqual(t, len(large), int(ex.pub.MaxMessageLength()))

	dropFile(t, conf, "small", small)
	dropFile(t, conf, "large", large)

	require.Eventually(t, func() bool {
		return len(inboxContents(t, conf)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, [][]byte{small, large}, inboxContents(t, conf))

	assert.NoError(t, ex.close())
}

func TestExchangeSkipsOversizedFiles(t *testing.T) {
	conf := testConfig(t)

	ex, err := newExchange(conf)
	require.NoError(t, err)
	ex.start()
	defer func() { assert.NoError(t, ex.close()) }()

	dropFile(t, conf, "oversized", make([]byte, ex.pub.MaxMessageLength()+1))
	dropFile(t, conf, "fine", []byte("fine"))

	require.Eventually(t, func() bool {
		return len(inboxContents(t, conf)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, [][]byte{[]byte("fine")}, inboxContents(t, conf))
}

func TestExchangeStat(t *testing.T) {
	conf := testConfig(t)
	conf.Stat.Listen = "127.0.0.1:0"

	ex, err := newExchange(conf)
	require.NoError(t, err)
	defer func() { assert.NoError(t, ex.close()) }()
	ex.start()
	require.NotNil(t, ex.statServer)

	srv := httptest.NewServer(ex.statServer)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/counters")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot stat.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.NotEmpty(t, snapshot.Counters)
	assert.Len(t, snapshot.Resources["exchange"], 2)
}

func TestNewExchangeFailsCleanly(t *testing.T) {
	conf := testConfig(t)
	conf.Driver.TermLength = 1000

	_, err := newExchange(conf)
	assert.Error(t, err)
}
