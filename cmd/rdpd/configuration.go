// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/dtn7/rdp-go/pkg/rdp"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Server    serverConf
	Network   networkConf
	Timing    timingConf
	Logging   logConf
	Store     storeConf
	Status    statusConf
	Discovery discoveryConf
	Profiling bool
}

// serverConf describes the Server-configuration block.
type serverConf struct {
	Listen           string
	File             string
	Clients          int
	PerConnectionSeq bool `toml:"per-connection-seq"`
}

// networkConf describes the Network-configuration block.
type networkConf struct {
	Loss float64
}

// timingConf describes the Timing-configuration block. Durations are parsed
// by time.ParseDuration, e.g., "150ms".
type timingConf struct {
	ListenTimeout  string `toml:"listen-timeout"`
	ConfirmTimeout string `toml:"confirm-timeout"`
	ConnectTimeout string `toml:"connect-timeout"`
	MaxRetries     int    `toml:"max-retries"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// storeConf describes the Store-configuration block. An empty Dir disables
// the transfer log.
type storeConf struct {
	Dir string
}

// statusConf describes the Status-configuration block. An empty Listen
// disables the HTTP status endpoint.
type statusConf struct {
	Listen string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// daemonConf is the parsed configuration, independent of its source.
type daemonConf struct {
	listen  string
	file    string
	clients int
	loss    float64

	rdpConf rdp.Config

	storeDir     string
	statusListen string

	discovery discoveryConf
	profiling bool
}

// parseDuration sets *d to the parsed value, if s is not empty.
func parseDuration(name, s string, d *time.Duration) error {
	if s == "" {
		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("timing.%s: %v", name, err)
	}
	*d = v
	return nil
}

// setupLogging configures logrus like the logging block demands.
func setupLogging(conf logConf) {
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
		log.Warn("Unknown logging format")
	}
}

// parseConfig reads a TOML configuration file.
func parseConfig(filename string) (dc daemonConf, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	setupLogging(conf.Logging)

	if conf.Server.File == "" {
		err = fmt.Errorf("server.file is empty")
		return
	}
	if conf.Server.Clients <= 0 {
		err = fmt.Errorf("server.clients must be positive, not %d", conf.Server.Clients)
		return
	}

	dc = daemonConf{
		listen:       conf.Server.Listen,
		file:         conf.Server.File,
		clients:      conf.Server.Clients,
		loss:         conf.Network.Loss,
		rdpConf:      rdp.DefaultConfig(),
		storeDir:     conf.Store.Dir,
		statusListen: conf.Status.Listen,
		discovery:    conf.Discovery,
		profiling:    conf.Profiling,
	}

	if dc.listen == "" {
		dc.listen = ":5000"
	}
	if dc.discovery.Interval == 0 {
		dc.discovery.Interval = 10
	}

	dc.rdpConf.PerConnectionSeq = conf.Server.PerConnectionSeq
	dc.rdpConf.MaxRetries = conf.Timing.MaxRetries

	durations := []struct {
		name  string
		value string
		field *time.Duration
	}{
		{"listen-timeout", conf.Timing.ListenTimeout, &dc.rdpConf.ListenTimeout},
		{"confirm-timeout", conf.Timing.ConfirmTimeout, &dc.rdpConf.ConfirmTimeout},
		{"connect-timeout", conf.Timing.ConnectTimeout, &dc.rdpConf.ConnectTimeout},
	}
	for _, d := range durations {
		if err = parseDuration(d.name, d.value, d.field); err != nil {
			return
		}
	}

	return
}

// parseArgs reads the positional form: port, filename, clients and loss.
func parseArgs(args []string) (dc daemonConf, err error) {
	if len(args) != 4 {
		err = fmt.Errorf("expected 4 arguments, got %d", len(args))
		return
	}

	port, portErr := strconv.ParseUint(args[0], 10, 16)
	if portErr != nil {
		err = fmt.Errorf("invalid port %q: %v", args[0], portErr)
		return
	}

	clients, clientsErr := strconv.Atoi(args[2])
	if clientsErr != nil || clients <= 0 {
		err = fmt.Errorf("invalid number of clients %q", args[2])
		return
	}

	loss, lossErr := strconv.ParseFloat(args[3], 64)
	if lossErr != nil {
		err = fmt.Errorf("invalid loss probability %q: %v", args[3], lossErr)
		return
	}

	setupLogging(logConf{})

	dc = daemonConf{
		listen:  fmt.Sprintf(":%d", port),
		file:    args[1],
		clients: clients,
		loss:    loss,
		rdpConf: rdp.DefaultConfig(),
	}
	return
}
