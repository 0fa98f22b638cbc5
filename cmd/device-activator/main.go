/*
 * This file is part of the device-activator distribution (https://github.com/mlipscombe/device-activator).
 * Copyright (c) 2021-2026 Mark Lipscombe.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	healthz "github.com/klyve/go-healthz"
	"github.com/mlipscombe/device-activator/activation"
	"github.com/mlipscombe/device-activator/config"
	"github.com/mlipscombe/device-activator/device"
	"github.com/mlipscombe/device-activator/metrics"
	"github.com/mlipscombe/device-activator/mqtt"
	"github.com/mlipscombe/device-activator/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// determineMQTTPrefix extracts the MQTT prefix from the URL path, or generates one from the serial
func determineMQTTPrefix(mqttURL *url.URL, serial string) string {
	if len(mqttURL.Path) > 1 {
		return mqttURL.Path[1:]
	}
	return fmt.Sprintf("device-activator/%s", serial)
}

type app struct {
	cfg       *config.Config
	transport activation.Transport
	observer  activation.Observer
	prompter  activation.Prompter
	stderr    io.Writer
}

func main() {
	cfg, err := config.Load()
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.SetupLogging()

	if cfg.Bind != "false" {
		go func(listenAddress string) {
			log.Infof("Starting metrics server on %s", listenAddress)
			instance := healthz.Instance{
				Logger:   log.New(),
				Detailed: true,
			}

			http.Handle("/metrics", promhttp.Handler())
			http.Handle("/healthz", instance.Healthz())
			http.Handle("/liveness", instance.Liveness())

			if err := http.ListenAndServe(listenAddress, nil); err != nil {
				log.Errorf("HTTP server error: %v", err)
			}
		}(cfg.Bind)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg: cfg,
		transport: transport.New(transport.Options{
			Timeout:  cfg.Timeout,
			Insecure: cfg.Insecure,
			Debug:    cfg.Debug,
		}),
		observer: metrics.New(nil),
		prompter: newTerminalPrompter(),
		stderr:   os.Stderr,
	}

	code := a.run(ctx)
	stop()
	os.Exit(code)
}

func (a *app) run(ctx context.Context) int {
	dev, err := device.Open(a.cfg.DeviceFile, a.cfg.RecordFile)
	if err != nil {
		log.Errorf("Failed to load device: %v", err)
		return 1
	}

	if a.cfg.MQTTURL != "" {
		reporter, closeReporter, err := connectReporter(a.cfg.MQTTURL, dev)
		if err != nil {
			log.Errorf("Failed to create MQTT client: %s", err)
			return 1
		}
		defer closeReporter()
		a.observer = activation.Observers{a.observer, reporter}
	}

	switch a.cfg.Command {
	case config.CommandDeactivate:
		if err := dev.Deactivate(); err != nil {
			log.Errorf("Failed to deactivate device: %v", err)
			return 1
		}
		log.Info("Successfully deactivated device")
		return 0
	default:
		return a.activate(ctx, dev)
	}
}

func connectReporter(rawURL string, dev *device.File) (*mqtt.Reporter, func(), error) {
	mqttURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid MQTT URL %s: %w", rawURL, err)
	}

	serial := "unknown"
	if v, err := dev.GetValue(activation.KeySerialNumber); err == nil {
		if s, ok := v.Str(); ok {
			serial = s
		}
	}

	prefix := determineMQTTPrefix(mqttURL, serial)
	client, err := mqtt.NewClient(mqttURL, fmt.Sprintf("activator-%s", serial), prefix)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Connected to MQTT broker %s (publishing on \"%s\")", mqttURL.Host, prefix)
	return mqtt.NewReporter(client), client.Close, nil
}

func (a *app) activate(ctx context.Context, dev *device.File) int {
	clientType, err := activation.ParseClientType(a.cfg.ClientType)
	if err != nil {
		log.Error(err)
		return 1
	}
	client := activation.NewClient(a.transport, a.observer)

	req, handshake, err := a.buildRequest(ctx, client, clientType, dev)
	if err != nil {
		log.Errorf("Failed to create activation request: %v", err)
		return 1
	}
	if a.cfg.ServiceURL != "" {
		if err := req.SetURL(a.cfg.ServiceURL); err != nil {
			log.Error(err)
			return 1
		}
	}

	session := activation.NewSession(client, req, a.prompter)
	session.MaxRounds = a.cfg.MaxRounds
	log.Infof("Starting activation session %s against %s", session.ID, req.URL())

	resp, err := session.Run(ctx)
	if err != nil {
		var serverErr *activation.ServerError
		if errors.As(err, &serverErr) {
			if serverErr.Title != "" {
				fmt.Fprintln(a.stderr, serverErr.Title)
			}
			if serverErr.Description != "" {
				fmt.Fprintln(a.stderr, serverErr.Description)
			}
		}
		log.Errorf("Activation failed: %v", err)
		return 1
	}

	switch session.State() {
	case activation.StateAcknowledged:
		log.Info("Activation server reports that the device is already activated")
		return 0
	case activation.StateHasRecord:
		record, _ := resp.ActivationRecord()
		var headers map[string]string
		if handshake {
			headers = resp.Headers()
		}
		if err := dev.Activate(record, headers); err != nil {
			log.Errorf("Failed to activate device: %v", err)
			return 1
		}
		if err := dev.SetAcknowledged(); err != nil {
			log.Errorf("Failed to set ActivationStateAcknowledged: %v", err)
			return 1
		}
		log.Info("Successfully activated device")
		return 0
	}

	log.Errorf("Activation session ended in state %s", session.State())
	return 1
}

// buildRequest runs the DRM handshake when the session mode calls for it and reports
// whether it did.
func (a *app) buildRequest(ctx context.Context, client *activation.Client, clientType activation.ClientType, dev *device.File) (*activation.Request, bool, error) {
	useHandshake := a.cfg.SessionMode == config.SessionAlways
	if a.cfg.SessionMode == config.SessionAuto {
		_, err := dev.ActivationSessionInfo()
		useHandshake = err == nil
	}

	if !useHandshake {
		req, err := activation.NewRequestFromDevice(clientType, dev)
		return req, false, err
	}

	log.Debug("Performing DRM handshake")
	req, err := activation.Handshake(ctx, client, clientType, dev)
	return req, true, err
}
