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

package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const disconnectQuiesce = 250 // milliseconds

type Client struct {
	URI        *url.URL
	ClientID   string
	Prefix     string
	connection mqtt.Client
}

func (client *Client) statusTopic() string {
	return fmt.Sprintf("%s/status", client.Prefix)
}

// NewClient connects to the broker at uri and marks the activator online. The broker
// publishes "offline" on the status topic if the connection drops.
func NewClient(uri *url.URL, clientID string, prefix string) (*Client, error) {
	client := Client{
		URI:      uri,
		ClientID: clientID,
		Prefix:   prefix,
	}
	opts, err := createClientOptions(&client)
	if err != nil {
		return nil, err
	}

	opts.SetWill(client.statusTopic(), "offline", 1, true)
	if err := client.connect(opts); err != nil {
		return nil, err
	}

	client.connection.Publish(client.statusTopic(), 1, true, "online")
	return &client, nil
}

func (client *Client) connect(opts *mqtt.ClientOptions) error {
	client.connection = mqtt.NewClient(opts)
	token := client.connection.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

// Close marks the activator offline and disconnects.
func (client *Client) Close() {
	if client.connection == nil {
		return
	}
	token := client.connection.Publish(client.statusTopic(), 1, true, "offline")
	token.WaitTimeout(time.Second)
	client.connection.Disconnect(disconnectQuiesce)
}

// PublishMany publishes each value under <prefix>/<topic>/<key>, in key order.
func (client *Client) PublishMany(topic string, values map[string]interface{}) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		err := client.PublishRaw(fmt.Sprintf("%s/%s/%s", client.Prefix, topic, key), values[key])
		if err != nil {
			return err
		}
	}
	return nil
}

func (client *Client) PublishRaw(topic string, val interface{}) error {
	payload, err := encodePayload(val)
	if err != nil {
		return fmt.Errorf("marshalling %s: %v", topic, err)
	}

	token := client.connection.Publish(topic, 0, true, payload)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			log.Error(token.Error())
		}
	}()

	return nil
}

func encodePayload(val interface{}) ([]byte, error) {
	switch p := val.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	}
	return json.Marshal(val)
}

func createClientOptions(client *Client) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()

	port := client.URI.Port()
	if port == "" {
		if client.URI.Scheme == "mqtts" {
			port = "8883"
		} else {
			port = "1883"
		}
	}

	switch client.URI.Scheme {
	case "mqtts":
		tlsConfig, err := tlsConfigFromQuery(client.URI.Query())
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
		opts.AddBroker(fmt.Sprintf("ssl://%s:%s", client.URI.Hostname(), port))
	case "mqtt", "tcp":
		opts.AddBroker(fmt.Sprintf("tcp://%s:%s", client.URI.Hostname(), port))
	default:
		return nil, fmt.Errorf("unsupported mqtt scheme %q", client.URI.Scheme)
	}

	opts.SetUsername(client.URI.User.Username())
	password, _ := client.URI.User.Password()
	opts.SetPassword(password)
	opts.SetClientID(client.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Errorf("mqtt connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Warn("mqtt reconnecting")
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("mqtt connected")
		c.Publish(client.statusTopic(), 1, true, "online")
	})

	return opts, nil
}

func tlsConfigFromQuery(query url.Values) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if query.Get("insecure") == "true" {
		tlsConfig.InsecureSkipVerify = true
	}

	tlsCert, tlsKey := query.Get("tls_cert"), query.Get("tls_key")
	if tlsCert != "" && tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load tls cert and key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if caCert := query.Get("tls_cacert"); caCert != "" {
		caCertData, err := os.ReadFile(caCert)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(caCertData)
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
