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
	"fmt"
	"sync"
	"time"

	cmp "github.com/google/go-cmp/cmp"
	"github.com/mlipscombe/device-activator/activation"
	log "github.com/sirupsen/logrus"
)

type publisher interface {
	PublishMany(topic string, values map[string]interface{}) error
}

// Reporter publishes session progress to MQTT. Only values that changed since the
// previous publish on a topic are sent.
type Reporter struct {
	client publisher
	mu     sync.Mutex
	cache  map[string]map[string]interface{}
}

func NewReporter(client *Client) *Reporter {
	return newReporter(client)
}

func newReporter(client publisher) *Reporter {
	return &Reporter{
		client: client,
		cache:  make(map[string]map[string]interface{}),
	}
}

func (r *Reporter) ExchangeCompleted(mode activation.ContentMode, contentType activation.ContentType, elapsed time.Duration, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	r.publish("exchange", map[string]interface{}{
		"mode":         mode.String(),
		"content_type": contentType.String(),
		"elapsed_ms":   elapsed.Milliseconds(),
		"error":        errText,
	})
}

func (r *Reporter) StateChanged(sessionID string, from, to activation.State) {
	r.publish(fmt.Sprintf("session/%s", sessionID), map[string]interface{}{
		"state":    to.String(),
		"previous": from.String(),
		"terminal": to.Terminal(),
	})
	if to.Terminal() {
		r.publish("session/last", map[string]interface{}{
			"id":    sessionID,
			"state": to.String(),
		})
	}
}

func (r *Reporter) publish(topic string, values map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cache := r.cache[topic]
	if cache == nil {
		cache = make(map[string]interface{})
		r.cache[topic] = cache
	}

	changeSet := make(map[string]interface{})
	for key, value := range values {
		if !cmp.Equal(cache[key], value) {
			changeSet[key] = value
			cache[key] = value
		}
	}
	if len(changeSet) == 0 {
		return
	}
	if err := r.client.PublishMany(topic, changeSet); err != nil {
		log.Errorf("failed to publish %s: %v", topic, err)
	}
}

var _ activation.Observer = (*Reporter)(nil)
