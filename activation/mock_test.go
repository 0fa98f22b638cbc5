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

package activation

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	buddyMLHeader = "Content-Type: application/x-buddyml; charset=utf-8"
	plistHeader   = "Content-Type: text/xml"
	htmlHeader    = "Content-Type: text/html; charset=utf-8"
)

var errDeviceNoValue = errors.New("no such value")

type mockDevice struct {
	values       map[string]Value
	sessionInfo  *Fields
	handshake    *Fields
	activated    *Value
	headers      map[string]string
	acknowledged bool
	deactivated  bool
}

func newMockDevice() *mockDevice {
	info := NewFields()
	info.Set("ActivationInfoXML", Bytes([]byte("<dict/>")))
	info.Set("FairPlayCertChain", Bytes([]byte{0x01, 0x02}))

	return &mockDevice{
		values: map[string]Value{
			KeySerialNumber:   String("F17XK0AAAAAA"),
			KeyIMEI:           String("356938035643809"),
			KeyICCID:          String("8901410427114581234"),
			KeyActivationInfo: Nested(info),
		},
	}
}

func (d *mockDevice) GetValue(key string) (Value, error) {
	v, ok := d.values[key]
	if !ok {
		return Value{}, errDeviceNoValue
	}
	return v, nil
}

func (d *mockDevice) Activate(record Value, headers map[string]string) error {
	d.activated = &record
	d.headers = headers
	return nil
}

func (d *mockDevice) SetAcknowledged() error {
	d.acknowledged = true
	return nil
}

func (d *mockDevice) Deactivate() error {
	d.deactivated = true
	return nil
}

func (d *mockDevice) ActivationSessionInfo() (*Fields, error) {
	if d.sessionInfo == nil {
		return nil, errDeviceNoValue
	}
	return d.sessionInfo.Clone(), nil
}

func (d *mockDevice) ActivationInfoWithSession(handshake *Fields) (Value, error) {
	d.handshake = handshake
	return d.GetValue(KeyActivationInfo)
}

type mockReply struct {
	headers []string
	body    string
	err     error
}

// mockTransport replays canned replies in order, repeating the last one when exhausted.
type mockTransport struct {
	replies  []mockReply
	requests []*HTTPRequest
}

func (t *mockTransport) Post(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	t.requests = append(t.requests, req)
	if len(t.replies) == 0 {
		return nil, errors.New("no reply queued")
	}
	reply := t.replies[0]
	if len(t.replies) > 1 {
		t.replies = t.replies[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &HTTPResponse{
		Status:  200,
		Headers: reply.headers,
		Body:    []byte(reply.body),
	}, nil
}

type notice struct {
	Title, Description string
	// Asked is the number of prompts issued before the notice.
	Asked int
}

type mockPrompter struct {
	answers map[string]string
	asked   []string
	secure  map[string]bool
	notices []notice
}

func (p *mockPrompter) Notice(title, description string) {
	p.notices = append(p.notices, notice{Title: title, Description: description, Asked: len(p.asked)})
}

func (p *mockPrompter) Prompt(field, label string, secure bool) (string, error) {
	p.asked = append(p.asked, label)
	if p.secure == nil {
		p.secure = make(map[string]bool)
	}
	p.secure[field] = secure
	return p.answers[field], nil
}

type transition struct {
	From, To State
}

type mockObserver struct {
	mu          sync.Mutex
	exchanges   int
	failures    int
	transitions []transition
}

func (o *mockObserver) ExchangeCompleted(mode ContentMode, contentType ContentType, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exchanges++
	if err != nil {
		o.failures++
	}
}

func (o *mockObserver) StateChanged(sessionID string, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{from, to})
}
