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
	"time"

	log "github.com/sirupsen/logrus"
)

// HTTPResponse is what a Transport hands back: the status, the raw header lines
// with their original case, and the body.
type HTTPResponse struct {
	Status  int
	Headers []string
	Body    []byte
}

// Transport posts an encoded request and returns the reply.
type Transport interface {
	Post(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// Observer receives exchange and session events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ExchangeCompleted(mode ContentMode, contentType ContentType, elapsed time.Duration, err error)
	StateChanged(sessionID string, from, to State)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) ExchangeCompleted(mode ContentMode, contentType ContentType, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.ExchangeCompleted(mode, contentType, elapsed, err)
	}
}

func (o Observers) StateChanged(sessionID string, from, to State) {
	for _, obs := range o {
		obs.StateChanged(sessionID, from, to)
	}
}

type Client struct {
	transport Transport
	observer  Observer
}

func NewClient(transport Transport, observer Observer) *Client {
	return &Client{
		transport: transport,
		observer:  observer,
	}
}

// Send encodes req, submits it and parses the reply. Transport failures are returned as-is.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := c.send(ctx, req)

	if c.observer != nil {
		contentType := UnknownContent
		if resp != nil {
			contentType = resp.contentType
		}
		c.observer.ExchangeCompleted(req.Mode(), contentType, time.Since(start), err)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	if c == nil || c.transport == nil {
		return nil, ErrInternal
	}
	httpReq, err := req.Encode()
	if err != nil {
		return nil, err
	}

	log.Debugf("POST %s (%s, %d bytes)", httpReq.URL, httpReq.ContentType, len(httpReq.Body))

	httpResp, err := c.transport.Post(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	log.Debugf("received status %d with %d bytes", httpResp.Status, len(httpResp.Body))
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("response body:\n%s", httpResp.Body)
	}

	return NewResponse(httpResp.Body, httpResp.Headers)
}
