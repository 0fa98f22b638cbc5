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

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/mlipscombe/device-activator/activation"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultMaxRedirects = 10
)

var ErrTooManyRedirects = errors.New("too many redirects")

// Options configures the HTTP transport.
type Options struct {
	Timeout      time.Duration
	Insecure     bool
	Debug        bool
	MaxRedirects int
}

// HTTP posts activation requests over fasthttp, following redirects and keeping
// response header names exactly as the server sent them.
type HTTP struct {
	client *fasthttp.Client
	opts   Options
}

func New(opts Options) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Insecure {
		log.Warn("TLS certificate verification is disabled for activation requests")
	}

	return &HTTP{
		client: &fasthttp.Client{
			NoDefaultUserAgentHeader:      true,
			DisableHeaderNamesNormalizing: true,
			ReadTimeout:                   opts.Timeout,
			WriteTimeout:                  opts.Timeout,
			TLSConfig: &tls.Config{
				InsecureSkipVerify: opts.Insecure,
				MinVersion:         tls.VersionTLS12,
			},
		},
		opts: opts,
	}
}

// Post submits req and returns the final response after redirects. fasthttp only
// honours deadlines, so a cancelled ctx abandons the exchange in flight; the
// connection is released once the exchange ends or times out.
func (t *HTTP) Post(ctx context.Context, req *activation.HTTPRequest) (*activation.HTTPResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		resp *activation.HTTPResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.exchange(ctx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to post %s: %w", req.URL, ctx.Err())
	}
}

func (t *HTTP) exchange(ctx context.Context, req *activation.HTTPRequest) (*activation.HTTPResponse, error) {
	httpReq := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(httpReq)
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.Header.DisableNormalizing()
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.SetRequestURI(req.URL)
	httpReq.Header.SetContentType(req.ContentType)
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	httpReq.SetBodyRaw(req.Body)

	if t.opts.Debug {
		log.Debugf("> POST %s\n%s\n%s", req.URL, httpReq.Header.String(), req.Body)
	}

	if err := t.do(ctx, httpReq, httpResp); err != nil {
		return nil, fmt.Errorf("failed to post %s: %w", req.URL, err)
	}

	body, err := httpResp.BodyUncompressed()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &activation.HTTPResponse{
		Status: httpResp.StatusCode(),
		Body:   append([]byte(nil), body...),
	}
	httpResp.Header.VisitAll(func(key, value []byte) {
		out.Headers = append(out.Headers, fmt.Sprintf("%s: %s", key, value))
	})

	if t.opts.Debug {
		log.Debugf("< %d\n%s\n%s", out.Status, httpResp.Header.String(), out.Body)
	}
	return out, nil
}

// do follows redirects by hand so every hop is bounded by the context deadline.
func (t *HTTP) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	url := req.URI().String()
	for hop := 0; ; hop++ {
		req.SetRequestURI(url)

		deadline := time.Now().Add(t.opts.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := t.client.DoDeadline(req, resp, deadline); err != nil {
			return err
		}

		status := resp.StatusCode()
		if !fasthttp.StatusCodeIsRedirect(status) {
			return nil
		}
		location := resp.Header.Peek(fasthttp.HeaderLocation)
		if len(location) == 0 {
			return nil
		}
		if hop >= t.opts.MaxRedirects {
			return ErrTooManyRedirects
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		url = redirectURL(url, location)
		log.Debugf("following %d redirect to %s", status, url)
		if status == fasthttp.StatusMovedPermanently || status == fasthttp.StatusFound || status == fasthttp.StatusSeeOther {
			req.Header.SetMethod(fasthttp.MethodGet)
			req.ResetBody()
		}
	}
}

func redirectURL(base string, location []byte) string {
	u := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(u)
	u.Update(base)
	u.UpdateBytes(location)
	return u.String()
}
