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
	"bytes"
	"fmt"
	"mime/multipart"
	"strings"
)

const (
	FormURLEncodedContentType = "application/x-www-form-urlencoded"
	PlistContentType          = "application/x-apple-plist"
)

// HTTPRequest is a fully encoded request ready for a Transport.
type HTTPRequest struct {
	URL         string
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// Encode serializes the request body according to its content mode.
func (r *Request) Encode() (*HTTPRequest, error) {
	if r == nil {
		return nil, ErrInternal
	}

	out := &HTTPRequest{
		URL: r.url,
		Headers: map[string]string{
			"User-Agent": r.client.UserAgent(),
		},
	}

	var err error
	switch r.mode {
	case URLEncoded:
		out.ContentType = FormURLEncodedContentType
		out.Body, err = r.encodeURLEncoded()
	case Multipart:
		out.Body, out.ContentType, err = r.encodeMultipart()
	case PlistBody:
		out.ContentType = PlistContentType
		out.Headers["Accept"] = "application/xml"
		out.Body, err = MarshalFields(r.fields)
	default:
		err = fmt.Errorf("%w: unknown content mode %d", ErrInternal, r.mode)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Request) encodeURLEncoded() ([]byte, error) {
	pairs := make([]string, 0, r.fields.Len())
	for _, key := range r.fields.Keys() {
		v, _ := r.fields.Get(key)
		s, ok := v.Str()
		if !ok {
			return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedFieldType, key, v.Kind())
		}
		pairs = append(pairs, key+"="+urlEncode(s))
	}
	return []byte(strings.Join(pairs, "&")), nil
}

func (r *Request) encodeMultipart() ([]byte, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for _, key := range r.fields.Keys() {
		value, _, err := r.Field(key)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode field %s: %w", key, err)
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return body.Bytes(), w.FormDataContentType(), nil
}
