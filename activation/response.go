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
	"strings"
)

// ContentType is the body format detected from response headers.
type ContentType int

const (
	UnknownContent ContentType = iota
	PlistContent
	BuddyMLContent
	HTMLContent
)

func (c ContentType) String() string {
	switch c {
	case PlistContent:
		return "plist"
	case BuddyMLContent:
		return "buddyml"
	case HTMLContent:
		return "html"
	}
	return "unknown"
}

// ClassifyHeaders scans raw "Name: value" header lines. Every header is returned in the
// map; the content type is taken from the last Content-Type header seen.
func ClassifyHeaders(lines []string) (ContentType, map[string]string) {
	contentType := UnknownContent
	headers := make(map[string]string, len(lines))

	for _, line := range lines {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimRight(strings.TrimLeft(value, " "), "\r\n")
		headers[name] = value

		if !strings.EqualFold(strings.TrimSpace(name), "Content-Type") {
			continue
		}
		switch {
		case strings.HasPrefix(value, "text/xml"), strings.HasPrefix(value, "application/xml"):
			contentType = PlistContent
		case strings.HasPrefix(value, "application/x-buddyml"):
			contentType = BuddyMLContent
		case strings.HasPrefix(value, "text/html"):
			contentType = HTMLContent
		default:
			contentType = UnknownContent
		}
	}
	return contentType, headers
}

// Response is the parsed outcome of one exchange with the activation service.
// It is populated once by the parser matching its content type.
type Response struct {
	raw         []byte
	contentType ContentType
	headers     map[string]string

	fields        *Fields
	inputs        []string
	requiresInput map[string]bool
	secureInput   map[string]bool
	labels        map[string]string
	placeholders  map[string]string

	title       string
	description string
	record      *Value

	acknowledged bool
	authRequired bool
	hasErrors    bool
}

func newResponse(raw []byte, contentType ContentType, headers map[string]string) *Response {
	body := make([]byte, len(raw))
	copy(body, raw)
	if headers == nil {
		headers = make(map[string]string)
	}
	return &Response{
		raw:           body,
		contentType:   contentType,
		headers:       headers,
		fields:        NewFields(),
		requiresInput: make(map[string]bool),
		secureInput:   make(map[string]bool),
		labels:        make(map[string]string),
		placeholders:  make(map[string]string),
	}
}

// NewResponse classifies the header lines and parses body with the matching parser.
func NewResponse(body []byte, headerLines []string) (*Response, error) {
	contentType, headers := ClassifyHeaders(headerLines)
	resp := newResponse(body, contentType, headers)
	if err := resp.parse(); err != nil {
		return nil, err
	}
	return resp, nil
}

// NewResponseFromHTML parses a literal HTML document.
func NewResponseFromHTML(content string) (*Response, error) {
	resp := newResponse([]byte(content), HTMLContent, nil)
	if err := resp.parseHTML(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Response) parse() error {
	switch r.contentType {
	case PlistContent:
		return r.parsePlist()
	case BuddyMLContent:
		return r.parseBuddyML()
	case HTMLContent:
		return r.parseHTML()
	}
	return ErrUnknownContentType
}

func (r *Response) addField(key, value string, requiresInput bool) {
	r.fields.SetString(key, value)
	if requiresInput && !r.requiresInput[key] {
		r.requiresInput[key] = true
		r.inputs = append(r.inputs, key)
	}
}

// Raw returns a copy of the received body.
func (r *Response) Raw() []byte {
	out := make([]byte, len(r.raw))
	copy(out, r.raw)
	return out
}

func (r *Response) ContentType() ContentType { return r.contentType }

// Headers returns a copy of the response headers.
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// Fields returns a copy of the fields the server sent back.
func (r *Response) Fields() *Fields { return r.fields.Clone() }

func (r *Response) Field(key string) (string, bool) {
	return r.fields.GetString(key)
}

// InputFields lists the fields that need a value from the user, in document order.
func (r *Response) InputFields() []string {
	out := make([]string, len(r.inputs))
	copy(out, r.inputs)
	return out
}

func (r *Response) RequiresInput(key string) bool { return r.requiresInput[key] }

func (r *Response) IsSecureInput(key string) bool { return r.secureInput[key] }

func (r *Response) Label(key string) (string, bool) {
	v, ok := r.labels[key]
	return v, ok
}

func (r *Response) Placeholder(key string) (string, bool) {
	v, ok := r.placeholders[key]
	return v, ok
}

func (r *Response) Title() string { return r.title }

func (r *Response) Description() string { return r.description }

// ActivationRecord returns the record to hand to the device, if one was received.
func (r *Response) ActivationRecord() (Value, bool) {
	if r.record == nil {
		return Value{}, false
	}
	return *r.record, true
}

func (r *Response) Acknowledged() bool { return r.acknowledged }

func (r *Response) AuthRequired() bool { return r.authRequired }

func (r *Response) HasErrors() bool { return r.hasErrors }
