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
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultURL   = "https://albert.apple.com/deviceservices/deviceActivation"
	HandshakeURL = "https://albert.apple.com/deviceservices/drmHandshake"
)

// ClientType selects the identity presented to the activation service.
type ClientType int

const (
	MobileActivation ClientType = iota
	ITunes
)

func (c ClientType) String() string {
	switch c {
	case MobileActivation:
		return "mobileactivation"
	case ITunes:
		return "itunes"
	}
	return "unknown"
}

// UserAgent returns the User-Agent header value for the client identity.
func (c ClientType) UserAgent() string {
	if c == ITunes {
		return "iTunes/11.1.4 (Macintosh; OS X 10.9.1) AppleWebKit/537.73.11"
	}
	return "iOS Device Activator (MobileActivation-20 built on Jan 15 2012 at 19:07:28)"
}

// ParseClientType accepts the names returned by ClientType.String.
func ParseClientType(s string) (ClientType, error) {
	switch s {
	case "mobileactivation", "mobile-activation", "":
		return MobileActivation, nil
	case "itunes":
		return ITunes, nil
	}
	return MobileActivation, fmt.Errorf("unknown client type %q", s)
}

// ContentMode selects how a request body is encoded.
type ContentMode int

const (
	URLEncoded ContentMode = iota
	Multipart
	PlistBody
)

func (m ContentMode) String() string {
	switch m {
	case URLEncoded:
		return "urlencoded"
	case Multipart:
		return "multipart"
	case PlistBody:
		return "plist"
	}
	return "unknown"
}

// Lockdown keys queried when building a request from a device.
const (
	KeySerialNumber   = "SerialNumber"
	KeyIMEI           = "InternationalMobileEquipmentIdentity"
	KeyMEID           = "MobileEquipmentIdentifier"
	KeyIMSI           = "InternationalMobileSubscriberIdentity"
	KeyICCID          = "IntegratedCircuitCardIdentity"
	KeyActivationInfo = "ActivationInfo"
)

// DeviceInfo supplies lockdown values for a device.
type DeviceInfo interface {
	GetValue(key string) (Value, error)
}

type Request struct {
	client ClientType
	mode   ContentMode
	url    string
	fields *Fields
}

func NewRequest(client ClientType) *Request {
	return &Request{
		client: client,
		mode:   URLEncoded,
		url:    DefaultURL,
		fields: NewFields(),
	}
}

// NewHandshakeRequest creates a plist-bodied request aimed at the DRM handshake endpoint.
func NewHandshakeRequest(client ClientType) *Request {
	return &Request{
		client: client,
		mode:   PlistBody,
		url:    HandshakeURL,
		fields: NewFields(),
	}
}

// NewRequestFromDevice builds a multipart request from the device's identity values.
// The serial number and activation info are mandatory; the remaining identifiers are
// included only when the device reports them as strings.
func NewRequestFromDevice(client ClientType, dev DeviceInfo) (*Request, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: no device", ErrIncompleteInfo)
	}

	serial, err := deviceString(dev, KeySerialNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIncompleteInfo, KeySerialNumber, err)
	}

	info, err := dev.GetValue(KeyActivationInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIncompleteInfo, KeyActivationInfo, err)
	}
	if info.Kind() != NestedKind {
		return nil, fmt.Errorf("%w: %s is %s, not a dictionary", ErrIncompleteInfo, KeyActivationInfo, info.Kind())
	}

	req := &Request{
		client: client,
		mode:   Multipart,
		url:    DefaultURL,
		fields: NewFields(),
	}
	req.fields.SetString("InStoreActivation", "false")
	req.fields.SetString("AppleSerialNumber", serial)

	optional := []struct {
		key   string
		field string
	}{
		{KeyIMEI, "IMEI"},
		{KeyMEID, "MEID"},
		{KeyIMSI, "IMSI"},
		{KeyICCID, "ICCID"},
	}
	for _, o := range optional {
		value, err := deviceString(dev, o.key)
		if err != nil {
			log.Debugf("device did not report %s: %v", o.key, err)
			continue
		}
		req.fields.SetString(o.field, value)
	}

	req.fields.Set("activation-info", info)
	return req, nil
}

func deviceString(dev DeviceInfo, key string) (string, error) {
	v, err := dev.GetValue(key)
	if err != nil {
		return "", err
	}
	s, ok := v.Str()
	if !ok {
		return "", fmt.Errorf("value is %s, not a string", v.Kind())
	}
	return s, nil
}

func (r *Request) Client() ClientType {
	if r == nil {
		return MobileActivation
	}
	return r.client
}

func (r *Request) Mode() ContentMode {
	if r == nil {
		return URLEncoded
	}
	return r.mode
}

func (r *Request) URL() string {
	if r == nil {
		return ""
	}
	return r.url
}

func (r *Request) SetURL(url string) error {
	if r == nil || url == "" {
		return ErrInternal
	}
	r.url = url
	return nil
}

// Fields returns a copy of the request's field store.
func (r *Request) Fields() *Fields {
	if r == nil {
		return NewFields()
	}
	return r.fields.Clone()
}

func (r *Request) SetField(key, value string) error {
	return r.SetValue(key, String(value))
}

// SetValue stores a value. A non-string value on a URL-encoded request promotes it to multipart.
func (r *Request) SetValue(key string, v Value) error {
	if r == nil || key == "" {
		return ErrInternal
	}
	if !v.IsString() && r.mode == URLEncoded {
		r.mode = Multipart
	}
	r.fields.Set(key, v)
	return nil
}

// Field returns a string value as-is and any other value as stripped plist XML.
func (r *Request) Field(key string) (string, bool, error) {
	if r == nil {
		return "", false, ErrInternal
	}
	v, ok := r.fields.Get(key)
	if !ok {
		return "", false, nil
	}
	if s, ok := v.Str(); ok {
		return s, true, nil
	}
	s, err := StrippedXML(v)
	if err != nil {
		return "", true, err
	}
	return s, true, nil
}

// SetFields merges every entry of fields into the request.
func (r *Request) SetFields(fields *Fields) error {
	if r == nil || fields == nil {
		return ErrInternal
	}
	fields.Each(func(key string, v Value) {
		if !v.IsString() && r.mode == URLEncoded {
			r.mode = Multipart
		}
		r.fields.Set(key, v)
	})
	return nil
}

// SetFieldsFromResponse seeds the request with the fields collected by a response.
func (r *Request) SetFieldsFromResponse(resp *Response) error {
	if r == nil || resp == nil {
		return ErrInternal
	}
	return r.SetFields(resp.fields)
}
