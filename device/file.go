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

package device

import (
	"os"
	"sort"

	"github.com/mlipscombe/device-activator/activation"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	KeyActivationSessionInfo = "ActivationSessionInfo"

	recordKey       = "ActivationRecord"
	headersKey      = "ActivationResponseHeaders"
	acknowledgedKey = "ActivationStateAcknowledged"
)

var ErrNoValue = errors.New("no such lockdown value")

// File is a device backed by a property list of lockdown values. Activation results
// are written to a separate record file.
type File struct {
	Path       string
	RecordPath string

	values *activation.Fields
}

// Open loads the lockdown values stored at path.
func Open(path, recordPath string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Open: unable to read %s", path)
	}
	values, err := activation.UnmarshalFields(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Open: unable to parse %s", path)
	}

	log.Debugf("loaded %d lockdown values from %s", values.Len(), path)
	return &File{
		Path:       path,
		RecordPath: recordPath,
		values:     values,
	}, nil
}

func (d *File) GetValue(key string) (activation.Value, error) {
	v, ok := d.values.Get(key)
	if !ok {
		return activation.Value{}, errors.Wrapf(ErrNoValue, "GetValue: %s", key)
	}
	return v, nil
}

// Activate writes record, and the response headers when present, to the record file.
func (d *File) Activate(record activation.Value, headers map[string]string) error {
	doc := activation.NewFields()
	doc.Set(recordKey, record)

	if len(headers) > 0 {
		names := make([]string, 0, len(headers))
		for name := range headers {
			names = append(names, name)
		}
		sort.Strings(names)

		h := activation.NewFields()
		for _, name := range names {
			h.SetString(name, headers[name])
		}
		doc.Set(headersKey, activation.Nested(h))
	}

	if err := d.writeRecord(doc); err != nil {
		return errors.Wrap(err, "Activate")
	}
	log.Infof("activation record written to %s", d.RecordPath)
	return nil
}

// SetAcknowledged marks the stored record as acknowledged.
func (d *File) SetAcknowledged() error {
	doc, err := d.readRecord()
	if err != nil {
		return errors.Wrap(err, "SetAcknowledged")
	}
	doc.Set(acknowledgedKey, activation.Bool(true))
	if err := d.writeRecord(doc); err != nil {
		return errors.Wrap(err, "SetAcknowledged")
	}
	d.values.Set(acknowledgedKey, activation.Bool(true))
	return nil
}

// Deactivate removes the record file.
func (d *File) Deactivate() error {
	if err := os.Remove(d.RecordPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "Deactivate")
	}
	d.values.Delete(acknowledgedKey)
	return nil
}

func (d *File) ActivationSessionInfo() (*activation.Fields, error) {
	v, err := d.GetValue(KeyActivationSessionInfo)
	if err != nil {
		return nil, err
	}
	info, ok := v.NestedValue()
	if !ok {
		return nil, errors.Errorf("ActivationSessionInfo: value is %s, not a dictionary", v.Kind())
	}
	return info, nil
}

// ActivationInfoWithSession returns the stored activation info. A file cannot sign the
// handshake reply, so the reply is only logged.
func (d *File) ActivationInfoWithSession(handshake *activation.Fields) (activation.Value, error) {
	log.Debugf("handshake reply carries %d fields", handshake.Len())
	return d.GetValue(activation.KeyActivationInfo)
}

func (d *File) readRecord() (*activation.Fields, error) {
	data, err := os.ReadFile(d.RecordPath)
	if os.IsNotExist(err) {
		return activation.NewFields(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read record")
	}
	doc, err := activation.UnmarshalFields(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse record")
	}
	return doc, nil
}

func (d *File) writeRecord(doc *activation.Fields) error {
	if d.RecordPath == "" {
		return errors.New("no record path configured")
	}
	data, err := activation.MarshalFields(doc)
	if err != nil {
		return errors.Wrap(err, "unable to serialize record")
	}
	if err := os.WriteFile(d.RecordPath, data, 0o600); err != nil {
		return errors.Wrap(err, "unable to write record")
	}
	return nil
}

var _ activation.Device = (*File)(nil)
