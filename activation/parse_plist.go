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
)

const (
	handshakeKey        = "HandshakeResponseMessage"
	activationRecordKey = "ActivationRecord"
	ackReceivedKey      = "ack-received"
	legacyRecordKey     = "activation-record"
)

var legacyActivationKeys = []string{"iphone-activation", "device-activation"}

func (r *Response) parsePlist() error {
	if r.contentType != PlistContent {
		return ErrUnknownContentType
	}

	doc, err := parsePlistDict(r.raw)
	if err != nil {
		return err
	}

	if doc.Has(handshakeKey) {
		r.fields = doc
		return nil
	}

	if err := r.reduceActivation(doc, r.raw); err != nil {
		return err
	}
	r.fields = doc
	return nil
}

// reduceActivation extracts the acknowledgment flag and activation record from a decoded
// activation document. raw is the document's serialized form, kept as the record for
// ActivationRecord-style replies.
func (r *Response) reduceActivation(doc *Fields, raw []byte) error {
	if v, ok := doc.Get(activationRecordKey); ok {
		if node, ok := v.NestedValue(); ok && ackReceived(node) {
			r.acknowledged = true
		}
		record := Bytes(raw)
		r.record = &record
		return nil
	}

	var node *Fields
	for _, key := range legacyActivationKeys {
		v, ok := doc.Get(key)
		if !ok {
			continue
		}
		nested, ok := v.NestedValue()
		if !ok {
			return fmt.Errorf("%w: %s is %s, not a dictionary", ErrPlistParsing, key, v.Kind())
		}
		node = nested
		break
	}
	if node == nil {
		return fmt.Errorf("%w: no activation node in document", ErrPlistParsing)
	}

	if ackReceived(node) {
		r.acknowledged = true
		return nil
	}

	record, ok := node.Get(legacyRecordKey)
	if !ok {
		return fmt.Errorf("%w: activation node carries neither %s nor %s", ErrPlistParsing, ackReceivedKey, legacyRecordKey)
	}
	r.record = &record
	return nil
}

func ackReceived(node *Fields) bool {
	v, ok := node.Get(ackReceivedKey)
	if !ok {
		return false
	}
	if b, ok := v.BoolValue(); ok {
		return b
	}
	// Some services send the flag as a string.
	s, ok := v.Str()
	return ok && s == "true"
}
