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
	"errors"
	"fmt"
	"strings"

	"howett.net/plist"
)

// Envelope markers the activation service expects around stripped plist fragments.
const (
	plistEnvelopeOpen  = "<plist version=\"1.0\">\n"
	plistEnvelopeClose = "\n</plist>"
)

const upperHex = "0123456789ABCDEF"

var errNoEnvelope = errors.New("plist envelope markers not found")

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '.', c == '-', c == '*', c == '_':
		return true
	}
	return false
}

// urlEncode percent-escapes every byte outside [A-Za-z0-9.*_-]; space becomes %20.
func urlEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

// stripPlistEnvelope returns the text strictly between the opening plist tag line and
// the closing tag line.
func stripPlistEnvelope(doc string) (string, error) {
	start := strings.Index(doc, plistEnvelopeOpen)
	if start < 0 {
		return "", errNoEnvelope
	}
	stop := strings.Index(doc, plistEnvelopeClose)
	if stop < 0 {
		return "", errNoEnvelope
	}
	start += len(plistEnvelopeOpen)
	if stop < start {
		return "", errNoEnvelope
	}
	return doc[start:stop], nil
}

func marshalPlistXML(v interface{}) ([]byte, error) {
	out, err := plist.MarshalIndent(v, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize plist: %w", err)
	}
	return out, nil
}

// MarshalFields serializes f as a complete XML property-list document.
func MarshalFields(f *Fields) ([]byte, error) {
	return marshalPlistXML(f.native())
}

// StrippedXML serializes v as plist XML without the surrounding document envelope.
// The fragment starts at column zero; the encoder's indent for the root element is removed.
func StrippedXML(v Value) (string, error) {
	out, err := marshalPlistXML(v.native())
	if err != nil {
		return "", err
	}
	stripped, err := stripPlistEnvelope(string(out))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return dedentPlist(stripped), nil
}

func dedentPlist(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, "\t")
	}
	return strings.Join(lines, "\n")
}

// parsePlistDict decodes data and requires a dictionary at the top level.
func parsePlistDict(data []byte) (*Fields, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrPlistParsing)
	}
	var doc interface{}
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlistParsing, err)
	}
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, not a dictionary", ErrPlistParsing, doc)
	}
	f, err := fieldsFromNative(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlistParsing, err)
	}
	return f, nil
}

// UnmarshalFields decodes a property-list document whose root is a dictionary.
func UnmarshalFields(data []byte) (*Fields, error) {
	return parsePlistDict(data)
}
