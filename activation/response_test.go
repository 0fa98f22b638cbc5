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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassifyHeaders(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		expected ContentType
	}{
		{"buddyml with charset", []string{buddyMLHeader}, BuddyMLContent},
		{"text xml", []string{"Content-Type: text/xml"}, PlistContent},
		{"application xml", []string{"content-type:application/xml; charset=UTF-8"}, PlistContent},
		{"html", []string{"CONTENT-TYPE:   text/html\r\n"}, HTMLContent},
		{"json is unknown", []string{"Content-Type: application/json"}, UnknownContent},
		{"no content type", []string{"Server: Apple"}, UnknownContent},
		{"last match wins", []string{"Content-Type: text/html", "Content-Type: text/xml"}, PlistContent},
		{"line without colon", []string{"HTTP/1.1 200 OK", "Content-Type: text/html"}, HTMLContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _ := ClassifyHeaders(tt.headers)
			if result != tt.expected {
				t.Errorf("ClassifyHeaders() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestClassifyHeadersKeepsAllHeaders(t *testing.T) {
	_, headers := ClassifyHeaders([]string{
		"Content-Type: text/xml",
		"X-Apple-MEID: 1234\r\n",
		"Server: Apple",
	})

	want := map[string]string{
		"Content-Type": "text/xml",
		"X-Apple-MEID": "1234",
		"Server":       "Apple",
	}
	if diff := cmp.Diff(want, headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestParserRejectsMismatchedContentType(t *testing.T) {
	r := newResponse([]byte("<xmlui/>"), PlistContent, nil)
	if err := r.parseBuddyML(); !errors.Is(err, ErrUnknownContentType) {
		t.Errorf("parseBuddyML() error = %v, want %v", err, ErrUnknownContentType)
	}
	if err := r.parseHTML(); !errors.Is(err, ErrUnknownContentType) {
		t.Errorf("parseHTML() error = %v, want %v", err, ErrUnknownContentType)
	}

	r = newResponse([]byte("<html/>"), HTMLContent, nil)
	if err := r.parsePlist(); !errors.Is(err, ErrUnknownContentType) {
		t.Errorf("parsePlist() error = %v, want %v", err, ErrUnknownContentType)
	}

	if _, err := NewResponse([]byte("{}"), []string{"Content-Type: application/json"}); !errors.Is(err, ErrUnknownContentType) {
		t.Errorf("NewResponse() error = %v, want %v", err, ErrUnknownContentType)
	}
}

const handshakePlist = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>HandshakeResponseMessage</key>
	<data>AAEC</data>
	<key>serverKP</key>
	<data>AwQ=</data>
</dict>
</plist>`

const ackRecordPlist = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>ActivationRecord</key>
	<dict>
		<key>ack-received</key>
		<true/>
		<key>unbrick</key>
		<true/>
	</dict>
</dict>
</plist>`

const newRecordPlist = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>ActivationRecord</key>
	<dict>
		<key>unbrick</key>
		<true/>
		<key>AccountToken</key>
		<data>e30=</data>
	</dict>
</dict>
</plist>`

const legacyRecordPlist = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>iphone-activation</key>
	<dict>
		<key>activation-record</key>
		<dict>
			<key>DeviceCertificate</key>
			<data>AQI=</data>
		</dict>
	</dict>
</dict>
</plist>`

const legacyAckPlist = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>device-activation</key>
	<dict>
		<key>ack-received</key>
		<true/>
	</dict>
</dict>
</plist>`

func TestParsePlistHandshake(t *testing.T) {
	resp, err := NewResponse([]byte(handshakePlist), []string{plistHeader})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}

	if _, ok := resp.ActivationRecord(); ok {
		t.Error("Expected no activation record for a handshake reply")
	}

	want := NewFields()
	want.Set("HandshakeResponseMessage", Bytes([]byte{0, 1, 2}))
	want.Set("serverKP", Bytes([]byte{3, 4}))
	if diff := cmp.Diff(want, resp.Fields()); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePlistActivationRecord(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		acknowledged bool
		record       Value
		hasRecord    bool
	}{
		{
			name:         "acknowledged record",
			body:         ackRecordPlist,
			acknowledged: true,
			record:       Bytes([]byte(ackRecordPlist)),
			hasRecord:    true,
		},
		{
			name:      "new record",
			body:      newRecordPlist,
			record:    Bytes([]byte(newRecordPlist)),
			hasRecord: true,
		},
		{
			name: "legacy record",
			body: legacyRecordPlist,
			record: func() Value {
				f := NewFields()
				f.Set("DeviceCertificate", Bytes([]byte{1, 2}))
				return Nested(f)
			}(),
			hasRecord: true,
		},
		{
			name:         "legacy acknowledgment",
			body:         legacyAckPlist,
			acknowledged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewResponse([]byte(tt.body), []string{plistHeader})
			if err != nil {
				t.Fatalf("NewResponse() error = %v", err)
			}
			if resp.Acknowledged() != tt.acknowledged {
				t.Errorf("Acknowledged() = %v, want %v", resp.Acknowledged(), tt.acknowledged)
			}
			record, ok := resp.ActivationRecord()
			if ok != tt.hasRecord {
				t.Fatalf("ActivationRecord() present = %v, want %v", ok, tt.hasRecord)
			}
			if ok {
				if diff := cmp.Diff(tt.record, record); diff != "" {
					t.Errorf("ActivationRecord() mismatch (-want +got):\n%s", diff)
				}
			}
			if resp.Fields().Len() != 1 {
				t.Errorf("Fields().Len() = %d, want the full document", resp.Fields().Len())
			}
		})
	}
}

func TestParsePlistErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not a dictionary", `<plist version="1.0"><array/></plist>`},
		{"no activation node", `<plist version="1.0"><dict><key>foo</key><string>bar</string></dict></plist>`},
		{"legacy node without record", `<plist version="1.0"><dict><key>iphone-activation</key><dict><key>other</key><true/></dict></dict></plist>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResponse([]byte(tt.body), []string{plistHeader})
			if !errors.Is(err, ErrPlistParsing) {
				t.Errorf("NewResponse() error = %v, want %v", err, ErrPlistParsing)
			}
		})
	}
}

const buddyErrorPage = `<?xml version="1.0" encoding="UTF-8"?>
<xmlui>
	<navigationBar title="Activation Error"/>
	<page><navigationBar title="ignored"/></page>
</xmlui>`

const buddyLoginPage = `<?xml version="1.0" encoding="UTF-8"?>
<xmlui>
	<page>
		<navigationBar title="Activation Lock" hidesBackButton="false"/>
		<tableView>
			<section footer="This iPhone is linked to an Apple ID."/>
			<section>
				<editableTextRow id="login" label="Apple ID" placeholder="example@icloud.com"/>
				<editableTextRow id="password" label="Password" placeholder="required" secure="true"/>
			</section>
		</tableView>
	</page>
	<serverInfo isAuthRequired="true" activation-info-base64="YWJj"/>
</xmlui>`

func TestParseBuddyMLErrorPage(t *testing.T) {
	resp, err := NewResponse([]byte(buddyErrorPage), []string{buddyMLHeader})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}
	if !resp.HasErrors() {
		t.Error("Expected HasErrors() to be true")
	}
	if resp.Title() != "Activation Error" {
		t.Errorf("Title() = %v, want %v", resp.Title(), "Activation Error")
	}
	if resp.Fields().Len() != 0 {
		t.Errorf("Fields().Len() = %d, want 0", resp.Fields().Len())
	}
}

func TestParseBuddyMLLoginPage(t *testing.T) {
	resp, err := NewResponse([]byte(buddyLoginPage), []string{buddyMLHeader})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}

	if resp.HasErrors() {
		t.Error("Expected HasErrors() to be false")
	}
	if !resp.AuthRequired() {
		t.Error("Expected AuthRequired() to be true")
	}
	if resp.Title() != "Activation Lock" {
		t.Errorf("Title() = %v, want %v", resp.Title(), "Activation Lock")
	}
	if resp.Description() != "This iPhone is linked to an Apple ID." {
		t.Errorf("Description() = %q", resp.Description())
	}

	if diff := cmp.Diff([]string{"login", "password"}, resp.InputFields()); diff != "" {
		t.Errorf("InputFields() mismatch (-want +got):\n%s", diff)
	}
	if resp.IsSecureInput("login") {
		t.Error("Expected login not to be secure")
	}
	if !resp.IsSecureInput("password") || !resp.RequiresInput("password") {
		t.Error("Expected password to be a required secure input")
	}
	if label, _ := resp.Label("login"); label != "Apple ID" {
		t.Errorf("Label(login) = %v, want Apple ID", label)
	}
	if placeholder, _ := resp.Placeholder("password"); placeholder != "required" {
		t.Errorf("Placeholder(password) = %v, want required", placeholder)
	}

	want := NewFields()
	want.SetString("login", "")
	want.SetString("password", "")
	want.SetString("isAuthRequired", "true")
	want.SetString("activation-info-base64", "YWJj")
	if diff := cmp.Diff(want, resp.Fields()); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
	if resp.RequiresInput("isAuthRequired") {
		t.Error("Expected server info fields not to require input")
	}
}

func TestParseBuddyMLDescription(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name: "footer elements",
			body: `<xmlui><alert title="Notice"/><page><tableView>
				<section><footer>Line one</footer></section>
				<section><footer url="https://example.com">link</footer></section>
				<section><footer>Line two</footer></section>
			</tableView></page><serverInfo a="b"/></xmlui>`,
			expected: "Line one\nLine two",
		},
		{
			name: "footer attributes",
			body: `<xmlui><page><navigationBar title="T"/><tableView>
				<section footer="First"/>
				<section footer="Linked" footerLinkURL="https://example.com"/>
				<section footer="Second"/>
			</tableView></page><serverInfo a="b"/></xmlui>`,
			expected: "First\nSecond",
		},
		{
			name: "elements preferred over attributes",
			body: `<xmlui><page><navigationBar title="T"/><tableView>
				<section footer="Attribute"><footer>Element</footer></section>
			</tableView></page><serverInfo a="b"/></xmlui>`,
			expected: "Element",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewResponse([]byte(tt.body), []string{buddyMLHeader})
			if err != nil {
				t.Fatalf("NewResponse() error = %v", err)
			}
			if resp.Description() != tt.expected {
				t.Errorf("Description() = %q, want %q", resp.Description(), tt.expected)
			}
		})
	}
}

func TestParseBuddyMLOutcomes(t *testing.T) {
	t.Run("acknowledged", func(t *testing.T) {
		resp, err := NewResponse([]byte(`<xmlui><clientInfo ack-received="true"/></xmlui>`), []string{buddyMLHeader})
		if err != nil {
			t.Fatalf("NewResponse() error = %v", err)
		}
		if !resp.Acknowledged() {
			t.Error("Expected Acknowledged() to be true")
		}
	})

	t.Run("alert without fields has errors", func(t *testing.T) {
		resp, err := NewResponse([]byte(`<xmlui><alert title="Try again later"/></xmlui>`), []string{buddyMLHeader})
		if err != nil {
			t.Fatalf("NewResponse() error = %v", err)
		}
		if !resp.HasErrors() || resp.Title() != "Try again later" {
			t.Errorf("HasErrors() = %v, Title() = %q", resp.HasErrors(), resp.Title())
		}
	})

	errorCases := []struct {
		name string
		body string
	}{
		{"malformed", `<xmlui><page>`},
		{"empty", ``},
		{"no title", `<xmlui><page><tableView/></page></xmlui>`},
		{"row without id", `<xmlui><alert title="x"/><page><editableTextRow label="y"/></page></xmlui>`},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResponse([]byte(tt.body), []string{buddyMLHeader})
			if !errors.Is(err, ErrBuddyMLParsing) {
				t.Errorf("NewResponse() error = %v, want %v", err, ErrBuddyMLParsing)
			}
		})
	}
}

func TestParseHTML(t *testing.T) {
	embedded := func(plist string) string {
		return `<html><head><title>Activation</title>
<script type="text/x-apple-plist">` + plist + `</script></head><body></body></html>`
	}

	legacyRecord := NewFields()
	legacyRecord.Set("DeviceCertificate", Bytes([]byte{1, 2}))

	const modernPlist = `<plist version="1.0"><dict><key>ActivationRecord</key><dict><key>ack-received</key><true/><key>unbrick</key><true/></dict></dict></plist>`

	tests := []struct {
		name         string
		body         string
		authRequired bool
		acknowledged bool
		hasErrors    bool
		record       *Value
		bare         bool
	}{
		{
			name:         "auth marker",
			body:         `<html><head><title>Sign In</title></head><body><form><input type="hidden" name="isAuthRequired" value="true"><input name="login" value="x"></form></body></html>`,
			authRequired: true,
			bare:         true,
		},
		{
			name: "auth marker false",
			body: `<html><body><input type="hidden" name="isAuthRequired" value="false"></body></html>`,
			// no plist either
			hasErrors: true,
		},
		{
			name: "embedded legacy record",
			body: embedded(`<plist version="1.0"><dict><key>iphone-activation</key><dict><key>activation-record</key><dict><key>DeviceCertificate</key><data>AQI=</data></dict></dict></dict></plist>`),
			record: func() *Value {
				v := Nested(legacyRecord)
				return &v
			}(),
		},
		{
			name:         "embedded activation record",
			body:         embedded(modernPlist),
			acknowledged: true,
			record: func() *Value {
				v := Bytes([]byte(modernPlist))
				return &v
			}(),
		},
		{
			name:         "embedded acknowledgment",
			body:         embedded(`<plist version="1.0"><dict><key>iphone-activation</key><dict><key>ack-received</key><true/></dict></dict></plist>`),
			acknowledged: true,
		},
		{
			name:      "embedded plist without activation node",
			body:      embedded(`<plist version="1.0"><dict><key>foo</key><string>bar</string></dict></plist>`),
			hasErrors: true,
		},
		{
			name:      "embedded garbage",
			body:      embedded(`<plist version="1.0"><dict><key>foo</key></plist>`),
			hasErrors: true,
		},
		{
			name:      "no plist",
			body:      `<html><body><p>Hello</p></body></html>`,
			hasErrors: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewResponseFromHTML(tt.body)
			if err != nil {
				t.Fatalf("NewResponseFromHTML() error = %v", err)
			}
			if resp.AuthRequired() != tt.authRequired {
				t.Errorf("AuthRequired() = %v, want %v", resp.AuthRequired(), tt.authRequired)
			}
			if resp.Acknowledged() != tt.acknowledged {
				t.Errorf("Acknowledged() = %v, want %v", resp.Acknowledged(), tt.acknowledged)
			}
			if resp.HasErrors() != tt.hasErrors {
				t.Errorf("HasErrors() = %v, want %v", resp.HasErrors(), tt.hasErrors)
			}
			record, ok := resp.ActivationRecord()
			if ok != (tt.record != nil) {
				t.Fatalf("ActivationRecord() present = %v, want %v", ok, tt.record != nil)
			}
			if ok {
				if diff := cmp.Diff(*tt.record, record); diff != "" {
					t.Errorf("ActivationRecord() mismatch (-want +got):\n%s", diff)
				}
			}
			if tt.bare {
				if n := resp.Fields().Len(); n != 0 {
					t.Errorf("Fields().Len() = %d, want 0", n)
				}
				if len(resp.InputFields()) != 0 {
					t.Errorf("InputFields() = %v, want none", resp.InputFields())
				}
				if resp.Title() != "" || resp.Description() != "" {
					t.Errorf("Title() = %q, Description() = %q, want both empty", resp.Title(), resp.Description())
				}
			}
		})
	}
}

func TestParseHTMLEmpty(t *testing.T) {
	if _, err := NewResponseFromHTML(""); !errors.Is(err, ErrHTMLParsing) {
		t.Errorf("NewResponseFromHTML() error = %v, want %v", err, ErrHTMLParsing)
	}
}

func TestResponseRawIsCopy(t *testing.T) {
	resp, err := NewResponseFromHTML("<html></html>")
	if err != nil {
		t.Fatalf("NewResponseFromHTML() error = %v", err)
	}
	raw := resp.Raw()
	raw[0] = 'X'
	if string(resp.Raw()) != "<html></html>" {
		t.Errorf("Raw() = %q, expected an unmodified copy", resp.Raw())
	}
}
