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
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	log "github.com/sirupsen/logrus"
)

var (
	htmlAuthMarker  = xpath.MustCompile("//input[@name='isAuthRequired' and @value='true']")
	htmlPlistScript = xpath.MustCompile("//script[@type='text/x-apple-plist']")
)

func (r *Response) parseHTML() error {
	if r.contentType != HTMLContent {
		return ErrUnknownContentType
	}
	if len(bytes.TrimSpace(r.raw)) == 0 {
		return fmt.Errorf("%w: empty document", ErrHTMLParsing)
	}

	doc, err := htmlquery.Parse(bytes.NewReader(r.raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHTMLParsing, err)
	}

	if htmlquery.QuerySelector(doc, htmlAuthMarker) != nil {
		r.authRequired = true
		return nil
	}

	for _, script := range htmlquery.QuerySelectorAll(doc, htmlPlistScript) {
		embedded, ok := extractPlistElement(htmlquery.InnerText(script))
		if !ok {
			continue
		}
		if err := r.reduceEmbeddedPlist([]byte(embedded)); err != nil {
			log.Debugf("embedded plist rejected: %v", err)
			r.hasErrors = true
		}
		return nil
	}

	r.hasErrors = true
	return nil
}

func (r *Response) reduceEmbeddedPlist(data []byte) error {
	doc, err := parsePlistDict(data)
	if err != nil {
		return err
	}
	return r.reduceActivation(doc, data)
}

// extractPlistElement returns the first <plist ...>...</plist> element in a script body.
func extractPlistElement(text string) (string, bool) {
	start := strings.Index(text, "<plist")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(text, "</plist>")
	if end < start {
		return "", false
	}
	return text[start : end+len("</plist>")], true
}
