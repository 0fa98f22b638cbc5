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

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

var (
	buddyErrorBar     = xpath.MustCompile("/xmlui/navigationBar[@title]")
	buddyAck          = xpath.MustCompile("//clientInfo[@ack-received='true']")
	buddyAlert        = xpath.MustCompile("/xmlui/alert[@title]")
	buddyPageBar      = xpath.MustCompile("/xmlui/page/navigationBar[@title]")
	buddyFooters      = xpath.MustCompile("/xmlui/page/tableView/section/footer[not(@url)]")
	buddyFooterAttrs  = xpath.MustCompile("/xmlui/page/tableView/section[@footer and not(@footerLinkURL)]")
	buddyEditableRows = xpath.MustCompile("/xmlui/page//editableTextRow")
	buddyServerInfo   = xpath.MustCompile("/xmlui/serverInfo")
)

const authRequiredAttr = "isAuthRequired"

func (r *Response) parseBuddyML() error {
	if r.contentType != BuddyMLContent {
		return ErrUnknownContentType
	}

	doc, err := xmlquery.Parse(bytes.NewReader(r.raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuddyMLParsing, err)
	}

	if bar := xmlquery.QuerySelector(doc, buddyErrorBar); bar != nil {
		r.title = bar.SelectAttr("title")
		r.hasErrors = true
		return nil
	}

	if xmlquery.QuerySelector(doc, buddyAck) != nil {
		r.acknowledged = true
		return nil
	}

	if alert := xmlquery.QuerySelector(doc, buddyAlert); alert != nil {
		r.title = alert.SelectAttr("title")
	} else if bar := xmlquery.QuerySelector(doc, buddyPageBar); bar != nil {
		r.title = bar.SelectAttr("title")
	} else {
		return fmt.Errorf("%w: no title in document", ErrBuddyMLParsing)
	}

	r.description = buddyDescription(doc)

	for _, row := range xmlquery.QuerySelectorAll(doc, buddyEditableRows) {
		id := row.SelectAttr("id")
		if id == "" {
			return fmt.Errorf("%w: editableTextRow without id", ErrBuddyMLParsing)
		}
		r.addField(id, "", true)
		if row.SelectAttr("secure") == "true" {
			r.secureInput[id] = true
		}
		if label := row.SelectAttr("label"); label != "" {
			r.labels[id] = label
		}
		if placeholder := row.SelectAttr("placeholder"); placeholder != "" {
			r.placeholders[id] = placeholder
		}
	}

	for _, info := range xmlquery.QuerySelectorAll(doc, buddyServerInfo) {
		for _, attr := range info.Attr {
			if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
				continue
			}
			if attr.Name.Local == authRequiredAttr {
				r.authRequired = true
			}
			r.addField(attr.Name.Local, attr.Value, false)
		}
	}

	if r.fields.Len() == 0 {
		r.hasErrors = true
	}
	return nil
}

// buddyDescription joins section footers, preferring footer elements over footer attributes.
func buddyDescription(doc *xmlquery.Node) string {
	var lines []string
	for _, footer := range xmlquery.QuerySelectorAll(doc, buddyFooters) {
		lines = append(lines, footer.InnerText())
	}
	if len(lines) == 0 {
		for _, section := range xmlquery.QuerySelectorAll(doc, buddyFooterAttrs) {
			lines = append(lines, section.SelectAttr("footer"))
		}
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
