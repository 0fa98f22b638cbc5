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
	"strings"
)

var (
	ErrIncompleteInfo       = errors.New("activation: incomplete device info")
	ErrUnknownContentType   = errors.New("activation: unknown content type")
	ErrBuddyMLParsing       = errors.New("activation: buddyml parsing error")
	ErrPlistParsing         = errors.New("activation: plist parsing error")
	ErrHTMLParsing          = errors.New("activation: html parsing error")
	ErrUnsupportedFieldType = errors.New("activation: unsupported field type")
	ErrInternal             = errors.New("activation: internal error")

	ErrNoProgress    = errors.New("activation: response carried no record, acknowledgment or fields")
	ErrTooManyRounds = errors.New("activation: too many negotiation rounds")
)

// ServerError reports a response the activation service flagged as an error.
type ServerError struct {
	Title       string
	Description string
}

func (e *ServerError) Error() string {
	parts := []string{"activation server reports errors"}
	if e.Title != "" {
		parts = append(parts, e.Title)
	}
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	return strings.Join(parts, ": ")
}
