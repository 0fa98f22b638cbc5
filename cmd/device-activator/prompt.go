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

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// terminalPrompter asks for server-requested fields on the controlling terminal.
// Secure fields are read without echo when stdin is a terminal and nothing is
// already buffered from it.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

func newTerminalPrompter() *terminalPrompter {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return &terminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  fd,
	}
}

// Notice shows the page the server sent with its field requests.
func (p *terminalPrompter) Notice(title, description string) {
	if title != "" {
		fmt.Fprintf(p.out, "Server reports: %s\n", title)
	}
	if description != "" {
		fmt.Fprintln(p.out, description)
	}
}

func (p *terminalPrompter) Prompt(field, label string, secure bool) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)

	if secure && p.fd >= 0 && p.in.Buffered() == 0 {
		value, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", field, err)
		}
		return string(value), nil
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", field, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
