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
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const DefaultMaxRounds = 10

// State is a step of the activation negotiation.
type State int

const (
	StateStart State = iota
	StateSent
	StateNeedsFields
	StateAcknowledged
	StateHasRecord
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateSent:
		return "sent"
	case StateNeedsFields:
		return "needs_fields"
	case StateAcknowledged:
		return "acknowledged"
	case StateHasRecord:
		return "has_record"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateAcknowledged || s == StateHasRecord || s == StateFailed
}

// Prompter collects a value for a field the server asked for. Notice is called once
// per page, before the first Prompt, with the page title and description.
type Prompter interface {
	Notice(title, description string)
	Prompt(field, label string, secure bool) (string, error)
}

var errNoPrompter = errors.New("server requested input but no prompter is configured")

// Session drives request/response rounds until the device is acknowledged, a record
// arrives, or the exchange fails.
type Session struct {
	ID        string
	MaxRounds int

	client   *Client
	prompter Prompter

	state    State
	request  *Request
	response *Response
	rounds   int
	err      error
}

func NewSession(client *Client, req *Request, prompter Prompter) *Session {
	return &Session{
		ID:        uuid.NewString(),
		MaxRounds: DefaultMaxRounds,
		client:    client,
		prompter:  prompter,
		state:     StateStart,
		request:   req,
	}
}

func (s *Session) State() State { return s.state }

// Response returns the most recent parsed response, if any.
func (s *Session) Response() *Response { return s.response }

func (s *Session) Err() error { return s.err }

// Rounds is the number of requests submitted so far.
func (s *Session) Rounds() int { return s.rounds }

// Run steps the session until it reaches a terminal state.
func (s *Session) Run(ctx context.Context) (*Response, error) {
	for !s.state.Terminal() {
		if err := ctx.Err(); err != nil {
			s.fail(err)
			break
		}
		s.Step(ctx)
	}
	return s.response, s.err
}

// Step performs a single transition.
func (s *Session) Step(ctx context.Context) {
	switch s.state {
	case StateStart:
		s.submit(ctx)
	case StateSent:
		s.evaluate()
	case StateNeedsFields:
		s.collect()
	}
}

func (s *Session) submit(ctx context.Context) {
	if s.MaxRounds > 0 && s.rounds >= s.MaxRounds {
		s.fail(fmt.Errorf("%w: %d", ErrTooManyRounds, s.rounds))
		return
	}
	s.rounds++

	log.WithFields(log.Fields{
		"session": s.ID,
		"round":   s.rounds,
		"url":     s.request.URL(),
		"mode":    s.request.Mode(),
	}).Info("submitting activation request")

	resp, err := s.client.Send(ctx, s.request)
	if err != nil {
		s.fail(err)
		return
	}
	s.response = resp
	s.transition(StateSent)
}

func (s *Session) evaluate() {
	resp := s.response
	switch {
	case resp.Acknowledged():
		s.transition(StateAcknowledged)
	case resp.HasErrors():
		s.fail(&ServerError{Title: resp.Title(), Description: resp.Description()})
	case resp.record != nil:
		s.transition(StateHasRecord)
	case resp.fields.Len() == 0:
		if resp.AuthRequired() {
			s.fail(fmt.Errorf("%w: server requires authentication", ErrNoProgress))
			return
		}
		s.fail(ErrNoProgress)
	default:
		s.transition(StateNeedsFields)
	}
}

// collect prompts for every input field and builds the next request from the response
// fields, keeping the previous request's URL and client identity.
func (s *Session) collect() {
	resp := s.response
	next := NewRequest(s.request.Client())
	if err := next.SetURL(s.request.URL()); err != nil {
		s.fail(err)
		return
	}
	if err := next.SetFieldsFromResponse(resp); err != nil {
		s.fail(err)
		return
	}

	inputs := resp.InputFields()
	if len(inputs) > 0 && s.prompter == nil {
		s.fail(errNoPrompter)
		return
	}
	if len(inputs) > 0 && (resp.Title() != "" || resp.Description() != "") {
		s.prompter.Notice(resp.Title(), resp.Description())
	}
	for _, key := range inputs {
		label, ok := resp.Label(key)
		if !ok {
			label = key
		}
		value, err := s.prompter.Prompt(key, label, resp.IsSecureInput(key))
		if err != nil {
			s.fail(fmt.Errorf("failed to read %s: %w", key, err))
			return
		}
		if err := next.SetField(key, value); err != nil {
			s.fail(err)
			return
		}
	}

	s.request = next
	s.transition(StateStart)
}

func (s *Session) fail(err error) {
	s.err = err
	log.WithField("session", s.ID).Warnf("activation failed: %v", err)
	s.transition(StateFailed)
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	log.WithField("session", s.ID).Debugf("state %s -> %s", from, to)
	if s.client != nil && s.client.observer != nil {
		s.client.observer.StateChanged(s.ID, from, to)
	}
}
