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
	"fmt"
)

// Device is the collaborator that supplies identity values and applies the outcome.
type Device interface {
	DeviceInfo

	// Activate installs record. headers are the response headers of the exchange that
	// produced it; they are only meaningful for session-based activation.
	Activate(record Value, headers map[string]string) error
	SetAcknowledged() error
	Deactivate() error

	// ActivationSessionInfo returns the DRM handshake payload, or an error when the
	// device does not support session-based activation.
	ActivationSessionInfo() (*Fields, error)
	ActivationInfoWithSession(handshake *Fields) (Value, error)
}

// Handshake performs the DRM handshake and returns the activation request built from
// the session-bound activation info.
func Handshake(ctx context.Context, client *Client, clientType ClientType, dev Device) (*Request, error) {
	info, err := dev.ActivationSessionInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read activation session info: %w", err)
	}

	req := NewHandshakeRequest(clientType)
	if err := req.SetFields(info); err != nil {
		return nil, err
	}

	resp, err := client.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("drm handshake: %w", err)
	}
	if !resp.fields.Has(handshakeKey) {
		return nil, fmt.Errorf("%w: handshake reply without %s", ErrPlistParsing, handshakeKey)
	}

	activationInfo, err := dev.ActivationInfoWithSession(resp.Fields())
	if err != nil {
		return nil, fmt.Errorf("failed to create activation info: %w", err)
	}
	if activationInfo.Kind() != NestedKind {
		return nil, fmt.Errorf("%w: session activation info is %s", ErrIncompleteInfo, activationInfo.Kind())
	}

	fields := NewFields()
	fields.Set("activation-info", activationInfo)

	activate := NewRequest(clientType)
	if err := activate.SetFields(fields); err != nil {
		return nil, err
	}
	return activate, nil
}
