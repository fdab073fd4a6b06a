// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package gateway

import (
	"encoding/json"
	"strings"

	"github.com/samber/oops"
)

// Frame is the JSON envelope of every WebSocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MsgMalformedFrame is sent when an inbound message is not a valid frame.
const MsgMalformedFrame = "Malformed message."

// parseFrame decodes an inbound message.
func parseFrame(msg []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, oops.Code(CodeMalformedFrame).Wrap(err)
	}
	if strings.TrimSpace(f.Event) == "" {
		return Frame{}, oops.Code(CodeMalformedFrame).Errorf("frame has no event name")
	}
	return f, nil
}

// encodeFrame builds an outbound message. A nil payload is sent as JSON null.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, oops.With("event", event).Wrapf(err, "marshal payload")
	}
	out, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, oops.With("event", event).Wrapf(err, "marshal frame")
	}
	return out, nil
}
