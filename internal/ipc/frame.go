// Package ipc carries commands and responses between worker clusters through
// a websocket broker. The broker relays every frame it receives to the other
// connected clusters; it keeps no state beyond the client registry.
package ipc

import (
	"encoding/json"
)

const (
	TypeCommand  = "command"
	TypeResponse = "response"

	// CloseDuplicateName is the close code sent to a cluster whose name is
	// already connected.
	CloseDuplicateName = 4029
)

// Frame is the JSON object exchanged after the handshake. Callback is set on
// commands that expect responses and echoed by every response to them.
type Frame struct {
	Type     string          `json:"type"`
	Name     string          `json:"name,omitempty"`
	Data     json.RawMessage `json:"data"`
	Respond  bool            `json:"respond"`
	Callback *string         `json:"callback"`
	Author   string          `json:"author"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

type handshakeStatus struct {
	Status string `json:"status"`
}

var statusOK = []byte(`{"status":"ok"}`)

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
