package api

import (
	"encoding/json"
	"fmt"
)

// Codec converts keepalive messages to and from their wire form.
type Codec interface {
	EncodeKeepalive(req KeepaliveRequest) ([]byte, error)
	DecodeKeepalive(payload []byte) (KeepaliveResponse, error)
}

// JSONCodec is the default Codec used by the HTTP transport.
type JSONCodec struct{}

// EncodeKeepalive marshals req as JSON.
func (JSONCodec) EncodeKeepalive(req KeepaliveRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("api: encode keepalive: %w", err)
	}
	return data, nil
}

// DecodeKeepalive unmarshals a keepalive response.
func (JSONCodec) DecodeKeepalive(payload []byte) (KeepaliveResponse, error) {
	var resp KeepaliveResponse
	if len(payload) == 0 {
		return resp, fmt.Errorf("api: decode keepalive: empty payload")
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return resp, fmt.Errorf("api: decode keepalive: %w", err)
	}
	return resp, nil
}
