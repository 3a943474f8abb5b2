package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"pkt.systems/hyperspace/api"
)

// APIError describes a non-2xx reply from a master.
type APIError struct {
	// Status is the HTTP status code returned by the master.
	Status int
	// Response is the decoded error envelope, when available.
	Response api.ErrorResponse
	// Body contains the raw response body for diagnostics.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Response.Error != "" {
		if e.Response.Detail != "" {
			return fmt.Sprintf("hyperspace: %s (%s)", e.Response.Error, e.Response.Detail)
		}
		return "hyperspace: " + e.Response.Error
	}
	return fmt.Sprintf("hyperspace: status %d", e.Status)
}

func decodeError(resp *http.Response, data []byte) error {
	var errResp api.ErrorResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &errResp); err != nil {
			return &APIError{Status: resp.StatusCode, Body: data}
		}
	}
	return &APIError{Status: resp.StatusCode, Response: errResp, Body: data}
}
