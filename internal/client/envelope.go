package client

import (
	"encoding/json"
	"io"
)

// envelope is the {success, data} wrapper every internal service responds
// with. Payloads live under data; success=false means the service handled
// the request but has nothing to return.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// decodeEnvelope unwraps the response body into out. Returns (false, nil)
// when the service reported success=false or sent no data.
func decodeEnvelope(body io.Reader, out any) (bool, error) {
	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return false, err
	}
	if !env.Success || len(env.Data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, err
	}
	return true, nil
}
