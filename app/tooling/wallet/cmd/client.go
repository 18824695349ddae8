package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var client = http.Client{Timeout: 30 * time.Second}

// errorResponse is the body the node sends back on failure.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
	Data   string            `json:"data,omitempty"`
}

// call performs the request against the node and decodes the response into
// resp. A nil body sends no payload.
func call(method string, url string, body any, resp any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var er errorResponse
		if err := json.NewDecoder(res.Body).Decode(&er); err != nil {
			return fmt.Errorf("status %d", res.StatusCode)
		}
		if er.Data != "" {
			return fmt.Errorf("status %d: %s: data %s", res.StatusCode, er.Error, er.Data)
		}
		return fmt.Errorf("status %d: %s", res.StatusCode, er.Error)
	}

	if resp == nil {
		return nil
	}

	return json.NewDecoder(res.Body).Decode(resp)
}
