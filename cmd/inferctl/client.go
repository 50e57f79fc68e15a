package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inferd/pkg/types"
)

// client is a thin HTTP wrapper around the daemon API.
type client struct {
	base string
	hc   *http.Client
}

func newClient(base string) *client {
	base = strings.TrimRight(base, "/")
	// Generate calls can run for minutes; downloads longer. No client-side
	// deadline, Ctrl+C is the cancel path.
	return &client{base: base, hc: &http.Client{Timeout: 0}}
}

func (c *client) getJSON(path string, dst any) error {
	resp, err := c.hc.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *client) del(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

func (c *client) postJSON(path string, body, dst any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.hc.Post(c.base+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// postStream POSTs body and invokes onLine for every NDJSON line.
func (c *client) postStream(path string, body any, onLine func([]byte) error) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.hc.Post(c.base+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// Mid-stream errors arrive as a JSON object with an error field.
		var apiErr types.ErrorResponse
		if json.Unmarshal(line, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, apiErr.Code)
		}
		if err := onLine(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr types.ErrorResponse
	if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func fmtETA(sec float64) string {
	if sec <= 0 {
		return "--"
	}
	return time.Duration(sec * float64(time.Second)).Truncate(time.Second).String()
}
