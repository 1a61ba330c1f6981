package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client talks to a running carelens server. Commands use it by default so they do not
// compete with the server for the Bleve and SQLite locks.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *client) getJSON(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, http.StatusOK, out)
}

func (c *client) postJSON(path string, in, out interface{}) error {
	return c.do(http.MethodPost, path, in, 0, out)
}

func (c *client) deleteJSON(path string, out interface{}) error {
	return c.do(http.MethodDelete, path, nil, http.StatusOK, out)
}

// do sends a request and decodes the JSON response into out. want == 0 accepts any 2xx.
func (c *client) do(method, path string, in interface{}, want int, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if (want != 0 && resp.StatusCode != want) || resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
