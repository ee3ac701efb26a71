// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// DefaultSocket is where the daemon listens unless configured otherwise.
const DefaultSocket = "/run/ppd.socket"

// Config allows to customize client behavior.
type Config struct {
	// Socket is the path to the unix socket of the daemon.
	Socket string
}

type doer interface {
	Do(*http.Request) (*http.Response, error)
}

// A Client knows how to talk to the post-processing daemon.
type Client struct {
	doer doer
}

// New returns a new instance of Client
func New(config *Config) *Client {
	socket := DefaultSocket
	if config != nil && config.Socket != "" {
		socket = config.Socket
	}
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, "unix", socket)
	}
	return &Client{
		doer: &http.Client{Transport: &http.Transport{DialContext: dial}},
	}
}

// raw performs a request and returns the resulting http.Response and
// error you usually only need to call this directly if you expect the
// response to not be JSON, otherwise you'd call Do(...) instead.
func (client *Client) raw(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	// fake a url to keep http.Client happy
	u := url.URL{
		Scheme:   "http",
		Host:     "localhost",
		Path:     path,
		RawQuery: query.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return client.doer.Do(req)
}

// doSync performs a request to the given path using the specified HTTP
// method. It expects a "sync" response from the API and on success
// decodes the JSON response payload into the given value, unless it is
// nil.
func (client *Client) doSync(ctx context.Context, method, path string, query url.Values, in, v interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("cannot marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	rsp, err := client.raw(ctx, method, path, query, body)
	if err != nil {
		return fmt.Errorf("cannot communicate with server: %v", err)
	}
	defer rsp.Body.Close()

	var r response
	if err := json.NewDecoder(rsp.Body).Decode(&r); err != nil {
		return fmt.Errorf("cannot decode response (status %q): %v", rsp.Status, err)
	}
	if err := r.err(); err != nil {
		return err
	}
	if r.Type != "sync" {
		return fmt.Errorf("expected sync response, got %q", r.Type)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("cannot unmarshal: %v", err)
	}
	return nil
}

// A response produced by the REST API.
type response struct {
	Result     json.RawMessage `json:"result"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status-code"`
	Type       string          `json:"type"`
}

func (rsp *response) err() error {
	if rsp.Type != "error" {
		return nil
	}
	var resultErr Error
	err := json.Unmarshal(rsp.Result, &resultErr)
	if err != nil || resultErr.Message == "" {
		return fmt.Errorf("server error: %q", rsp.Status)
	}
	resultErr.StatusCode = rsp.StatusCode
	return &resultErr
}
