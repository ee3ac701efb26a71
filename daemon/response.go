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

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/pp"
)

// ResponseType is the response type
type ResponseType string

// there are two types of response: a standard return value, or an
// error, each returning a JSON object with the following "type" field
const (
	ResponseTypeSync  ResponseType = "sync"
	ResponseTypeError ResponseType = "error"
)

// Response knows how to serve itself.
type Response interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

type resp struct {
	Type   ResponseType
	Status int
	Result interface{}
}

type respJSON struct {
	Type       ResponseType `json:"type"`
	Status     string       `json:"status"`
	StatusCode int          `json:"status-code"`
	Result     interface{}  `json:"result"`
}

func (r *resp) MarshalJSON() ([]byte, error) {
	return json.Marshal(respJSON{
		Type:       r.Type,
		Status:     http.StatusText(r.Status),
		StatusCode: r.Status,
		Result:     r.Result,
	})
}

func (r *resp) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := r.Status
	bs, err := r.MarshalJSON()
	if err != nil {
		logger.Noticef("cannot marshal %#v to JSON: %v", *r, err)
		bs = nil
		status = http.StatusInternalServerError
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(bs)
}

// ErrorKind distinguishes errors with the same status code.
type ErrorKind string

const (
	ErrorKindInvalidArgument ErrorKind = "invalid-argument"
	ErrorKindInvalidBuffer   ErrorKind = "invalid-buffer"
	ErrorKindInvalidSize     ErrorKind = "invalid-size"
	ErrorKindNotFound        ErrorKind = "not-found"
	ErrorKindInvalidState    ErrorKind = "invalid-state"
	ErrorKindDeviceBusy      ErrorKind = "device-busy"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindOutOfResources  ErrorKind = "out-of-resources"
	ErrorKindDisconnected    ErrorKind = "disconnected"
)

type errorResult struct {
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// SyncResponse builds a "sync" response from the given result.
func SyncResponse(result interface{}) Response {
	return &resp{
		Type:   ResponseTypeSync,
		Status: http.StatusOK,
		Result: result,
	}
}

func makeErrorResponder(status int) errorResponder {
	return func(format string, v ...interface{}) Response {
		res := &errorResult{}
		if len(v) == 0 {
			res.Message = format
		} else {
			res.Message = fmt.Sprintf(format, v...)
		}
		if status == http.StatusInternalServerError {
			logger.Noticef("internal error: %s", res.Message)
		}
		return &resp{
			Type:   ResponseTypeError,
			Result: res,
			Status: status,
		}
	}
}

// errorResponder is a callable error Response.
type errorResponder func(string, ...interface{}) Response

// standard error responses
var (
	NotFound       = makeErrorResponder(http.StatusNotFound)
	BadRequest     = makeErrorResponder(http.StatusBadRequest)
	BadMethod      = makeErrorResponder(http.StatusMethodNotAllowed)
	Forbidden      = makeErrorResponder(http.StatusForbidden)
	InternalError  = makeErrorResponder(http.StatusInternalServerError)
	NotImplemented = makeErrorResponder(http.StatusNotImplemented)
)

var errorStatus = []struct {
	err    error
	status int
	kind   ErrorKind
}{
	{pp.ErrInvalidArgument, http.StatusBadRequest, ErrorKindInvalidArgument},
	{pp.ErrInvalidBuffer, http.StatusBadRequest, ErrorKindInvalidBuffer},
	{pp.ErrInvalidSize, http.StatusBadRequest, ErrorKindInvalidSize},
	{pp.ErrNotFound, http.StatusNotFound, ErrorKindNotFound},
	{pp.ErrDisconnected, http.StatusNotFound, ErrorKindDisconnected},
	{pp.ErrInvalidState, http.StatusConflict, ErrorKindInvalidState},
	{pp.ErrDeviceBusy, http.StatusServiceUnavailable, ErrorKindDeviceBusy},
	{pp.ErrTimeout, http.StatusServiceUnavailable, ErrorKindTimeout},
	{pp.ErrOutOfResources, http.StatusInsufficientStorage, ErrorKindOutOfResources},
}

// errToResponse turns an error from the manager into the matching error
// response.
func errToResponse(err error) Response {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return &resp{
				Type:   ResponseTypeError,
				Status: e.status,
				Result: &errorResult{Message: err.Error(), Kind: e.kind},
			}
		}
	}
	return InternalError("%v", err)
}
