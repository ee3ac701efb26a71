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
	"net/http/httptest"

	"gopkg.in/check.v1"

	"github.com/snapcore/ppd/logger"
	"github.com/snapcore/ppd/pp"
)

type responseSuite struct{}

var _ = check.Suite(&responseSuite{})

func (s *responseSuite) TestSyncResponse(c *check.C) {
	rec := httptest.NewRecorder()
	SyncResponse(nil).ServeHTTP(rec, nil)

	c.Check(rec.Code, check.Equals, 200)
	c.Check(rec.Header().Get("Content-Type"), check.Equals, "application/json")
	c.Check(rec.Body.String(), check.Equals, `{"type":"sync","status":"OK","status-code":200,"result":null}`)
}

func (s *responseSuite) TestErrorResponder(c *check.C) {
	rec := httptest.NewRecorder()
	BadRequest("invalid %s %q", "id", "x").ServeHTTP(rec, nil)
	c.Check(rec.Code, check.Equals, 400)

	var rsp respJSON
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &rsp), check.IsNil)
	c.Check(rsp.Type, check.Equals, ResponseTypeError)
	c.Check(rsp.Result, check.DeepEquals, map[string]interface{}{"message": `invalid id "x"`})

	// a lone format is not interpreted
	rec = httptest.NewRecorder()
	NotFound("100% gone").ServeHTTP(rec, nil)
	c.Check(rec.Code, check.Equals, 404)
	c.Check(rec.Body.String(), check.Matches, `.*"message":"100% gone".*`)
}

func (s *responseSuite) TestInternalErrorIsLogged(c *check.C) {
	logbuf, restore := logger.MockLogger()
	defer restore()

	rec := httptest.NewRecorder()
	InternalError("boom").ServeHTTP(rec, nil)
	c.Check(rec.Code, check.Equals, 500)
	c.Check(logbuf.String(), check.Matches, `(?m).*internal error: boom`)
}

func (s *responseSuite) TestUnmarshalableResult(c *check.C) {
	logbuf, restore := logger.MockLogger()
	defer restore()

	rec := httptest.NewRecorder()
	SyncResponse(make(chan int)).ServeHTTP(rec, nil)
	c.Check(rec.Code, check.Equals, 500)
	c.Check(rec.Body.Len(), check.Equals, 0)
	c.Check(logbuf.String(), check.Matches, `(?s).*cannot marshal .* to JSON.*`)
}

func (s *responseSuite) TestErrToResponse(c *check.C) {
	logbuf, restore := logger.MockLogger()
	defer restore()

	for _, t := range []struct {
		err    error
		status int
		kind   ErrorKind
	}{
		{fmt.Errorf("%w: bad", pp.ErrInvalidArgument), http.StatusBadRequest, ErrorKindInvalidArgument},
		{fmt.Errorf("%w: bad", pp.ErrInvalidBuffer), http.StatusBadRequest, ErrorKindInvalidBuffer},
		{fmt.Errorf("%w: bad", pp.ErrInvalidSize), http.StatusBadRequest, ErrorKindInvalidSize},
		{&pp.NotFoundError{Kind: "job", ID: 3}, http.StatusNotFound, ErrorKindNotFound},
		{pp.ErrDisconnected, http.StatusNotFound, ErrorKindDisconnected},
		{&pp.StateError{PropID: 1, Control: pp.ControlPause, State: pp.StateIdle}, http.StatusConflict, ErrorKindInvalidState},
		{fmt.Errorf("pp0: %w", pp.ErrDeviceBusy), http.StatusServiceUnavailable, ErrorKindDeviceBusy},
		{pp.ErrTimeout, http.StatusServiceUnavailable, ErrorKindTimeout},
		{fmt.Errorf("%w: full", pp.ErrOutOfResources), http.StatusInsufficientStorage, ErrorKindOutOfResources},
	} {
		rsp := errToResponse(t.err).(*resp)
		c.Check(rsp.Status, check.Equals, t.status, check.Commentf("%v", t.err))
		c.Check(rsp.Type, check.Equals, ResponseTypeError)
		c.Check(rsp.Result, check.DeepEquals, &errorResult{Message: t.err.Error(), Kind: t.kind})
	}
	c.Check(logbuf.Len(), check.Equals, 0)

	rsp := errToResponse(errors.New("disk on fire")).(*resp)
	c.Check(rsp.Status, check.Equals, http.StatusInternalServerError)
	c.Check(rsp.Result, check.DeepEquals, &errorResult{Message: "disk on fire"})
}
