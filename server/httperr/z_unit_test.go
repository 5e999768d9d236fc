// Copyright 2025 Zintix Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zintix-labs/agenttree/errs"
	"github.com/zintix-labs/agenttree/resource"
)

func TestStatusCode(t *testing.T) {
	upstream := &resource.UpstreamError{Path: "agents", Page: 2, Status: 500, Err: errors.New("boom")}
	cases := []struct {
		err  error
		want int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", context.Canceled), http.StatusRequestTimeout},
		{upstream, http.StatusBadGateway},
		{errs.Wrap(upstream, "load agents"), http.StatusBadGateway},
		{ErrNotFound, http.StatusNotFound},
		{errs.WrapWithExtra(ErrNotReady, "resource not loaded", "agents"), http.StatusServiceUnavailable},
		{errs.Warnf("bad orphans %q", "x"), http.StatusBadRequest},
		{errs.NewFatal("broken"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := StatusCode(c.err); got != c.want {
			t.Fatalf("StatusCode(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func TestErrsWritesJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Errs(rec, errs.Warnf("invalid format %q", "xml"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var b body
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil || b.Status != 400 || b.Error == "" {
		t.Fatalf("unexpected body %q: %v", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	Errs(rec, nil)
	if rec.Body.Len() != 0 {
		t.Fatalf("nil error must not write")
	}
}
