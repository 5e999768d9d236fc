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

package resource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type item struct {
	ID int `json:"id"`
}

// fakeBackend 回傳 total 筆資料，依 page/page_size 切頁。
func fakeBackend(t *testing.T, total int, h func(w http.ResponseWriter, r *http.Request, page Page[item]) bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		p := Page[item]{Items: []item{}, Total: total}
		for i := (page - 1) * size; i < page*size && i < total; i++ {
			p.Items = append(p.Items, item{ID: i + 1})
		}
		if h != nil && h(w, r, p) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	}))
}

func newTestClient(t *testing.T, url string, size int) *Client {
	t.Helper()
	c, err := NewClient(url+"/api/", WithPageSize(size), WithToken("tkn"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestFetchAllPages(t *testing.T) {
	var calls atomic.Int32
	srv := fakeBackend(t, 25, func(w http.ResponseWriter, r *http.Request, _ Page[item]) bool {
		calls.Add(1)
		if r.URL.Path != "/api/agents" || r.Header.Get("Authorization") != "Bearer tkn" {
			http.Error(w, "bad request "+r.URL.Path, http.StatusBadRequest)
			return true
		}
		return false
	})
	defer srv.Close()

	var progress []int
	items, err := FetchAll[item](context.Background(), newTestClient(t, srv.URL, 10), "/agents", func(got, total int) {
		progress = append(progress, got)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 25 || items[24].ID != 25 {
		t.Fatalf("unexpected items: %d", len(items))
	}
	if calls.Load() != 3 || len(progress) != 3 || progress[2] != 25 {
		t.Fatalf("unexpected paging: calls=%d progress=%v", calls.Load(), progress)
	}
}

func TestFetchAllEmpty(t *testing.T) {
	srv := fakeBackend(t, 0, nil)
	defer srv.Close()
	items, err := FetchAll[item](context.Background(), newTestClient(t, srv.URL, 10), "agents", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", items)
	}
}

func TestFetchAllStopsOnShortServer(t *testing.T) {
	// total 宣稱 50 筆，實際只有 12 筆
	srv := fakeBackend(t, 12, func(w http.ResponseWriter, _ *http.Request, p Page[item]) bool {
		p.Total = 50
		_ = json.NewEncoder(w).Encode(p)
		return true
	})
	defer srv.Close()
	items, err := FetchAll[item](context.Background(), newTestClient(t, srv.URL, 5), "agents", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 12 {
		t.Fatalf("expected 12 items, got %d", len(items))
	}
}

func TestFetchAllPageFailureDropsPartial(t *testing.T) {
	srv := fakeBackend(t, 30, func(w http.ResponseWriter, r *http.Request, _ Page[item]) bool {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return true
		}
		return false
	})
	defer srv.Close()
	items, err := FetchAll[item](context.Background(), newTestClient(t, srv.URL, 10), "agents", nil)
	if items != nil {
		t.Fatalf("partial result must not be returned: %v", items)
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusInternalServerError || ue.Page != 2 {
		t.Fatalf("expected upstream error on page 2, got %v", err)
	}
}

func TestFetchPageDecodesCompressedBodies(t *testing.T) {
	for _, enc := range []string{"gzip", "zstd"} {
		srv := fakeBackend(t, 3, func(w http.ResponseWriter, _ *http.Request, p Page[item]) bool {
			w.Header().Set("Content-Encoding", enc)
			switch enc {
			case "gzip":
				gw := gzip.NewWriter(w)
				_ = json.NewEncoder(gw).Encode(p)
				_ = gw.Close()
			case "zstd":
				zw, _ := zstd.NewWriter(w)
				_ = json.NewEncoder(zw).Encode(p)
				_ = zw.Close()
			}
			return true
		})
		p, err := FetchPage[item](context.Background(), newTestClient(t, srv.URL, 10), "agents", 1)
		srv.Close()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", enc, err)
		}
		if len(p.Items) != 3 || p.Total != 3 {
			t.Fatalf("%s: unexpected page %+v", enc, p)
		}
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://x", "::bad", ""} {
		if _, err := NewClient(u); err == nil {
			t.Fatalf("%q: expected error", u)
		}
	}
	c, err := NewClient("http://x", WithPageSize(5000))
	if err != nil || c.PageSize() != MaxPageSize {
		t.Fatalf("page size should clamp, got %v %v", c, err)
	}
}

func TestLoaderSnapshotDistinguishesFailure(t *testing.T) {
	var fail atomic.Bool
	srv := fakeBackend(t, 0, func(w http.ResponseWriter, _ *http.Request, _ Page[item]) bool {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return true
		}
		return false
	})
	defer srv.Close()

	l := NewLoader[item]("agents", newTestClient(t, srv.URL, 10), "agents")
	if s := l.Snapshot(); s.Gen != 0 {
		t.Fatalf("fresh loader should have gen 0")
	}
	if _, err := l.Load(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := l.Snapshot(); s.Err != nil || len(s.Items) != 0 || s.Gen != 1 || s.Loading {
		t.Fatalf("expected empty success, got %+v", s)
	}

	fail.Store(true)
	if err := l.Refresh(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
	if s := l.Snapshot(); s.Err == nil || s.Items != nil || s.Gen != 2 {
		t.Fatalf("expected failed state, got %+v", s)
	}
}

func TestLoaderStaleLoadDoesNotOverwrite(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	srv := fakeBackend(t, 0, func(w http.ResponseWriter, _ *http.Request, p Page[item]) bool {
		// 第一次請求卡住，模擬較慢的舊世代
		if calls.Add(1) == 1 {
			<-release
			p.Items = []item{{ID: 999}}
			p.Total = 1
		} else {
			p.Items = []item{{ID: 1}}
			p.Total = 1
		}
		_ = json.NewEncoder(w).Encode(p)
		return true
	})
	defer srv.Close()

	l := NewLoader[item]("agents", newTestClient(t, srv.URL, 10), "agents")
	oldDone := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), nil)
		oldDone <- err
	}()

	// 等舊世代發出請求
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("old load never reached backend")
		}
		time.Sleep(time.Millisecond)
	}

	items, err := l.Load(context.Background(), nil)
	if err != nil || len(items) != 1 || items[0].ID != 1 {
		t.Fatalf("new load: %v %v", items, err)
	}
	close(release)

	if err := <-oldDone; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale from old load, got %v", err)
	}
	if s := l.Snapshot(); len(s.Items) != 1 || s.Items[0].ID != 1 || s.Gen != 2 {
		t.Fatalf("stale load overwrote snapshot: %+v", s)
	}
}

func TestLoaderWaitBlocksUntilCommit(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	srv := fakeBackend(t, 3, func(_ http.ResponseWriter, _ *http.Request, _ Page[item]) bool {
		if calls.Add(1) == 1 {
			<-release
		}
		return false
	})
	defer srv.Close()

	l := NewLoader[item]("agents", newTestClient(t, srv.URL, 10), "agents")
	if s, err := l.Wait(context.Background()); err != nil || s.Gen != 0 {
		t.Fatalf("idle loader should not block: %+v %v", s, err)
	}

	go func() { _, _ = l.Load(context.Background(), nil) }()
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("load never reached backend")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	if _, err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait to time out while loading, got %v", err)
	}
	cancel()

	close(release)
	s, err := l.Wait(context.Background())
	if err != nil || s.Gen != 1 || len(s.Items) != 3 || s.Loading {
		t.Fatalf("unexpected settled state %+v %v", s, err)
	}
}

type loadEvent struct {
	resource string
	items    int
	stale    bool
	failed   bool
}

type recObserver struct {
	mu     sync.Mutex
	events []loadEvent
}

func (o *recObserver) ObserveLoad(resource string, items int, _ time.Duration, stale bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, loadEvent{resource: resource, items: items, stale: stale, failed: err != nil})
}

func TestLoaderObserver(t *testing.T) {
	var fail atomic.Bool
	srv := fakeBackend(t, 7, func(w http.ResponseWriter, _ *http.Request, _ Page[item]) bool {
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return true
		}
		return false
	})
	defer srv.Close()

	obs := new(recObserver)
	l := NewLoader[item]("agents", newTestClient(t, srv.URL, 5), "agents", WithObserver(obs))
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fail.Store(true)
	_ = l.Refresh(context.Background())

	if len(obs.events) != 2 {
		t.Fatalf("expected 2 events, got %+v", obs.events)
	}
	if e := obs.events[0]; e.resource != "agents" || e.items != 7 || e.failed || e.stale {
		t.Fatalf("unexpected first event %+v", e)
	}
	if e := obs.events[1]; !e.failed || e.items != 0 {
		t.Fatalf("unexpected second event %+v", e)
	}
}
