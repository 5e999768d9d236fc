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

package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zintix-labs/agenttree/dto"
	"github.com/zintix-labs/agenttree/errs"
	"github.com/zintix-labs/agenttree/resource"
	"github.com/zintix-labs/agenttree/server/httperr"
	"github.com/zintix-labs/agenttree/server/netsvr"
	"github.com/zintix-labs/agenttree/server/svrcfg"
)

// ============================================================
// ** TreeHandler **
// ============================================================

// TreeHandler 提供設定檔中各資源（agents / users ...）的攤平結果。
type TreeHandler struct {
	loaders map[string]*resource.Loader[dto.Account]
	timeout time.Duration
	log     *slog.Logger
}

func NewTreeHandler(sCfg *svrcfg.SvrCfg) (*TreeHandler, error) {
	if sCfg == nil || sCfg.Loaders == nil {
		return nil, errs.NewFatal("tree handler requires loaders")
	}
	timeout := sCfg.RequestTimeout
	if timeout <= 0 {
		timeout = svrcfg.DefaultRequestTimeout
	}
	return &TreeHandler{loaders: sCfg.Loaders, timeout: timeout, log: sCfg.Log}, nil
}

// Tree : GET /v1/tree/{resource}?format=json|yaml|text&orphans=flat|nested&refresh=1&width=n
func (h *TreeHandler) Tree(w http.ResponseWriter, r *http.Request) {
	q, err := dto.DecodeTreeQuery(r)
	if err != nil {
		httperr.Errs(w, err)
		return
	}
	name := netsvr.URLParam(r, "resource")
	snap, err := h.load(r.Context(), name, q.Refresh)
	if err != nil {
		httperr.Log(h.log, "tree.load", err)
		httperr.Errs(w, err)
		return
	}

	res := dto.NewTreeResult(name, snap.Items, q.Orphans)
	setSnapHeaders(w, snap)
	write(w, r, q.Format, func(b io.Writer) error {
		return dto.WriteTree(b, q.Format, res, q.Width)
	})
}

// Summary : GET /v1/tree/{resource}/summary
func (h *TreeHandler) Summary(w http.ResponseWriter, r *http.Request) {
	q, err := dto.DecodeTreeQuery(r)
	if err != nil {
		httperr.Errs(w, err)
		return
	}
	name := netsvr.URLParam(r, "resource")
	snap, err := h.load(r.Context(), name, q.Refresh)
	if err != nil {
		httperr.Log(h.log, "tree.summary", err)
		httperr.Errs(w, err)
		return
	}

	res := dto.NewTreeResult(name, snap.Items, q.Orphans)
	setSnapHeaders(w, snap)
	write(w, r, q.Format, func(b io.Writer) error {
		return dto.WriteSummary(b, q.Format, &res.Summary)
	})
}

// ResourceStatus 是 GET /v1/resources 的一筆。
type ResourceStatus struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Gen      uint64     `json:"gen"`
	Loading  bool       `json:"loading"`
	Count    int        `json:"count"`
	Error    string     `json:"error,omitempty"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

// Resources : GET /v1/resources，列出已設定的資源與其快照狀態（不觸發載入）。
func (h *TreeHandler) Resources(w http.ResponseWriter, r *http.Request) {
	out := make([]ResourceStatus, 0, len(h.loaders))
	for name, l := range h.loaders {
		s := l.Snapshot()
		st := ResourceStatus{Name: name, Path: l.Path(), Gen: s.Gen, Loading: s.Loading, Count: len(s.Items)}
		if s.Err != nil {
			st.Error = s.Err.Error()
		}
		if !s.LoadedAt.IsZero() {
			at := s.LoadedAt.UTC()
			st.LoadedAt = &at
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	write(w, r, dto.FormatJSON, func(b io.Writer) error {
		return json.NewEncoder(b).Encode(out)
	})
}

// load 回傳可用的快照：從未載入或要求 refresh 時先向後端拉取。
//   - 拉取與請求脫鉤，客戶端斷線不會把共用快照變成失敗狀態。
//   - 從未載入完成，或本次載入被較新世代取代（ErrStale）時，等待進行中的載入提交。
//   - 等完仍沒有任何世代時回 ErrNotReady（503），不回空清單。
//   - 快照為失敗狀態時回傳其錯誤，讓呼叫端回 502。
func (h *TreeHandler) load(ctx context.Context, name string, refresh bool) (resource.State[dto.Account], error) {
	l, ok := h.loaders[name]
	if !ok {
		return resource.State[dto.Account]{}, errs.WrapWithExtra(httperr.ErrNotFound, "unknown resource", name)
	}
	snap := l.Snapshot()
	stale := false
	if refresh || (snap.Gen == 0 && !snap.Loading) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		_, err := l.Load(lctx, nil)
		cancel()
		switch {
		case errors.Is(err, resource.ErrStale):
			stale = true
		case err != nil:
			return l.Snapshot(), err
		}
		snap = l.Snapshot()
	}
	if snap.Gen == 0 || stale {
		wctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		var err error
		if snap, err = l.Wait(wctx); err != nil {
			return snap, err
		}
		if snap.Gen == 0 {
			return snap, errs.WrapWithExtra(httperr.ErrNotReady, "resource not loaded", name)
		}
	}
	if snap.Err != nil {
		return snap, snap.Err
	}
	return snap, nil
}

func setSnapHeaders(w http.ResponseWriter, snap resource.State[dto.Account]) {
	w.Header().Set("X-Tree-Generation", strconv.FormatUint(snap.Gen, 10))
	if !snap.LoadedAt.IsZero() {
		w.Header().Set("Last-Modified", snap.LoadedAt.UTC().Format(http.TimeFormat))
	}
}

// write 先寫進記憶體再送出，避免編碼到一半失敗時回應已是 200。
// ETag 取 body 的 xxhash；回應可能被壓縮，因此標為 weak。
func write(w http.ResponseWriter, r *http.Request, f dto.Format, fn func(io.Writer) error) {
	var b bytes.Buffer
	if err := fn(&b); err != nil {
		httperr.Errs(w, errs.Wrap(err, "encode response"))
		return
	}
	etag := fmt.Sprintf(`W/"%016x"`, xxhash.Sum64(b.Bytes()))
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatch(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Bytes())
}

func etagMatch(header, etag string) bool {
	for _, v := range strings.Split(header, ",") {
		v = strings.TrimSpace(v)
		if v == "*" || strings.TrimPrefix(v, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
