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

package netsvr

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const DefaultAddr string = ":5808"

// Timeouts 是 http.Server 的逾時設定；零值欄位採預設。
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

func (t Timeouts) norm() Timeouts {
	if t.Read <= 0 {
		t.Read = 10 * time.Second
	}
	if t.Write <= 0 {
		// 整條線從後端拉完再攤平，寫入期限比一般 API 寬
		t.Write = 30 * time.Second
	}
	if t.Idle <= 0 {
		t.Idle = 120 * time.Second
	}
	return t
}

// ChiAdapter 以 chi 實作 NetSvr，handler / middleware 皆為標準 net/http 介面。
type ChiAdapter struct {
	router chi.Router
	server *http.Server
	addr   string
}

// NewChiServer 建立監聽 addr 的 ChiAdapter；addr 為空時使用 DefaultAddr。
func NewChiServer(addr string, to Timeouts) *ChiAdapter {
	if addr == "" {
		addr = DefaultAddr
	}
	to = to.norm()
	cr := chi.NewRouter()
	return &ChiAdapter{
		router: cr,
		server: &http.Server{
			Addr:         addr,
			Handler:      cr,
			ReadTimeout:  to.Read,
			WriteTimeout: to.Write,
			IdleTimeout:  to.Idle,
		},
		addr: addr,
	}
}

// -----------------------------------------------------------------------------
//  NetSvr / app.Component
// -----------------------------------------------------------------------------

func (c *ChiAdapter) Ready() bool {
	return (c != nil) && (c.router != nil) && (c.server != nil) &&
		strings.Contains(c.addr, ":") &&
		(c.server.Handler != nil) && (c.server.Handler == c.router)
}

// Run 阻塞直到 server 關閉；正常 Shutdown 不視為錯誤。
func (c *ChiAdapter) Run() error {
	if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (c *ChiAdapter) Shutdown(ctx context.Context) error {
	return c.server.Shutdown(ctx)
}

func (c *ChiAdapter) Use(mw func(http.Handler) http.Handler) {
	c.router.Use(mw)
}

func (c *ChiAdapter) Get(path string, h http.HandlerFunc) {
	c.router.Get(path, h)
}

func (c *ChiAdapter) Post(path string, h http.HandlerFunc) {
	c.router.Post(path, h)
}

func (c *ChiAdapter) NotFound(h http.HandlerFunc) {
	c.router.NotFound(h)
}

func (c *ChiAdapter) Group(path string, fn func(subRouter NetRouter)) {
	c.router.Route(path, func(r chi.Router) {
		fn(&ChiAdapter{router: r})
	})
}

// -----------------------------------------------------------------------------
//  其他公開方法
// -----------------------------------------------------------------------------

func (c *ChiAdapter) Address() string {
	return c.addr
}

// Handler 讓測試可以直接掛到 httptest.Server。
func (c *ChiAdapter) Handler() http.Handler {
	return c.router
}

// URLParam 取得 chi 路由參數，例如 /v1/tree/{resource}。
func URLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
