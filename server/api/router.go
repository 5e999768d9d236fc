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

package api

import (
	"net/http"

	v1 "github.com/zintix-labs/agenttree/server/api/v1"
	"github.com/zintix-labs/agenttree/server/httperr"
	"github.com/zintix-labs/agenttree/server/netsvr"
	"github.com/zintix-labs/agenttree/server/netsvr/middleware"
	"github.com/zintix-labs/agenttree/server/svrcfg"
)

// RegisterRoutes 註冊 middleware 與所有路由。
func RegisterRoutes(svr netsvr.NetRouter, sCfg *svrcfg.SvrCfg) error {
	registerMiddleware(svr, sCfg)   // 1. 註冊 middleware
	registerHealth(svr, sCfg)       // 2. 健康檢查與指標
	return registerV1API(svr, sCfg) // 3. 註冊 v1 api
}

// 註冊 middleware；Recover 在 AccessLog 內側，panic 轉成的 500 也會被記錄
func registerMiddleware(svr netsvr.NetRouter, sCfg *svrcfg.SvrCfg) {
	svr.Use(middleware.RequestID)
	svr.Use(middleware.AccessLog(sCfg.Log))
	if sCfg.Metrics != nil {
		svr.Use(sCfg.Metrics.Middleware)
	}
	svr.Use(middleware.Recover(sCfg.Log))
	svr.Use(middleware.Compression)
}

func registerHealth(svr netsvr.NetRouter, sCfg *svrcfg.SvrCfg) {
	if sCfg.Metrics != nil {
		svr.Get("/metrics", sCfg.Metrics.Handler().ServeHTTP)
	}
	svr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	svr.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperr.Errs(w, httperr.ErrNotFound)
	})
}

// 註冊 v1 api
func registerV1API(svr netsvr.NetRouter, sCfg *svrcfg.SvrCfg) error {
	th, err := v1.NewTreeHandler(sCfg)
	if err != nil {
		return err
	}
	svr.Group("/v1", func(vOne netsvr.NetRouter) {
		vOne.Post("/flatten", v1.Flatten)

		vOne.Get("/resources", th.Resources)
		vOne.Get("/tree/{resource}", th.Tree)
		vOne.Get("/tree/{resource}/summary", th.Summary)
	})
	return nil
}
