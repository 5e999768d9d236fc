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

package server

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/zintix-labs/agenttree/errs"
	"github.com/zintix-labs/agenttree/server/api"
	"github.com/zintix-labs/agenttree/server/app"
	"github.com/zintix-labs/agenttree/server/netsvr"
	"github.com/zintix-labs/agenttree/server/poller"
	"github.com/zintix-labs/agenttree/server/svrcfg"
)

// Run 是 server 套件的組裝器與啟動入口：
//  1. 驗證 SvrCfg。
//  2. 建立 chi server 並註冊路由。
//  3. 有設定 PollInterval 時掛上背景輪詢。
//  4. 交給 app.Run()，直到收到終止信號。
//
// 所有依賴都透過 SvrCfg 注入；讀檔、環境變數由 cmd/ 負責。
func Run(sCfg *svrcfg.SvrCfg) error {
	svr, err := assemble(sCfg)
	if err != nil {
		return err
	}
	return RunWithSvr(sCfg, svr)
}

// RunWithSvr 與 Run 相同，但由呼叫端注入 NetSvr（例如自訂 listener 或 TLS）。
func RunWithSvr(sCfg *svrcfg.SvrCfg, svr netsvr.NetSvr) error {
	if err := sCfg.Valid(); err != nil {
		// logger 可能不可用，直接寫 stderr
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if svr == nil {
		return errs.NewFatal("svr is required")
	}
	if s, ok := svr.(*netsvr.ChiAdapter); ok && !s.Ready() {
		return errs.NewFatal("default server is not ready")
	}
	if err := api.RegisterRoutes(svr, sCfg); err != nil {
		return err
	}

	a := app.NewWith(sCfg.Log, svr)
	a.SetShutdownTimeout(sCfg.ShutdownTimeout)
	if p := newPoller(sCfg); p != nil {
		a.Register(p)
	}

	sCfg.Log.Info("[agenttree] listening",
		slog.String("addr", addrOf(svr)),
		slog.Int("resources", len(sCfg.Loaders)),
		slog.Duration("poll", sCfg.PollInterval),
	)
	if err := a.Run(); err != nil {
		sCfg.Log.Error("app stopped", slog.Any("err", err))
		return err
	}
	return nil
}

func assemble(sCfg *svrcfg.SvrCfg) (*netsvr.ChiAdapter, error) {
	if sCfg == nil {
		return nil, errs.NewFatal("nil server config")
	}
	if err := sCfg.Valid(); err != nil {
		return nil, err
	}
	return netsvr.NewChiServer(sCfg.Addr, netsvr.Timeouts{}), nil
}

func newPoller(sCfg *svrcfg.SvrCfg) *poller.Poller {
	if sCfg.PollInterval <= 0 || len(sCfg.Loaders) == 0 {
		return nil
	}
	rs := make([]poller.Refresher, 0, len(sCfg.Loaders))
	for _, name := range sortedNames(sCfg) {
		rs = append(rs, sCfg.Loaders[name])
	}
	return poller.New(sCfg.PollInterval, sCfg.RequestTimeout, sCfg.Log, rs...)
}

func addrOf(svr netsvr.NetSvr) string {
	if s, ok := svr.(interface{ Address() string }); ok {
		return s.Address()
	}
	return ""
}

// sortedNames 讓輪詢順序固定，log 比較好對照。
func sortedNames(sCfg *svrcfg.SvrCfg) []string {
	names := make([]string, 0, len(sCfg.Loaders))
	for k := range sCfg.Loaders {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
