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
	"net/http"

	"github.com/zintix-labs/agenttree/server/app"
)

// NetSvr = 路由行為 + 服務啟停，只交給最外層組裝器使用。
// 本身實作 app.Component，可直接交給 app.App 管理生命週期。
type NetSvr interface {
	NetRouter
	app.Component
}

// NetRouter 只有路由行為；Group 回呼拿不到 Run/Shutdown，避免子模組誤控 server 生命週期。
type NetRouter interface {
	Use(middleware func(http.Handler) http.Handler)

	Get(path string, h http.HandlerFunc)
	Post(path string, h http.HandlerFunc)
	NotFound(h http.HandlerFunc)

	Group(path string, fn func(NetRouter))
}
