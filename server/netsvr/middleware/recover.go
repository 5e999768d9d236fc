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

package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimid "github.com/go-chi/chi/v5/middleware"
)

// Recover 攔下 handler panic：以 slog 記錄 stack 並回 500。
// log 為 nil 時退回 chi 內建的 Recoverer（印到 stderr）。
// http.ErrAbortHandler 依 net/http 慣例原樣拋出。
func Recover(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		return chimid.Recoverer
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.LogAttrs(r.Context(), slog.LevelError, "http.panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("request_id", GetReqID(r)),
					slog.String("stack", string(debug.Stack())),
				)
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
