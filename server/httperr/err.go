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

// Package httperr 是 HTTP 邊界層的錯誤映射；核心套件不依賴 net/http 的狀態碼。
package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zintix-labs/agenttree/errs"
	"github.com/zintix-labs/agenttree/resource"
)

// ErrNotFound 代表未設定的資源名稱。
var ErrNotFound = errs.NewLog("resource not found")

// ErrNotReady 代表資源尚未有任何一次完成的載入。
var ErrNotReady = errs.NewLog("resource not ready")

// StatusCode 將錯誤映射成 HTTP status code：
//   - ctx timeout/cancel → 504/408
//   - *resource.UpstreamError → 502（後端失敗，與空清單區分）
//   - ErrNotFound → 404，ErrNotReady → 503
//   - errs.Warn → 400，errs.Fatal 與其他 → 500
func StatusCode(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	}

	var ue *resource.UpstreamError
	if errors.As(err, &ue) {
		return http.StatusBadGateway
	}

	var e *errs.E
	if errors.As(err, &e) && e.ErrLv == errs.Warn {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type body struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Errs 以 JSON 寫回 {"error": ..., "status": ...}。err 為 nil 時不做任何事。
func Errs(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := StatusCode(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: err.Error(), Status: status})
}

// Log 只記錄值得注意的錯誤：5xx 記 Error，408/409/429 記 Warn，其餘交給 access log。
func Log(log *slog.Logger, msg string, err error) {
	if err == nil || log == nil {
		return
	}
	switch status := StatusCode(err); {
	case status >= 500:
		log.Error(msg, slog.Int("status", status), slog.Any("err", err))
	case status == http.StatusRequestTimeout, status == http.StatusConflict, status == http.StatusTooManyRequests:
		log.Warn(msg, slog.Int("status", status), slog.Any("err", err))
	}
}
