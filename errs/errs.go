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

// Package errs 提供 agenttree 統一的錯誤型別與分級。
package errs

import (
	"errors"
	"fmt"
)

// ErrLevel : Error 分級，讓邊界層（HTTP / CLI）決定如何回應
type ErrLevel uint8

const (
	None ErrLevel = iota
	Fatal
	Warn
	Log
)

var errLvMap = map[ErrLevel]string{
	None:  "",
	Fatal: "fatal",
	Warn:  "warn",
	Log:   "log",
}

func ErrLv(errlv ErrLevel) string {
	if str, ok := errLvMap[errlv]; ok {
		return str
	}
	return ""
}

// E 是統一的錯誤型別。
// Message 為主訊息；Extra 為呼叫端追加的上下文（例如 resource 路徑、頁碼）；
// Cause 串接下層錯誤；ErrLv 表示嚴重程度。
type E struct {
	Message string
	Extra   string
	Cause   error
	ErrLv   ErrLevel
}

func (e *E) Error() string {
	base := fmt.Sprintf("errlv=%s %s", ErrLv(e.ErrLv), e.Message)
	if e.Extra != "" {
		base += " | extra: " + e.Extra
	}
	if e.Cause != nil {
		base += fmt.Sprintf(" (cause: %v)", e.Cause)
	}
	return base
}

// Unwrap 讓 errors.Is / errors.As 能夠向下展開。
func (e *E) Unwrap() error { return e.Cause }

func New(errLv ErrLevel, msg string) *E {
	return &E{Message: msg, ErrLv: errLv}
}

func NewFatal(msg string) *E { return New(Fatal, msg) }

func NewWarn(msg string) *E { return New(Warn, msg) }

func NewLog(msg string) *E { return New(Log, msg) }

func Fatalf(format string, a ...any) *E {
	return NewFatal(fmt.Sprintf(format, a...))
}

func Warnf(format string, a ...any) *E {
	return NewWarn(fmt.Sprintf(format, a...))
}

// NewWithExtra 與 New 相同，但附加上下文字串（不影響主訊息）。
func NewWithExtra(errLv ErrLevel, msg string, extra string) *E {
	e := New(errLv, msg)
	e.Extra = extra
	return e
}

// Wrap 以 msg 包裝 cause。
//
// ErrLevel 規則：
//   - cause 鏈上已有 *E：沿用其 ErrLv。
//   - 否則（標準庫或三方依賴錯誤）一律視為 Fatal。
func Wrap(cause error, msg string) *E {
	return WrapWithExtra(cause, msg, "")
}

// WrapWithExtra 同 Wrap，另附上下文字串。
func WrapWithExtra(cause error, msg string, extra string) *E {
	r := NewWithExtra(LevelOf(cause), msg, extra)
	r.Cause = cause
	return r
}

// LevelOf 回傳 err 鏈上第一個 *E 的等級；找不到時為 Fatal，err 為 nil 時為 None。
func LevelOf(err error) ErrLevel {
	if err == nil {
		return None
	}
	if e, ok := AsErr(err); ok {
		return e.ErrLv
	}
	return Fatal
}

func AsErr(err error) (*E, bool) {
	var e *E
	if errors.As(err, &e) {
		return e, true
	}
	return e, false
}
