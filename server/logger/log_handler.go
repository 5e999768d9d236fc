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

// Package logger 組裝 agenttree 使用的 *slog.Logger。
//
// 兩種用法：
//   - New(mode)：同步 handler，CLI 與測試使用。
//   - NewAsync(buf, mode)：非阻塞 handler，server 使用；請求路徑只做 enqueue，滿了就丟棄。
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type LogMode uint8

const (
	ModeDev LogMode = iota
	ModeProd
	ModeSilence
)

// ParseLogMode 接受 dev|prod|silence 以及舊式 ModeDev|ModeProd|ModeSilence，其餘視為 dev。
func ParseLogMode(s string) LogMode {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "Mode")) {
	case "prod":
		return ModeProd
	case "silence", "silent":
		return ModeSilence
	default:
		return ModeDev
	}
}

func (m LogMode) String() string {
	switch m {
	case ModeProd:
		return "prod"
	case ModeSilence:
		return "silence"
	default:
		return "dev"
	}
}

func New(mode LogMode) *slog.Logger {
	return slog.New(buildHandler(mode))
}

// NewAsync 以 LogMode 預設值建 handler，再包上 AsyncHandler。
// 回傳的 *AsyncHandler 供關機時 Close() 排空佇列。
func NewAsync(buf int, mode LogMode) (*slog.Logger, *AsyncHandler) {
	ah := NewAsyncHandler(buildHandler(mode), buf)
	return slog.New(ah), ah
}

// Discard 回傳丟棄所有輸出的 logger。
func Discard() *slog.Logger {
	return slog.New(buildHandler(ModeSilence))
}

// AsyncHandler 把任意 slog.Handler 變成非阻塞：
//   - Handle 只做 enqueue；背景 goroutine 逐筆呼叫 next.Handle。
//   - 佇列滿或已 Close 時丟棄並計數（Dropped）。
//
// slog.Logger 會忽略 Handle 回傳的 error，I/O 錯誤需由 next 自行處理。
type AsyncHandler struct {
	next slog.Handler
	d    *asyncDispatcher
}

type asyncDispatcher struct {
	ch      chan asyncItem
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type asyncItem struct {
	ctx     context.Context
	rec     slog.Record
	handler slog.Handler
}

func NewAsyncHandler(next slog.Handler, buf int) *AsyncHandler {
	if next == nil {
		next = buildHandler(ModeDev)
	}
	if buf <= 0 {
		buf = 1024
	}
	d := &asyncDispatcher{
		ch:     make(chan asyncItem, buf),
		closed: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return &AsyncHandler{next: next, d: d}
}

func (h *AsyncHandler) Ready() bool {
	return h != nil && h.d != nil
}

func (h *AsyncHandler) Dropped() uint64 {
	if !h.Ready() {
		return 0
	}
	return h.d.dropped.Load()
}

// Close 停止接收並排空佇列；可重複呼叫。
func (h *AsyncHandler) Close() {
	if !h.Ready() {
		return
	}
	h.d.once.Do(func() { close(h.d.closed) })
	h.d.wg.Wait()
}

func (d *asyncDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case it := <-d.ch:
			_ = it.handler.Handle(it.ctx, it.rec)
		case <-d.closed:
			for {
				select {
				case it := <-d.ch:
					_ = it.handler.Handle(it.ctx, it.rec)
				default:
					return
				}
			}
		}
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Ready() {
		return nil
	}
	select {
	case <-h.d.closed:
		h.d.dropped.Add(1)
		return nil
	default:
	}

	// 跨 goroutine 必須 Clone，Record 內部的 attr 陣列可能被重用
	it := asyncItem{ctx: context.WithoutCancel(ctx), rec: r.Clone(), handler: h.next}
	select {
	case h.d.ch <- it:
	default:
		h.d.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), d: h.d}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), d: h.d}
}

func buildHandler(mode LogMode) slog.Handler {
	switch mode {
	case ModeProd:
		// JSON + stdout，給 Loki / Promtail
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	case ModeSilence:
		return slog.NewTextHandler(io.Discard, nil)
	default:
		return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
}
