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

// Package app 管理長生命週期元件（HTTP server、背景輪詢）的啟動與優雅關閉。
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 5 * time.Second

// App 並行啟動所有 Component，收到 SIGINT/SIGTERM 或任一元件結束時，
// 依註冊的反向順序呼叫 Shutdown。
type App struct {
	comps   []Component
	log     *slog.Logger
	timeout time.Duration
	signals []os.Signal
}

func New(log *slog.Logger) *App {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &App{
		log:     log,
		timeout: defaultShutdownTimeout,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// NewWith 是 New + Register 的語法糖。
func NewWith(log *slog.Logger, comps ...Component) *App {
	a := New(log)
	for _, c := range comps {
		a.Register(c)
	}
	return a
}

func (a *App) Register(c Component) {
	a.comps = append(a.comps, c)
}

// SetShutdownTimeout 設定優雅關閉的總期限；<= 0 時不變。
func (a *App) SetShutdownTimeout(d time.Duration) {
	if d > 0 {
		a.timeout = d
	}
}

// Run 阻塞直到收到終止信號（回傳 nil）或任一元件 Run 返回（回傳其錯誤）。
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), a.signals...)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext 與 Run 相同，但由呼叫端的 ctx 取代 OS 信號，方便測試與嵌入。
func (a *App) RunContext(ctx context.Context) error {
	errCh := make(chan error, len(a.comps))
	for _, c := range a.comps {
		go func(c Component) {
			errCh <- c.Run()
		}(c)
	}

	var err error
	select {
	case <-ctx.Done():
		a.log.Info("app.stop", slog.String("reason", "signal"))
	case err = <-errCh:
		a.log.Error("app.stop", slog.String("reason", "component exited"), slog.Any("err", err))
	}
	a.gracefulShutdown()
	return err
}

func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	for i := len(a.comps) - 1; i >= 0; i-- {
		if err := a.comps[i].Shutdown(ctx); err != nil {
			a.log.Warn("app.shutdown", slog.Any("err", err))
		}
	}
}
