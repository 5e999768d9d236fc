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

// Package poller 週期性地重新載入資源，讓 /v1/tree 直接回快照。
package poller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Refresher 是 resource.Loader 的非泛型視角。
type Refresher interface {
	Name() string
	Refresh(ctx context.Context) error
}

// DefaultLimit 是同一輪內同時刷新的資源上限。
const DefaultLimit = 4

// Poller 實作 app.Component：Run 阻塞到 Shutdown。
// 每一輪以有限併發刷新所有 Refresher；單一資源失敗只記 log，不影響其他資源。
type Poller struct {
	every   time.Duration
	timeout time.Duration
	limit   int
	rs      []Refresher
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New 建立 Poller；every <= 0 時 Run 只等待 Shutdown，不做任何刷新。
// timeout 為每個資源單次刷新的期限，<= 0 時以 every 代替。
func New(every, timeout time.Duration, log *slog.Logger, rs ...Refresher) *Poller {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = every
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		every:   every,
		timeout: timeout,
		limit:   DefaultLimit,
		rs:      rs,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// SetLimit 設定單輪併發上限；須在 Run 之前呼叫，<= 0 時不變。
func (p *Poller) SetLimit(n int) {
	if n > 0 {
		p.limit = n
	}
}

func (p *Poller) Run() error {
	defer close(p.done)
	if p.every <= 0 || len(p.rs) == 0 {
		<-p.ctx.Done()
		return nil
	}

	// 啟動後先暖機一次，第一個請求就有資料
	p.tick()
	t := time.NewTicker(p.every)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case <-t.C:
			p.tick()
		}
	}
}

// tick 等到本輪全部完成才返回，下一輪不會與本輪重疊。
func (p *Poller) tick() {
	var g errgroup.Group
	g.SetLimit(p.limit)
	for _, r := range p.rs {
		if p.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.refresh(r)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) refresh(r Refresher) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	start := time.Now()
	if err := r.Refresh(ctx); err != nil {
		p.log.Warn("poller.refresh", slog.String("resource", r.Name()), slog.Any("err", err))
		return
	}
	p.log.Debug("poller.refresh", slog.String("resource", r.Name()), slog.Duration("took", time.Since(start)))
}

// Shutdown 取消進行中的刷新並等待 Run 結束，或直到 ctx 到期。
func (p *Poller) Shutdown(ctx context.Context) error {
	p.once.Do(p.cancel)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
