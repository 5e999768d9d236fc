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

package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zintix-labs/agenttree/errs"
)

// ErrStale 表示這次載入在完成前已被較新的一次取代，其結果已被丟棄。
var ErrStale = errs.NewLog("load superseded by a newer generation")

// State 是 Loader 的快照。
//
//   - Gen == 0：從未載入完成。
//   - Err != nil：最近一次（最新世代）載入失敗，Items 為 nil。
//   - Err == nil 且 len(Items) == 0：後端確實沒有資料。
type State[T any] struct {
	Items    []T
	Err      error
	Loading  bool
	Gen      uint64
	LoadedAt time.Time
}

// Observer 接收每次載入的結果（例如 prometheus 指標）。stale 為 true 表示結果已被丟棄。
type Observer interface {
	ObserveLoad(resource string, items int, took time.Duration, stale bool, err error)
}

type LoaderOption func(*loaderOpts)

type loaderOpts struct {
	obs Observer
}

func WithObserver(o Observer) LoaderOption {
	return func(lo *loaderOpts) { lo.obs = o }
}

// Loader 持有某個資源最近一次完整載入的結果。
//
// 每次 Load 取得一個遞增的世代號；只有「仍是最新世代」的載入能寫入狀態，
// 較舊的載入即使較晚完成也會回傳 ErrStale，不會蓋掉較新的結果。
type Loader[T any] struct {
	name string
	path string
	c    *Client
	obs  Observer

	gen atomic.Uint64

	mu    sync.RWMutex
	state State[T]
	// settled 在每次最新世代提交時關閉並換新，供 Wait 等待
	settled chan struct{}
}

func NewLoader[T any](name string, c *Client, path string, opts ...LoaderOption) *Loader[T] {
	var lo loaderOpts
	for _, opt := range opts {
		opt(&lo)
	}
	return &Loader[T]{name: name, path: path, c: c, obs: lo.obs, settled: make(chan struct{})}
}

func (l *Loader[T]) Name() string { return l.name }

func (l *Loader[T]) Path() string { return l.path }

// Load 拉取完整資源。onPage 可為 nil。
func (l *Loader[T]) Load(ctx context.Context, onPage func(got, total int)) ([]T, error) {
	g := l.gen.Add(1)

	l.mu.Lock()
	// 已被更新的世代取代時不動 Loading，否則較新世代提交後會被改回 true
	if g == l.gen.Load() {
		l.state.Loading = true
	}
	l.mu.Unlock()

	start := time.Now()
	items, err := FetchAll[T](ctx, l.c, l.path, onPage)
	took := time.Since(start)

	l.mu.Lock()
	defer l.mu.Unlock()
	if g != l.gen.Load() {
		l.observe(0, took, true, nil)
		return nil, ErrStale
	}
	l.observe(len(items), took, false, err)
	l.state = State[T]{
		Items:    items,
		Err:      err,
		Gen:      g,
		LoadedAt: time.Now(),
	}
	close(l.settled)
	l.settled = make(chan struct{})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (l *Loader[T]) observe(n int, took time.Duration, stale bool, err error) {
	if l.obs != nil {
		l.obs.ObserveLoad(l.name, n, took, stale, err)
	}
}

// Refresh 供背景輪詢使用；ErrStale 不視為錯誤。
func (l *Loader[T]) Refresh(ctx context.Context) error {
	_, err := l.Load(ctx, nil)
	if errors.Is(err, ErrStale) {
		return nil
	}
	return err
}

// Wait 等到沒有進行中的載入（最新世代已提交）後回傳快照。
// ctx 到期時回傳當下快照與 ctx.Err()。
func (l *Loader[T]) Wait(ctx context.Context) (State[T], error) {
	for {
		l.mu.RLock()
		s, ch := l.state, l.settled
		l.mu.RUnlock()
		if !s.Loading {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Snapshot 回傳目前狀態的複本（Items 與內部共用底層陣列，呼叫端不應修改）。
func (l *Loader[T]) Snapshot() State[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}
