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

package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRefresher struct {
	name  string
	calls atomic.Int32
	err   error
}

func (f *fakeRefresher) Name() string { return f.name }

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPollerRefreshesAllEvenOnFailure(t *testing.T) {
	bad := &fakeRefresher{name: "agents", err: errors.New("upstream down")}
	good := &fakeRefresher{name: "users"}
	p := New(10*time.Millisecond, time.Second, nil, bad, good)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run() }()

	waitFor(t, func() bool { return good.calls.Load() >= 3 })
	if bad.calls.Load() < 2 {
		t.Fatalf("failing refresher should still be polled, calls=%d", bad.calls.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestPollerDisabled(t *testing.T) {
	r := &fakeRefresher{name: "agents"}
	p := New(0, 0, nil, r)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run() }()

	time.Sleep(20 * time.Millisecond)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	<-errCh
	if r.calls.Load() != 0 {
		t.Fatalf("disabled poller must not refresh")
	}
	// 重複 Shutdown 不應 panic
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

// blockingRefresher 記錄同時進行中的最大數量
type blockingRefresher struct {
	name     string
	inflight *atomic.Int32
	peak     *atomic.Int32
	done     atomic.Int32
}

func (b *blockingRefresher) Name() string { return b.name }

func (b *blockingRefresher) Refresh(ctx context.Context) error {
	n := b.inflight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	b.inflight.Add(-1)
	b.done.Add(1)
	return nil
}

func TestPollerRespectsLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	rs := make([]Refresher, 6)
	bs := make([]*blockingRefresher, 6)
	for i := range rs {
		bs[i] = &blockingRefresher{name: "r", inflight: &inflight, peak: &peak}
		rs[i] = bs[i]
	}
	p := New(time.Hour, time.Second, nil, rs...)
	p.SetLimit(2)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run() }()
	waitFor(t, func() bool {
		for _, b := range bs {
			if b.done.Load() == 0 {
				return false
			}
		}
		return true
	})
	_ = p.Shutdown(context.Background())
	<-errCh

	if peak.Load() > 2 || peak.Load() < 1 {
		t.Fatalf("expected at most 2 concurrent refreshes, peak=%d", peak.Load())
	}
}
