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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zintix-labs/agenttree/perf"
)

// treecli 把代理線印成文字樹：
//
//	treecli -file accounts.json
//	treecli -config agenttree.yaml -resource agents -orphans nested
//	treecli -config agenttree.yaml -resource agents -watch 30s
func main() {
	bindVar()
	if err := cfg.valid(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := perf.Run(cfg.prof, perf.DefaultDir, func() error {
		return run(ctx, os.Stdout, os.Stderr)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out, info io.Writer) error {
	src, err := cfg.source(info)
	if err != nil {
		return err
	}
	if cfg.watch <= 0 {
		return once(ctx, src, out, info)
	}

	t := time.NewTicker(cfg.watch)
	defer t.Stop()
	for {
		if err := once(ctx, src, out, info); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// watch 模式下單次失敗不中止，下一輪再試
			fmt.Fprintln(info, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
