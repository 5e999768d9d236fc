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
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zintix-labs/agenttree/dto"
	"github.com/zintix-labs/agenttree/errs"
	"github.com/zintix-labs/agenttree/perf"
	"github.com/zintix-labs/agenttree/resource"
	"github.com/zintix-labs/agenttree/server/logger"
	"github.com/zintix-labs/agenttree/server/svrcfg"
	"github.com/zintix-labs/agenttree/tree"
)

var cfg *config = new(config)

type config struct {
	file     string
	config   string
	resource string
	orphans  string
	format   string
	width    int
	watch    time.Duration
	quiet    bool
	summary  bool
	logMode  string
	pprof    string

	mode   tree.OrphanMode
	output dto.Format
	prof   perf.Mode
}

func bindVar() {
	flag.StringVar(&cfg.file, "file", "", "read accounts from a JSON file ('-' for stdin)")
	flag.StringVar(&cfg.config, "config", "", "YAML config with upstream settings")
	flag.StringVar(&cfg.resource, "resource", "agents", "resource name in config")
	flag.StringVar(&cfg.orphans, "orphans", "flat", "orphan placement: flat|nested")
	flag.StringVar(&cfg.format, "format", "text", "output: text|json|yaml")
	flag.IntVar(&cfg.width, "width", 0, "max label width in text output, 0 = unlimited")
	flag.DurationVar(&cfg.watch, "watch", 0, "reload and reprint every interval")
	flag.BoolVar(&cfg.quiet, "q", false, "no progress bar")
	flag.BoolVar(&cfg.summary, "summary", true, "print summary to stderr")
	flag.StringVar(&cfg.logMode, "log-mode", "silence", "log mode: dev|prod|silence")
	flag.StringVar(&cfg.pprof, "p", "", "pprof: '', cpu, heap, allocs")
	flag.Parse()
}

func (cfg *config) valid() error {
	if (cfg.file == "") == (cfg.config == "") {
		return errs.NewWarn("exactly one of -file or -config is required")
	}
	if cfg.file != "" && cfg.watch > 0 {
		return errs.NewWarn("-watch needs -config")
	}
	var err error
	if cfg.mode, err = tree.ParseOrphanMode(cfg.orphans); err != nil {
		return err
	}
	if cfg.output, err = dto.ParseFormat(cfg.format); err != nil {
		return err
	}
	if cfg.prof, err = perf.ParseMode(cfg.pprof); err != nil {
		return err
	}
	if cfg.prof != perf.ModeNone && cfg.watch > 0 {
		return errs.NewWarn("-p cannot be combined with -watch")
	}
	if cfg.width < 0 {
		return errs.NewWarn("-width must be >= 0")
	}
	return nil
}

// source 回傳每一輪取資料的函數；檔案來源只讀一次。
func (cfg *config) source(info io.Writer) (func(ctx context.Context) ([]dto.Account, error), error) {
	if cfg.file != "" {
		accounts, err := readFile(cfg.file)
		if err != nil {
			return nil, err
		}
		return func(context.Context) ([]dto.Account, error) { return accounts, nil }, nil
	}

	fc, err := svrcfg.LoadFile(cfg.config)
	if err != nil {
		return nil, err
	}
	sCfg, err := fc.Build(logger.New(logger.ParseLogMode(cfg.logMode)))
	if err != nil {
		return nil, err
	}
	l, ok := sCfg.Loaders[cfg.resource]
	if !ok {
		return nil, errs.NewWithExtra(errs.Warn, "resource not in config", cfg.resource)
	}
	return func(ctx context.Context) ([]dto.Account, error) {
		bar := newBar(info, cfg.quiet)
		defer bar.Finish()
		return l.Load(ctx, func(got, total int) {
			bar.SetTotal(int64(total))
			bar.SetCurrent(int64(got))
		})
	}, nil
}

func once(ctx context.Context, src func(context.Context) ([]dto.Account, error), out, info io.Writer) error {
	accounts, err := src(ctx)
	if err != nil {
		return err
	}
	res := dto.NewTreeResult(cfg.resource, accounts, cfg.mode)
	if err := dto.WriteTree(out, cfg.output, res, cfg.width); err != nil {
		return err
	}
	if cfg.summary {
		printSummary(info, &res.Summary)
	}
	return nil
}

func newBar(w io.Writer, quiet bool) *pb.ProgressBar {
	bar := pb.New(0)
	if quiet {
		bar.SetWriter(io.Discard)
	} else {
		bar.SetWriter(w)
	}
	return bar.Start()
}

func printSummary(w io.Writer, s *tree.Summary) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "[NODES:%d] [ROOTS:%d] [ORPHANS:%d] [LEAVES:%d] [MAX DEPTH:%d]\n",
		s.Nodes, s.Roots, s.Orphans, s.Leaves, s.MaxDepth)
	p.Fprintf(w, "[DESCENDANTS max:%d mean:%.2f stddev:%.2f]\n",
		s.MaxDescendants, s.MeanDescendants, s.StdDevDescendants)
}

// readFile 接受 [...] 或 {"items": [...]} 兩種形狀。
func readFile(path string) ([]dto.Account, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		e := errs.NewWithExtra(errs.Warn, "read accounts", path)
		e.Cause = err
		return nil, e
	}
	return decodeAccounts(raw)
}

func decodeAccounts(raw []byte) ([]dto.Account, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []dto.Account
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, errs.Warnf("invalid accounts json: %v", err)
		}
		return items, nil
	}
	var page resource.Page[dto.Account]
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, errs.Warnf("invalid accounts json: %v", err)
	}
	return page.Items, nil
}
