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

// Package perf 以 runtime/pprof 包住一段執行，用來量測大型代理線的攤平成本。
//
//	go run ./cmd/treecli -file big.json -p cpu
//	go tool pprof build/profiling/cpu.pprof
package perf

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/zintix-labs/agenttree/errs"
)

// DefaultDir 是 profile 檔的預設輸出目錄。
const DefaultDir = "build/profiling"

// Mode 是 profile 種類。
type Mode string

const (
	ModeNone   Mode = ""
	ModeCPU    Mode = "cpu"
	ModeHeap   Mode = "heap"
	ModeAllocs Mode = "allocs"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeNone, ModeCPU, ModeHeap, ModeAllocs:
		return m, nil
	default:
		return ModeNone, errs.Warnf("unknown pprof mode %q: want cpu|heap|allocs", s)
	}
}

// Run 依 mode 執行 exe 並把 profile 寫到 dir/<mode>.pprof；ModeNone 時只執行 exe。
// 回傳 exe 的錯誤優先於 profile 寫檔錯誤。
func Run(mode Mode, dir string, exe func() error) (err error) {
	if mode == ModeNone {
		return exe()
	}
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(err, "create profiling dir")
	}
	f, err := os.Create(filepath.Join(dir, string(mode)+".pprof"))
	if err != nil {
		return errs.Wrap(err, "create profile")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errs.Wrap(cerr, "close profile")
		}
	}()

	switch mode {
	case ModeCPU:
		if err := pprof.StartCPUProfile(f); err != nil {
			return errs.Wrap(err, "start cpu profile")
		}
		defer pprof.StopCPUProfile()
		return exe()
	case ModeHeap:
		if err := exe(); err != nil {
			return err
		}
		// 讓快照只剩存活物件
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return errs.Wrap(err, "write heap profile")
		}
		return nil
	default:
		if err := exe(); err != nil {
			return err
		}
		if prof := pprof.Lookup("allocs"); prof != nil {
			if err := prof.WriteTo(f, 0); err != nil {
				return errs.Wrap(err, "write allocs profile")
			}
		}
		return nil
	}
}
