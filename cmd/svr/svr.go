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
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/zintix-labs/agenttree/server"
	"github.com/zintix-labs/agenttree/server/logger"
	"github.com/zintix-labs/agenttree/server/svrcfg"
)

// agenttree HTTP 服務。設定檔提供後端位址與資源清單，flag 覆蓋檔案中的值。
func main() {
	sCfg, ah, err := loadConfigFromFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	err = server.Run(sCfg)
	ah.Close()
	if err != nil {
		os.Exit(1)
	}
}

type config struct {
	Path    string
	Addr    string
	LogMode string
	Poll    time.Duration
}

func loadConfigFromFlags() (*svrcfg.SvrCfg, *logger.AsyncHandler, error) {
	cfg := new(config)
	flag.StringVar(&cfg.Path, "config", "", "path to YAML config file")
	flag.StringVar(&cfg.Addr, "addr", "", "listen address, overrides config (default :5808)")
	flag.StringVar(&cfg.LogMode, "log-mode", "", "log mode: dev|prod|silence, overrides config")
	flag.DurationVar(&cfg.Poll, "poll", -1, "background refresh interval, 0 disables, overrides config")
	flag.Parse()

	fc := new(svrcfg.FileCfg)
	if cfg.Path != "" {
		var err error
		if fc, err = svrcfg.LoadFile(cfg.Path); err != nil {
			return nil, nil, err
		}
	}
	cfg.apply(fc)

	log, ah := logger.NewAsync(4096, logger.ParseLogMode(fc.LogMode))
	sCfg, err := fc.Build(log)
	if err != nil {
		ah.Close()
		return nil, nil, err
	}
	return sCfg, ah, nil
}

func (cfg *config) apply(fc *svrcfg.FileCfg) {
	if cfg.Addr != "" {
		fc.Addr = cfg.Addr
	}
	if cfg.LogMode != "" {
		fc.LogMode = cfg.LogMode
	}
	if cfg.Poll >= 0 {
		fc.PollInterval = cfg.Poll
	}
}
