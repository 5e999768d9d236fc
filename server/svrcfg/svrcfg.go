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

// Package svrcfg 負責 server 的設定：YAML 檔（FileCfg）與組裝後的執行期依賴（SvrCfg）。
package svrcfg

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zintix-labs/agenttree/dto"
	"github.com/zintix-labs/agenttree/errs"
	"github.com/zintix-labs/agenttree/resource"
	"github.com/zintix-labs/agenttree/server/logger"
	"github.com/zintix-labs/agenttree/server/metrics"
	"github.com/zintix-labs/agenttree/server/netsvr"
)

const (
	DefaultRequestTimeout  = 15 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	// 輪詢間隔下限，避免把後端打爆
	MinPollInterval = 5 * time.Second

	// TokenEnv 有值時覆蓋檔案中的 upstream.token
	TokenEnv = "AGENTTREE_UPSTREAM_TOKEN"
)

// UpstreamCfg 是後台 REST 後端的連線設定。
type UpstreamCfg struct {
	BaseURL  string        `yaml:"base_url"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
	Token    string        `yaml:"token"`
}

// FileCfg 對應設定檔：
//
//	addr: ":5808"
//	log_mode: prod
//	request_timeout: 15s
//	poll_interval: 1m
//	upstream:
//	  base_url: https://backoffice.example.com/api
//	  page_size: 200
//	resources:
//	  agents: /agents
//	  users: /users
type FileCfg struct {
	Addr            string            `yaml:"addr"`
	LogMode         string            `yaml:"log_mode"`
	RequestTimeout  time.Duration     `yaml:"request_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	PollInterval    time.Duration     `yaml:"poll_interval"`
	Upstream        UpstreamCfg       `yaml:"upstream"`
	Resources       map[string]string `yaml:"resources"`
	// 關閉 GET /metrics 與相關計數
	NoMetrics bool `yaml:"no_metrics"`
}

// LoadFile 讀取並解析 YAML 設定檔。
func LoadFile(path string) (*FileCfg, error) {
	f, err := os.Open(path)
	if err != nil {
		e := errs.NewWithExtra(errs.Warn, "open config", path)
		e.Cause = err
		return nil, e
	}
	defer f.Close()
	return Decode(f)
}

// Decode 解析 YAML；未知欄位視為錯誤，避免拼錯的鍵被默默忽略。
func Decode(r io.Reader) (*FileCfg, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(err, "read config")
	}
	fc := new(FileCfg)
	if len(bytes.TrimSpace(raw)) == 0 {
		return fc, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil {
		return nil, errs.Warnf("invalid config: %v", err)
	}
	return fc, nil
}

// Names 回傳排序後的資源名稱。
func (fc *FileCfg) Names() []string {
	names := make([]string, 0, len(fc.Resources))
	for k := range fc.Resources {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Build 依 FileCfg 建立 Client 與每個資源的 Loader；log 為 nil 時由 Valid 補上。
func (fc *FileCfg) Build(log *slog.Logger) (*SvrCfg, error) {
	sc := &SvrCfg{
		Log:             log,
		Addr:            fc.Addr,
		RequestTimeout:  fc.RequestTimeout,
		ShutdownTimeout: fc.ShutdownTimeout,
		PollInterval:    fc.PollInterval,
	}
	if err := sc.normLog(); err != nil {
		return nil, err
	}
	if !fc.NoMetrics {
		sc.Metrics = metrics.New()
	}
	if len(fc.Resources) == 0 {
		return sc, sc.Valid()
	}
	if fc.Upstream.BaseURL == "" {
		return nil, errs.NewWarn("upstream.base_url is required when resources are configured")
	}

	token := fc.Upstream.Token
	if v := os.Getenv(TokenEnv); v != "" {
		token = v
	}
	timeout := fc.Upstream.Timeout
	if timeout <= 0 {
		timeout = resource.DefaultTimeout
	}
	pageSize := fc.Upstream.PageSize
	if pageSize == 0 {
		pageSize = resource.DefaultPageSize
	}
	c, err := resource.NewClient(fc.Upstream.BaseURL,
		resource.WithPageSize(pageSize),
		resource.WithToken(token),
		resource.WithTimeout(timeout),
		resource.WithLogger(sc.Log),
	)
	if err != nil {
		return nil, err
	}
	sc.Client = c
	sc.Loaders = make(map[string]*resource.Loader[dto.Account], len(fc.Resources))
	for _, name := range fc.Names() {
		path := fc.Resources[name]
		if path == "" {
			return nil, errs.NewWithExtra(errs.Warn, "empty resource path", name)
		}
		var opts []resource.LoaderOption
		if sc.Metrics != nil {
			opts = append(opts, resource.WithObserver(sc.Metrics))
		}
		sc.Loaders[name] = resource.NewLoader[dto.Account](name, c, path, opts...)
	}
	return sc, sc.Valid()
}

// SvrCfg 是組裝完成、交給 server.Run 的依賴集合。
type SvrCfg struct {
	Log             *slog.Logger
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// 0 代表不做背景輪詢，請求到來時才載入
	PollInterval time.Duration

	Client  *resource.Client
	Loaders map[string]*resource.Loader[dto.Account]
	// nil 時不掛 /metrics
	Metrics *metrics.Metrics
}

func (sc *SvrCfg) normLog() error {
	if sc.Log != nil {
		if ah, ok := sc.Log.Handler().(*logger.AsyncHandler); ok && !ah.Ready() {
			return errs.NewFatal("nil default log handler: async handler is nil")
		}
		return nil
	}
	sc.Log, _ = logger.NewAsync(1024, logger.ModeDev)
	return nil
}

// Valid 檢查並正規化設定；可重複呼叫。
func (sc *SvrCfg) Valid() error {
	if err := sc.normLog(); err != nil {
		return err
	}
	if sc.Addr == "" {
		sc.Addr = netsvr.DefaultAddr
	}
	if sc.RequestTimeout <= 0 {
		sc.RequestTimeout = DefaultRequestTimeout
	}
	if sc.ShutdownTimeout <= 0 {
		sc.ShutdownTimeout = DefaultShutdownTimeout
	}
	if sc.PollInterval < 0 {
		sc.PollInterval = 0
	}
	if sc.PollInterval > 0 {
		sc.PollInterval = max(sc.PollInterval, MinPollInterval)
	}
	if sc.Loaders == nil {
		sc.Loaders = map[string]*resource.Loader[dto.Account]{}
	}
	for name, l := range sc.Loaders {
		if l == nil {
			return errs.NewWithExtra(errs.Fatal, "nil loader", name)
		}
	}
	return nil
}
