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

// Package resource 是後台 REST 資源的通用讀取端。
//
// 後端列表介面一律回傳 {"items": [...], "total": n} 並以 page / page_size 分頁。
// FetchAll 依序逐頁拉取直到累積筆數 >= total；任一頁失敗即整體失敗，不回傳部分結果。
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/zintix-labs/agenttree/errs"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
	DefaultTimeout  = 10 * time.Second

	// 單頁 body 上限，避免後端異常時把記憶體吃光
	maxPageBody = 32 << 20
	// total 不可信時的保險：最多拉這麼多頁
	maxPages = 100000
)

// Page 是後端列表回應的外層。
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// UpstreamError 代表後端請求失敗（連線、非 2xx、解碼）。
// 邊界層據此回 502，與「後端回傳空清單」區分開來。
type UpstreamError struct {
	Path   string
	Page   int
	Status int // 0 代表沒有拿到 HTTP 回應
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s page=%d: status %d: %v", e.Path, e.Page, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s page=%d: %v", e.Path, e.Page, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client 持有後端位址與分頁設定；可安全地被多個 goroutine 共用。
type Client struct {
	base     *url.URL
	hc       *http.Client
	pageSize int
	token    string
	timeout  time.Duration
	log      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithPageSize 會被夾在 [1, MaxPageSize]。
func WithPageSize(n int) Option {
	return func(c *Client) {
		c.pageSize = min(max(1, n), MaxPageSize)
	}
}

// WithTimeout 設定單一請求的逾時；<= 0 時不變。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		e := errs.NewWithExtra(errs.Warn, "invalid upstream base url", baseURL)
		e.Cause = err
		return nil, e
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.NewWithExtra(errs.Warn, "upstream base url must be http(s)", baseURL)
	}
	c := &Client{
		base:     u,
		pageSize: DefaultPageSize,
		timeout:  DefaultTimeout,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

func (c *Client) PageSize() int { return c.pageSize }

func (c *Client) pageURL(path string, page int) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(c.pageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage 取第 page 頁（從 1 起算）。
func FetchPage[T any](ctx context.Context, c *Client, path string, page int) (*Page[T], error) {
	fail := func(status int, err error) error {
		return &UpstreamError{Path: path, Page: page, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(path, page), nil)
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	// 自行設定 Accept-Encoding 後 net/http 不再自動解壓，由 decodeBody 處理
	req.Header.Set("Accept-Encoding", "zstd, gzip")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// ctx 取消/超時保持原樣，讓 httperr 能對到 408/504
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fail(resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg))))
	}

	p := new(Page[T])
	if err := decodeBody(resp, p); err != nil {
		return nil, fail(resp.StatusCode, err)
	}
	if p.Total < 0 {
		return nil, fail(resp.StatusCode, fmt.Errorf("negative total %d", p.Total))
	}
	return p, nil
}

func decodeBody(resp *http.Response, dst any) error {
	var r io.Reader = io.LimitReader(resp.Body, maxPageBody)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gr, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gr.Close()
		r = gr
	case "zstd":
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	default:
		return fmt.Errorf("unsupported content-encoding %q", resp.Header.Get("Content-Encoding"))
	}
	return json.NewDecoder(r).Decode(dst)
}

// FetchAll 依序拉取所有頁面。onPage 可為 nil，每頁完成後以 (已累積筆數, total) 回呼。
//
// 結束條件：累積筆數 >= total，或某頁回傳 0 筆（後端 total 與實際不符時避免無窮迴圈）。
// 任何一頁失敗都回傳錯誤且不回傳已累積的部分。
func FetchAll[T any](ctx context.Context, c *Client, path string, onPage func(got, total int)) ([]T, error) {
	acc := make([]T, 0, c.pageSize)
	for page := 1; page <= maxPages; page++ {
		p, err := FetchPage[T](ctx, c, path, page)
		if err != nil {
			c.log.Warn("resource.fetch", slog.String("path", path), slog.Int("page", page), slog.Any("err", err))
			return nil, err
		}
		acc = append(acc, p.Items...)
		c.log.Debug("resource.page",
			slog.String("path", path),
			slog.Int("page", page),
			slog.Int("items", len(p.Items)),
			slog.Int("got", len(acc)),
			slog.Int("total", p.Total),
		)
		if onPage != nil {
			onPage(len(acc), p.Total)
		}
		if len(acc) >= p.Total || len(p.Items) == 0 {
			return acc, nil
		}
	}
	return nil, &UpstreamError{Path: path, Page: maxPages, Err: fmt.Errorf("exceeded %d pages", maxPages)}
}
