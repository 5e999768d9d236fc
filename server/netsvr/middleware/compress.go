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

package middleware

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CompressConfig 控制回應壓縮。大型樹狀清單（數萬筆）壓縮效益明顯，小回應則不值得。
type CompressConfig struct {
	GzipLevel int
	ZstdLevel zstd.EncoderLevel
	// MinSize 以下的單次寫入不壓縮；0 表示一律壓縮
	MinSize int
}

func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		GzipLevel: gzip.DefaultCompression,
		ZstdLevel: zstd.SpeedFastest,
		MinSize:   512,
	}
}

type compressor struct {
	cfg  CompressConfig
	gzip sync.Pool
	zstd sync.Pool
}

func (c *compressor) getZstd(w io.Writer) (*zstd.Encoder, error) {
	if v := c.zstd.Get(); v != nil {
		zw := v.(*zstd.Encoder)
		zw.Reset(w)
		return zw, nil
	}
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(c.cfg.ZstdLevel),
		zstd.WithEncoderConcurrency(1),
	)
}

func (c *compressor) getGzip(w io.Writer) (*gzip.Writer, error) {
	if v := c.gzip.Get(); v != nil {
		gw := v.(*gzip.Writer)
		gw.Reset(w)
		return gw, nil
	}
	return gzip.NewWriterLevel(w, c.cfg.GzipLevel)
}

type encoder interface {
	io.Writer
	Flush() error
	Close() error
	Reset(io.Writer)
}

// gzipEncoder 讓 gzip.Writer 與 zstd.Encoder 的 Reset 簽名一致
type gzipEncoder struct{ *gzip.Writer }

func (g gzipEncoder) Reset(w io.Writer) { g.Writer.Reset(w) }

type zstdEncoder struct{ *zstd.Encoder }

func (z zstdEncoder) Reset(w io.Writer) { z.Encoder.Reset(w) }

// compressResponseWriter 延遲到第一次寫 body 才決定是否壓縮。
type compressResponseWriter struct {
	http.ResponseWriter
	enc      encoder
	name     string
	minSize  int
	decided  bool
	active   bool
	status   int
	wroteHdr bool
}

func (cw *compressResponseWriter) WriteHeader(code int) {
	if cw.wroteHdr {
		return
	}
	cw.status = code
	if isNoBodyStatus(code) {
		cw.decide(false)
	}
	// 真正送出 header 的時機在 decide
	if cw.decided {
		cw.flushHeader()
	}
}

func (cw *compressResponseWriter) decide(compress bool) {
	if cw.decided {
		return
	}
	cw.decided = true
	h := cw.Header()
	if h.Get("Content-Encoding") != "" {
		compress = false
	}
	cw.active = compress
	if compress {
		h.Del("Content-Length")
		h.Set("Content-Encoding", cw.name)
		h.Add("Vary", "Accept-Encoding")
	}
}

func (cw *compressResponseWriter) flushHeader() {
	if cw.wroteHdr {
		return
	}
	cw.wroteHdr = true
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.ResponseWriter.WriteHeader(cw.status)
}

func (cw *compressResponseWriter) Write(b []byte) (int, error) {
	if !cw.decided {
		if cw.Header().Get("Content-Type") == "" {
			cw.Header().Set("Content-Type", http.DetectContentType(b))
		}
		cw.decide(len(b) >= cw.minSize)
	}
	cw.flushHeader()
	if !cw.active {
		return cw.ResponseWriter.Write(b)
	}
	return cw.enc.Write(b)
}

func (cw *compressResponseWriter) Flush() {
	if !cw.decided {
		cw.decide(true)
	}
	cw.flushHeader()
	if cw.active {
		_ = cw.enc.Flush()
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *compressResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := cw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying response writer does not support Hijacker")
	}
	return hj.Hijack()
}

// finish 收尾並把 encoder 放回 pool；未啟用壓縮時 footer 寫進 io.Discard。
func (cw *compressResponseWriter) finish(put func()) {
	if !cw.decided {
		// handler 沒寫任何 body
		cw.decide(false)
	}
	cw.flushHeader()
	if !cw.active {
		cw.enc.Reset(io.Discard)
	}
	_ = cw.enc.Close()
	put()
}

// NewCompression 依 Accept-Encoding 以 zstd（優先）或 gzip 壓縮回應。
func NewCompression(cfg CompressConfig) func(http.Handler) http.Handler {
	c := &compressor{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead || isWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			accept := strings.ToLower(r.Header.Get("Accept-Encoding"))
			cw := &compressResponseWriter{ResponseWriter: w, minSize: cfg.MinSize}

			switch {
			case strings.Contains(accept, "zstd"):
				zw, err := c.getZstd(w)
				if err != nil {
					next.ServeHTTP(w, r)
					return
				}
				cw.enc, cw.name = zstdEncoder{zw}, "zstd"
				defer cw.finish(func() { c.zstd.Put(zw) })
			case strings.Contains(accept, "gzip"):
				gw, err := c.getGzip(w)
				if err != nil {
					next.ServeHTTP(w, r)
					return
				}
				cw.enc, cw.name = gzipEncoder{gw}, "gzip"
				defer cw.finish(func() { c.gzip.Put(gw) })
			default:
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(cw, r)
		})
	}
}

// Compression 使用 DefaultCompressConfig。
func Compression(next http.Handler) http.Handler {
	return NewCompression(DefaultCompressConfig())(next)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") ||
		r.Header.Get("Upgrade") != ""
}

func isNoBodyStatus(code int) bool {
	// 1xx / 204 / 304
	return (code >= 100 && code < 200) || code == http.StatusNoContent || code == http.StatusNotModified
}
