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

package dto

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/zintix-labs/agenttree/errs"
	"github.com/zintix-labs/agenttree/tree"
)

// maxFlattenBody 限制 POST /v1/flatten 的 body 大小（整條代理線可能上萬筆）
const maxFlattenBody = 8 << 20

// Format 是回應格式。
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	case FormatText:
		return FormatText, nil
	default:
		return FormatJSON, errs.Warnf("unknown format %q: want json|yaml|text", s)
	}
}

// FlattenRequest 是 POST /v1/flatten 的 body。
type FlattenRequest struct {
	Items   []Account `json:"items"`
	Orphans string    `json:"orphans,omitempty"` // flat|nested，預設 flat
}

// DecodeFlattenRequest 解碼 POST body。
//   - 頂層未知欄位嚴格拒絕；Account 內的未知欄位收進 Extra 透傳。
//   - items 缺省視為空清單（回傳空結果，不是錯誤）。
func DecodeFlattenRequest(r *http.Request) (*FlattenRequest, tree.OrphanMode, error) {
	if r == nil {
		return nil, tree.OrphanFlat, errs.NewWarn("nil request")
	}
	if r.Method != http.MethodPost {
		return nil, tree.OrphanFlat, errs.NewWarn("method not allowed")
	}
	req := new(FlattenRequest)
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFlattenBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, tree.OrphanFlat, errs.Warnf("invalid json: %v", err)
	}
	mode, err := tree.ParseOrphanMode(req.Orphans)
	if err != nil {
		return nil, tree.OrphanFlat, err
	}
	if req.Items == nil {
		req.Items = []Account{}
	}
	return req, mode, nil
}

// TreeQuery 是 GET /v1/tree/{resource} 的 query string。
type TreeQuery struct {
	Format  Format
	Orphans tree.OrphanMode
	Refresh bool // true: 略過快照，直接向後端重新載入
	Width   int  // text 格式的 label 最大寬度，0 為不限
}

func DecodeTreeQuery(r *http.Request) (*TreeQuery, error) {
	if r == nil {
		return nil, errs.NewWarn("nil request")
	}
	q := r.URL.Query()
	tq := new(TreeQuery)

	f, err := ParseFormat(q.Get("format"))
	if err != nil {
		return nil, err
	}
	tq.Format = f

	if tq.Orphans, err = tree.ParseOrphanMode(q.Get("orphans")); err != nil {
		return nil, err
	}

	if s := q.Get("refresh"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errs.NewWarn("invalid refresh value " + err.Error())
		}
		tq.Refresh = v
	}

	if s := q.Get("width"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, errs.NewWarn(fmt.Sprintf("invalid width: %q", s))
		}
		tq.Width = v
	}
	return tq, nil
}
