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
	"strconv"
	"strings"

	"github.com/zintix-labs/agenttree/tree"
)

// Role 是帳號在代理線中的層級。後端可能擴充，未知值原樣保留。
type Role string

const (
	RoleMaster   Role = "master"
	RoleAgent    Role = "agent"
	RoleSubAgent Role = "sub_agent"
	RolePlayer   Role = "player"
)

// Account 是後端 agents / users 列表中的一筆資料。
// 金額類欄位用 json.Number 原樣透傳，不在前台做浮點運算。
// 未列出的欄位收進 Extra，序列化時一併寫回。
type Account struct {
	ID             int         `json:"id"`
	ParentID       *int        `json:"parent_id"`
	Username       string      `json:"username,omitempty"`
	Role           Role        `json:"role,omitempty"`
	Status         string      `json:"status,omitempty"`
	Balance        json.Number `json:"balance,omitempty"`
	CommissionRate json.Number `json:"commission_rate,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var accountKeys = []string{"id", "parent_id", "username", "role", "status", "balance", "commission_rate"}

// accountAlias 去掉方法集，避免 (Un)MarshalJSON 遞迴
type accountAlias Account

func (a Account) NodeID() int { return a.ID }

func (a Account) ParentRef() (int, bool) {
	if a.ParentID == nil {
		return 0, false
	}
	return *a.ParentID, true
}

// Label 是文字樹上顯示的名稱。
func (a Account) Label() string {
	if a.Username != "" {
		return a.Username
	}
	return "#" + strconv.Itoa(a.ID)
}

// Detail 是文字樹上對齊顯示的附加欄位。
func (a Account) Detail() string {
	parts := make([]string, 0, 4)
	if a.Role != "" {
		parts = append(parts, string(a.Role))
	}
	if a.Status != "" {
		parts = append(parts, a.Status)
	}
	if a.Balance != "" {
		parts = append(parts, "bal="+a.Balance.String())
	}
	if a.CommissionRate != "" {
		parts = append(parts, "rate="+a.CommissionRate.String())
	}
	return strings.Join(parts, " ")
}

func (a *Account) UnmarshalJSON(b []byte) error {
	var al accountAlias
	if err := json.Unmarshal(b, &al); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, k := range accountKeys {
		delete(raw, k)
	}
	al.Extra = nil
	if len(raw) > 0 {
		al.Extra = raw
	}
	*a = Account(al)
	return nil
}

func (a Account) MarshalJSON() ([]byte, error) {
	m, err := a.fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// fields 回傳已知欄位 + Extra 的平面 map；已知欄位優先。
func (a Account) fields() (map[string]json.RawMessage, error) {
	b, err := json.Marshal(accountAlias(a))
	if err != nil {
		return nil, err
	}
	m := make(map[string]json.RawMessage, len(accountKeys)+len(a.Extra))
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range a.Extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return m, nil
}

// FlatAccount 是攤平後的一列：Account 欄位 + 樹狀顯示欄位，輸出在同一層。
type FlatAccount struct {
	Account
	Depth           int
	HasChildren     bool
	IsLastSibling   bool
	ConnectorLines  []bool
	DescendantCount int
	Orphan          bool
}

func NewFlatAccounts(nodes []tree.FlatNode[Account]) []FlatAccount {
	out := make([]FlatAccount, len(nodes))
	for i, n := range nodes {
		out[i] = FlatAccount{
			Account:         n.Item,
			Depth:           n.Depth,
			HasChildren:     n.HasChildren,
			IsLastSibling:   n.IsLastSibling,
			ConnectorLines:  n.ConnectorLines,
			DescendantCount: n.DescendantCount,
			Orphan:          n.Orphan,
		}
	}
	return out
}

// MarshalJSON 必須自行實作：內嵌的 Account.MarshalJSON 會被提升，否則樹狀欄位會遺失。
func (f FlatAccount) MarshalJSON() ([]byte, error) {
	m, err := f.Account.fields()
	if err != nil {
		return nil, err
	}
	lines := f.ConnectorLines
	if lines == nil {
		lines = []bool{}
	}
	for k, v := range map[string]any{
		"depth":            f.Depth,
		"has_children":     f.HasChildren,
		"is_last_sibling":  f.IsLastSibling,
		"connector_lines":  lines,
		"descendant_count": f.DescendantCount,
		"orphan":           f.Orphan,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = b
	}
	return json.Marshal(m)
}

// MarshalYAML 走 JSON 的欄位命名，讓 ?format=yaml 與 json 輸出一致。
func (f FlatAccount) MarshalYAML() (any, error) {
	b, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// TreeResult 是 /v1/tree 與 /v1/flatten 的回應。
type TreeResult struct {
	Resource string        `json:"resource,omitempty" yaml:"resource,omitempty"`
	Orphans  string        `json:"orphans" yaml:"orphans"`
	Items    []FlatAccount `json:"items" yaml:"items"`
	Summary  tree.Summary  `json:"summary" yaml:"summary"`
}

// NewTreeResult 攤平 accounts 並附上統計。
func NewTreeResult(resource string, accounts []Account, mode tree.OrphanMode) *TreeResult {
	nodes := tree.Flatten(accounts, tree.WithOrphanMode(mode))
	return &TreeResult{
		Resource: resource,
		Orphans:  mode.String(),
		Items:    NewFlatAccounts(nodes),
		Summary:  tree.Summarize(nodes),
	}
}

// Nodes 還原成 tree.FlatNode，供文字輸出使用。
func (r *TreeResult) Nodes() []tree.FlatNode[Account] {
	out := make([]tree.FlatNode[Account], len(r.Items))
	for i, f := range r.Items {
		out[i] = tree.FlatNode[Account]{
			Item:            f.Account,
			ID:              f.ID,
			Depth:           f.Depth,
			HasChildren:     f.HasChildren,
			IsLastSibling:   f.IsLastSibling,
			ConnectorLines:  f.ConnectorLines,
			DescendantCount: f.DescendantCount,
			Orphan:          f.Orphan,
		}
	}
	return out
}
