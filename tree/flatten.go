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

// Package tree 把「以 parent 參照串起來的扁平資料」（代理線 / 會員線）
// 投影成前序、帶縮排深度與連接線資訊的扁平清單，供後台以列表方式畫出樹狀結構。
//
// 輸入被視為不可信任的線上資料：可能有懸空的 parent、環、重複 id。
// Flatten 永遠不回傳錯誤，也一定會結束：每個 id 最多輸出一次。
package tree

import (
	"cmp"
	"slices"
	"strings"

	"github.com/zintix-labs/agenttree/errs"
)

// Record 是可被攤平的節點。ParentRef 回傳 (0, false) 代表沒有 parent。
type Record interface {
	NodeID() int
	ParentRef() (int, bool)
}

// OrphanMode 決定「從自然根節點走不到」的節點如何輸出。
type OrphanMode uint8

const (
	// OrphanFlat: 走不到的節點在最後依輸入順序逐一輸出為 depth 0，不再往下展開。
	// 孤兒的子節點若同樣走不到，會變成平行的孤兒而不是巢狀。
	OrphanFlat OrphanMode = iota
	// OrphanNested: 走不到的節點先被升格為額外的根，再用同一套前序走訪展開，
	// 孤兒子樹因此保有巢狀結構。
	OrphanNested
)

func (m OrphanMode) String() string {
	switch m {
	case OrphanNested:
		return "nested"
	default:
		return "flat"
	}
}

// ParseOrphanMode 接受 "" / "flat" / "nested"（不分大小寫）。
func ParseOrphanMode(s string) (OrphanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flat":
		return OrphanFlat, nil
	case "nested":
		return OrphanNested, nil
	default:
		return OrphanFlat, errs.Warnf("unknown orphan mode %q: want flat|nested", s)
	}
}

type Option func(*options)

type options struct {
	orphans OrphanMode
}

func WithOrphanMode(m OrphanMode) Option {
	return func(o *options) { o.orphans = m }
}

// FlatNode 是單一輸出列。
//
//   - Depth: 到所屬根節點之間的祖先數，根為 0。
//   - HasChildren: 存在其他節點的 parent 指向本節點。
//   - IsLastSibling: 在同一個 parent 群組中（依 id 遞增）是否為最後一個。
//   - ConnectorLines: 長度恆等於 Depth；第 i 格為 true 代表深度 i 的祖先後面還有兄弟，
//     畫本列時該欄需要一條直線。深度 0 的欄位永遠是 false，不同的頂層樹之間不畫連線。
//   - DescendantCount: 沿 parent 參照可遞移到達的節點總數（不含自己）。
//   - Orphan: 本列是因為走不到而被當成根輸出的。
type FlatNode[T any] struct {
	Item            T
	ID              int
	Depth           int
	HasChildren     bool
	IsLastSibling   bool
	ConnectorLines  []bool
	DescendantCount int
	Orphan          bool
}

// Flatten 攤平實作 Record 的資料。
func Flatten[T Record](items []T, opts ...Option) []FlatNode[T] {
	return FlattenFunc(items,
		func(t T) int { return t.NodeID() },
		func(t T) (int, bool) { return t.ParentRef() },
		opts...,
	)
}

// FlattenFunc 以呼叫端提供的取值函數攤平任意型別。
//
// 規則：
//  1. 同一 parent 的兄弟依 id 遞增排序；多棵頂層樹依根 id 遞增串接。
//  2. 前序深度優先：先輸出 parent，接著完整輸出其子樹，再換下一個兄弟。
//  3. parent 指向不存在的 id 時視為孤兒，於所有正常樹之後輸出（見 OrphanMode）。
//  4. 以 id 為 key 的 visited 集合把關每一次輸出，環與重複 id 都不會造成重複或無窮迴圈。
//     重複 id 時索引以最後一筆為準，輸出以最先走到的一筆為準，其餘丟棄。
func FlattenFunc[T any](items []T, idOf func(T) int, parentOf func(T) (int, bool), opts ...Option) []FlatNode[T] {
	o := options{orphans: OrphanFlat}
	for _, opt := range opts {
		opt(&o)
	}

	f := &flattener[T]{
		items:   items,
		ix:      buildIndex(items, idOf, parentOf),
		visited: make(map[int]struct{}, len(items)),
		out:     make([]FlatNode[T], 0, len(items)),
	}

	// 自然根
	f.walk(f.ix.roots, false)

	switch o.orphans {
	case OrphanNested:
		// parent 懸空的節點先升格為根，其子樹得以巢狀展開
		for i := range items {
			if f.ix.dangling(i) {
				f.walk([]int{i}, true)
			}
		}
		// 剩下的只可能在環上（或掛在環底下），依輸入順序打斷
		for i := range items {
			f.walk([]int{i}, true)
		}
	default:
		for i := range items {
			f.emitOrphan(i)
		}
	}
	return f.out
}

// -----------------------------------------------------------------------------
//  index
// -----------------------------------------------------------------------------

type index struct {
	ids       []int         // ids[i] = idOf(items[i])
	parents   []int         // parents[i] 僅在 hasParent[i] 時有效
	hasParent []bool
	byID      map[int]int   // id -> item index，重複 id 以最後一筆為準
	children  map[int][]int // parent id -> item indices，依 id 遞增
	roots     []int         // 沒有 parent 的 item indices，依 id 遞增
	desc      map[int]int   // id -> descendant count
}

func buildIndex[T any](items []T, idOf func(T) int, parentOf func(T) (int, bool)) *index {
	n := len(items)
	ix := &index{
		ids:       make([]int, n),
		parents:   make([]int, n),
		hasParent: make([]bool, n),
		byID:      make(map[int]int, n),
		children:  make(map[int][]int),
	}
	for i, it := range items {
		id := idOf(it)
		ix.ids[i] = id
		ix.byID[id] = i
		if p, ok := parentOf(it); ok {
			ix.parents[i], ix.hasParent[i] = p, true
			ix.children[p] = append(ix.children[p], i)
		} else {
			ix.roots = append(ix.roots, i)
		}
	}

	// 穩定排序：重複 id 保持輸入順序，因此「最先走到的一筆」是確定的
	byIDAsc := func(a, b int) int { return cmp.Compare(ix.ids[a], ix.ids[b]) }
	slices.SortStableFunc(ix.roots, byIDAsc)
	for _, g := range ix.children {
		slices.SortStableFunc(g, byIDAsc)
	}

	ix.countDescendants()
	return ix
}

// dangling: 有 parent，但 parent id 不在輸入中。
func (ix *index) dangling(i int) bool {
	if !ix.hasParent[i] {
		return false
	}
	_, ok := ix.byID[ix.parents[i]]
	return !ok
}

// hasChildren 排除指向自己的節點。群組已排序，只需看頭尾。
func (ix *index) hasChildren(id int) bool {
	g := ix.children[id]
	if len(g) == 0 {
		return false
	}
	return ix.ids[g[0]] != id || ix.ids[g[len(g)-1]] != id
}

// countDescendants 以顯式堆疊做後序走訪，自底向上累計，整體 O(n)。
// 指回仍在堆疊上的祖先的邊（環）不計入。
func (ix *index) countDescendants() {
	const (
		inProgress uint8 = 1
		done       uint8 = 2
	)
	state := make(map[int]uint8, len(ix.byID))
	ix.desc = make(map[int]int, len(ix.byID))

	type pending struct{ id, next int }
	var stack []pending
	for _, start := range ix.ids {
		if state[start] != 0 {
			continue
		}
		state[start] = inProgress
		stack = append(stack[:0], pending{id: start})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := ix.children[top.id]
			if top.next < len(kids) {
				c := ix.ids[kids[top.next]]
				top.next++
				if state[c] == 0 {
					state[c] = inProgress
					stack = append(stack, pending{id: c})
				}
				continue
			}

			n := 0
			for j, k := range kids {
				c := ix.ids[k]
				if c == top.id || state[c] != done {
					continue
				}
				if j > 0 && ix.ids[kids[j-1]] == c {
					continue // 重複 id 只算一次
				}
				n += 1 + ix.desc[c]
			}
			ix.desc[top.id] = n
			state[top.id] = done
			stack = stack[:len(stack)-1]
		}
	}
}

// -----------------------------------------------------------------------------
//  traversal
// -----------------------------------------------------------------------------

type flattener[T any] struct {
	items   []T
	ix      *index
	visited map[int]struct{}
	out     []FlatNode[T]
}

// frame 代表一個兄弟群組；lines 為該群組每一列共用的連接線向量（len == depth）。
// tail 指向群組中最後一個尚未輸出的成員，只會往前移。
type frame struct {
	group     []int
	next      int
	tail      int
	depth     int
	lines     []bool
	synthetic bool
}

// walk 以顯式堆疊做前序走訪，深度不受 goroutine stack 限制。
func (f *flattener[T]) walk(group []int, synthetic bool) {
	stack := []frame{{group: group, tail: len(group) - 1, lines: []bool{}, synthetic: synthetic}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.group) {
			stack = stack[:len(stack)-1]
			continue
		}
		i := top.group[top.next]
		top.next++

		id := f.ix.ids[i]
		if _, seen := f.visited[id]; seen {
			continue
		}
		f.visited[id] = struct{}{}

		// 已在別處輸出的重複 id 不算數，最後一個實際輸出的成員才是 last
		for top.tail >= top.next {
			if _, seen := f.visited[f.ix.ids[top.group[top.tail]]]; !seen {
				break
			}
			top.tail--
		}
		last := top.tail < top.next
		f.emit(i, top.depth, top.lines, last, top.synthetic && top.depth == 0)

		kids := f.ix.children[id]
		if len(kids) == 0 {
			continue
		}
		depth := top.depth
		next := make([]bool, depth+1)
		copy(next, top.lines)
		// 根節點底下不延伸直線：兩棵獨立的頂層樹不可被畫成相連
		next[depth] = depth > 0 && !last
		stack = append(stack, frame{group: kids, tail: len(kids) - 1, depth: depth + 1, lines: next})
	}
}

func (f *flattener[T]) emitOrphan(i int) {
	id := f.ix.ids[i]
	if _, seen := f.visited[id]; seen {
		return
	}
	f.visited[id] = struct{}{}
	f.emit(i, 0, nil, true, true)
}

func (f *flattener[T]) emit(i, depth int, lines []bool, last, orphan bool) {
	id := f.ix.ids[i]
	cl := make([]bool, len(lines))
	copy(cl, lines)
	f.out = append(f.out, FlatNode[T]{
		Item:            f.items[i],
		ID:              id,
		Depth:           depth,
		HasChildren:     f.ix.hasChildren(id),
		IsLastSibling:   last,
		ConnectorLines:  cl,
		DescendantCount: f.ix.desc[id],
		Orphan:          orphan,
	})
}
