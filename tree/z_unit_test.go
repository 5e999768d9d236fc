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

package tree

import (
	"bytes"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
)

type rec struct {
	id     int
	parent *int
	name   string
}

func (r rec) NodeID() int { return r.id }

func (r rec) ParentRef() (int, bool) {
	if r.parent == nil {
		return 0, false
	}
	return *r.parent, true
}

func ref(v int) *int { return &v }

func ids[T any](out []FlatNode[T]) []int {
	r := make([]int, len(out))
	for i, n := range out {
		r[i] = n.ID
	}
	return r
}

func byID[T any](out []FlatNode[T]) map[int]FlatNode[T] {
	m := make(map[int]FlatNode[T], len(out))
	for _, n := range out {
		m[n.ID] = n
	}
	return m
}

func canonical() []rec {
	return []rec{
		{id: 1, name: "master"},
		{id: 2, parent: ref(1), name: "agent-a"},
		{id: 3, parent: ref(1), name: "agent-b"},
		{id: 4, parent: ref(2), name: "player"},
	}
}

func TestFlattenCanonical(t *testing.T) {
	out := Flatten(canonical())
	if got := ids(out); !slices.Equal(got, []int{1, 2, 4, 3}) {
		t.Fatalf("unexpected order: %v", got)
	}
	want := []struct {
		depth    int
		last     bool
		children bool
		desc     int
		lines    []bool
	}{
		{0, true, true, 3, []bool{}},
		{1, false, true, 1, []bool{false}},
		{2, true, false, 0, []bool{false, true}},
		{1, true, false, 0, []bool{false}},
	}
	for i, w := range want {
		n := out[i]
		if n.Depth != w.depth || n.IsLastSibling != w.last || n.HasChildren != w.children || n.DescendantCount != w.desc {
			t.Fatalf("node %d: unexpected %+v", n.ID, n)
		}
		if !slices.Equal(n.ConnectorLines, w.lines) {
			t.Fatalf("node %d: lines=%v want %v", n.ID, n.ConnectorLines, w.lines)
		}
		if n.Orphan {
			t.Fatalf("node %d: should not be orphan", n.ID)
		}
	}
	if out[2].Item.name != "player" {
		t.Fatalf("payload not passed through: %+v", out[2].Item)
	}
}

func TestFlattenEmpty(t *testing.T) {
	out := Flatten([]rec{})
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil output, got %v", out)
	}
	if out := Flatten[rec](nil); len(out) != 0 {
		t.Fatalf("expected empty output for nil input")
	}
}

func TestFlattenDanglingParent(t *testing.T) {
	out := Flatten([]rec{{id: 5, parent: ref(99)}})
	if len(out) != 1 {
		t.Fatalf("expected 1 node, got %d", len(out))
	}
	n := out[0]
	if n.ID != 5 || n.Depth != 0 || len(n.ConnectorLines) != 0 || !n.IsLastSibling || !n.Orphan {
		t.Fatalf("unexpected orphan: %+v", n)
	}
}

func TestFlattenOrphansAfterTrees(t *testing.T) {
	in := []rec{
		{id: 9, parent: ref(100)},
		{id: 2},
		{id: 7, parent: ref(200)},
		{id: 1},
		{id: 3, parent: ref(1)},
	}
	if got := ids(Flatten(in)); !slices.Equal(got, []int{1, 3, 2, 9, 7}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestFlattenDuplicateID(t *testing.T) {
	in := []rec{
		{id: 1, name: "first"},
		{id: 1, parent: ref(7), name: "second"},
	}
	out := Flatten(in)
	if len(out) != 1 {
		t.Fatalf("expected exactly one emission, got %d", len(out))
	}
	if out[0].Item.name != "first" {
		t.Fatalf("first reached entry should win, got %q", out[0].Item.name)
	}
}

func TestFlattenLastSkipsEmittedDuplicate(t *testing.T) {
	// id 5 同時掛在 1 與 2 底下；在 1 底下先輸出後，2 的群組尾端已無效
	in := []rec{
		{id: 1, name: "a"},
		{id: 5, parent: ref(1), name: "dup-first"},
		{id: 2, name: "b"},
		{id: 3, parent: ref(2), name: "c"},
		{id: 5, parent: ref(2), name: "dup-second"},
	}
	out := Flatten(in)
	if got := ids(out); !slices.Equal(got, []int{1, 5, 2, 3}) {
		t.Fatalf("unexpected order %v", got)
	}
	if n := out[3]; n.ID != 3 || !n.IsLastSibling {
		t.Fatalf("last emitted sibling must be marked last: %+v", n)
	}
	if n := out[1]; !n.IsLastSibling {
		t.Fatalf("only child must be last: %+v", n)
	}
}

func TestFlattenTwoCycle(t *testing.T) {
	in := []rec{
		{id: 1, parent: ref(2)},
		{id: 2, parent: ref(1)},
	}
	for _, mode := range []OrphanMode{OrphanFlat, OrphanNested} {
		out := Flatten(in, WithOrphanMode(mode))
		got := ids(out)
		slices.Sort(got)
		if !slices.Equal(got, []int{1, 2}) {
			t.Fatalf("%s: expected both ids once, got %v", mode, got)
		}
	}
}

func TestFlattenSelfParent(t *testing.T) {
	out := Flatten([]rec{{id: 3, parent: ref(3)}})
	if len(out) != 1 || out[0].HasChildren || out[0].DescendantCount != 0 {
		t.Fatalf("unexpected self parent output: %+v", out)
	}
}

func TestFlattenIndependentTrees(t *testing.T) {
	in := []rec{
		{id: 4, parent: ref(2)},
		{id: 3, parent: ref(1)},
		{id: 2},
		{id: 1},
	}
	out := Flatten(in)
	if got := ids(out); !slices.Equal(got, []int{1, 3, 2, 4}) {
		t.Fatalf("unexpected order: %v", got)
	}
	m := byID(out)
	if m[1].IsLastSibling || !m[2].IsLastSibling {
		t.Fatalf("root sibling flags wrong: %+v %+v", m[1], m[2])
	}
	// R1 並非最後一個根，但其子節點不可畫出通往 R2 的直線
	if !slices.Equal(m[3].ConnectorLines, []bool{false}) {
		t.Fatalf("child of R1 must not continue a line: %v", m[3].ConnectorLines)
	}
	if got := Prefix(m[3], DefaultRenderOption()); got != "└ " {
		t.Fatalf("unexpected prefix %q", got)
	}
}

func TestFlattenOrphanChain(t *testing.T) {
	in := []rec{
		{id: 12, parent: ref(11)},
		{id: 11, parent: ref(10)},
		{id: 10, parent: ref(99)},
	}

	flat := Flatten(in)
	if got := ids(flat); !slices.Equal(got, []int{12, 11, 10}) {
		t.Fatalf("flat: unexpected order %v", got)
	}
	for _, n := range flat {
		if n.Depth != 0 || !n.Orphan {
			t.Fatalf("flat: expected depth 0 orphan, got %+v", n)
		}
	}
	if m := byID(flat); m[10].DescendantCount != 2 || !m[10].HasChildren {
		t.Fatalf("flat: descendant count should follow parent refs: %+v", m[10])
	}

	nested := Flatten(in, WithOrphanMode(OrphanNested))
	if got := ids(nested); !slices.Equal(got, []int{10, 11, 12}) {
		t.Fatalf("nested: unexpected order %v", got)
	}
	for i, n := range nested {
		if n.Depth != i {
			t.Fatalf("nested: node %d depth=%d want %d", n.ID, n.Depth, i)
		}
		if n.Orphan != (i == 0) {
			t.Fatalf("nested: only the synthetic root is orphan, got %+v", n)
		}
	}
}

func TestFlattenDeepChain(t *testing.T) {
	const n = 5000
	in := make([]rec, n)
	in[0] = rec{id: 1}
	for i := 1; i < n; i++ {
		in[i] = rec{id: i + 1, parent: ref(i)}
	}
	out := Flatten(in)
	if len(out) != n {
		t.Fatalf("expected %d nodes, got %d", n, len(out))
	}
	if out[0].DescendantCount != n-1 {
		t.Fatalf("root descendants=%d want %d", out[0].DescendantCount, n-1)
	}
	if last := out[n-1]; last.Depth != n-1 || len(last.ConnectorLines) != n-1 {
		t.Fatalf("unexpected leaf: depth=%d lines=%d", last.Depth, len(last.ConnectorLines))
	}
}

// randomInput 產生含懸空 parent、環、自我參照的資料，id 唯一。
func randomInput(r *rand.Rand, n int) []rec {
	perm := r.Perm(n)
	in := make([]rec, n)
	for i := range in {
		id := perm[i] + 1
		switch x := r.Intn(10); {
		case x == 0:
			in[i] = rec{id: id}
		case x == 1:
			in[i] = rec{id: id, parent: ref(n + 1 + r.Intn(5))}
		default:
			in[i] = rec{id: id, parent: ref(1 + r.Intn(n))}
		}
	}
	return in
}

func TestFlattenProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		in := randomInput(r, 1+r.Intn(60))
		parentOf := make(map[int]*int, len(in))
		for _, x := range in {
			parentOf[x.id] = x.parent
		}

		for _, mode := range []OrphanMode{OrphanFlat, OrphanNested} {
			out := Flatten(in, WithOrphanMode(mode))
			if len(out) != len(in) {
				t.Fatalf("round %d %s: len=%d want %d", round, mode, len(out), len(in))
			}
			pos := make(map[int]int, len(out))
			for i, n := range out {
				if _, dup := pos[n.ID]; dup {
					t.Fatalf("round %d %s: duplicate id %d", round, mode, n.ID)
				}
				pos[n.ID] = i
				if len(n.ConnectorLines) != n.Depth {
					t.Fatalf("round %d %s: node %d lines=%d depth=%d", round, mode, n.ID, len(n.ConnectorLines), n.Depth)
				}
				if n.Depth > 0 && n.ConnectorLines[0] {
					t.Fatalf("round %d %s: root column must be blank", round, mode)
				}
			}
			// 非根節點深度 = parent 深度 + 1，且 parent 在前
			for _, n := range out {
				if n.Depth == 0 {
					continue
				}
				p := out[pos[*parentOf[n.ID]]]
				if p.Depth+1 != n.Depth || pos[p.ID] >= pos[n.ID] {
					t.Fatalf("round %d %s: node %d depth %d under %d depth %d", round, mode, n.ID, n.Depth, p.ID, p.Depth)
				}
			}
		}
	}
}

func TestFlattenSiblingOrder(t *testing.T) {
	in := []rec{
		{id: 1},
		{id: 30, parent: ref(1)},
		{id: 10, parent: ref(1)},
		{id: 20, parent: ref(1)},
		{id: 11, parent: ref(10)},
		{id: 31, parent: ref(30)},
	}
	out := Flatten(in)
	if got := ids(out); !slices.Equal(got, []int{1, 10, 11, 20, 30, 31}) {
		t.Fatalf("unexpected order: %v", got)
	}
	lasts := 0
	for _, n := range out {
		if n.Depth == 1 && n.IsLastSibling {
			lasts++
			if n.ID != 30 {
				t.Fatalf("last sibling should be max id, got %d", n.ID)
			}
		}
	}
	if lasts != 1 {
		t.Fatalf("expected one last sibling, got %d", lasts)
	}
}

func TestFlattenFunc(t *testing.T) {
	type row struct{ ID, Parent int }
	in := []row{{2, 1}, {1, 0}}
	out := FlattenFunc(in,
		func(r row) int { return r.ID },
		func(r row) (int, bool) { return r.Parent, r.Parent != 0 },
	)
	if got := ids(out); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestParseOrphanMode(t *testing.T) {
	for in, want := range map[string]OrphanMode{"": OrphanFlat, "flat": OrphanFlat, "Nested": OrphanNested} {
		got, err := ParseOrphanMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseOrphanMode(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseOrphanMode("tree"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRender(t *testing.T) {
	var b bytes.Buffer
	label := func(r rec) string { return strconv.Itoa(r.id) }
	if err := Render(&b, Flatten(canonical()), label, nil, DefaultRenderOption()); err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "1\n├ 2\n│ └ 4\n└ 3\n"
	if b.String() != want {
		t.Fatalf("unexpected render:\n%s\nwant:\n%s", b.String(), want)
	}
}

func TestRenderDetailAligned(t *testing.T) {
	var b bytes.Buffer
	label := func(r rec) string { return r.name }
	detail := func(r rec) string { return "#" + strconv.Itoa(r.id) }
	if err := Render(&b, Flatten(canonical()), label, detail, RenderOption{MaxLabelWidth: 5}); err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("unexpected lines: %q", lines)
	}
	col := -1
	for _, l := range lines {
		i := strings.Index(l, "#")
		if i < 0 {
			t.Fatalf("missing detail: %q", l)
		}
		w := runewidth.StringWidth(l[:i])
		if col >= 0 && w != col {
			t.Fatalf("detail column not aligned: %q", lines)
		}
		col = w
	}
	if !strings.Contains(lines[1], "agen…") {
		t.Fatalf("label should be truncated: %q", lines[1])
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(Flatten(append(canonical(), rec{id: 8, parent: ref(77)})))
	if s.Nodes != 5 || s.Roots != 1 || s.Orphans != 1 || s.MaxDepth != 2 || s.Leaves != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.MaxDescendants != 3 || s.MeanDescendants != 0.8 {
		t.Fatalf("unexpected descendant stats: %+v", s)
	}
	if z := Summarize[rec](nil); z.Nodes != 0 || z.MeanDescendants != 0 {
		t.Fatalf("unexpected empty summary: %+v", z)
	}
}

// 典型代理線：10 個總代，每層 5 個下線，共 4 層（1560 筆）
func wideTree() []rec {
	var out []rec
	next := 1
	var grow func(parent *int, depth int)
	grow = func(parent *int, depth int) {
		n := 5
		if parent == nil {
			n = 10
		}
		for i := 0; i < n; i++ {
			id := next
			next++
			out = append(out, rec{id: id, parent: parent})
			if depth < 3 {
				grow(ref(id), depth+1)
			}
		}
	}
	grow(nil, 0)
	rand.New(rand.NewSource(1)).Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func BenchmarkFlatten(b *testing.B) {
	in := wideTree()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Flatten(in)
	}
}

func BenchmarkFlattenRandom(b *testing.B) {
	in := randomInput(rand.New(rand.NewSource(7)), 10000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Flatten(in, WithOrphanMode(OrphanNested))
	}
}
