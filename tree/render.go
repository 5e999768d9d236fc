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
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// RenderOption 控制文字樹的外觀。四個 icon 應有相同顯示寬度，否則欄位會錯位。
//
//	1
//	├ 2
//	│ └ 4
//	└ 3
type RenderOption struct {
	Vertical string // 祖先後面還有兄弟："│ "
	Blank    string // 祖先已是最後一個："  "
	Branch   string // 本列不是最後一個兄弟："├ "
	Last     string // 本列是最後一個兄弟："└ "

	// MaxLabelWidth > 0 時，label 依顯示寬度截斷（中文帳號佔兩格）。
	MaxLabelWidth int
}

func DefaultRenderOption() RenderOption {
	return RenderOption{
		Vertical: "│ ",
		Blank:    "  ",
		Branch:   "├ ",
		Last:     "└ ",
	}
}

func (o *RenderOption) norm() {
	d := DefaultRenderOption()
	if o.Vertical == "" {
		o.Vertical = d.Vertical
	}
	if o.Blank == "" {
		o.Blank = d.Blank
	}
	if o.Branch == "" {
		o.Branch = d.Branch
	}
	if o.Last == "" {
		o.Last = d.Last
	}
}

// Prefix 回傳某一列在 label 前面的連接線字串。根節點為空字串。
// 深度 0 的欄位不畫，因此頂層樹之間永遠不相連。
func Prefix[T any](n FlatNode[T], opt RenderOption) string {
	if n.Depth == 0 {
		return ""
	}
	opt.norm()
	var sb strings.Builder
	for i := 1; i < n.Depth && i < len(n.ConnectorLines); i++ {
		if n.ConnectorLines[i] {
			sb.WriteString(opt.Vertical)
		} else {
			sb.WriteString(opt.Blank)
		}
	}
	if n.IsLastSibling {
		sb.WriteString(opt.Last)
	} else {
		sb.WriteString(opt.Branch)
	}
	return sb.String()
}

// Render 將攤平結果寫成文字樹，每列一個節點。
// detail 不為 nil 時，其輸出會對齊到同一欄（例如餘額、狀態）。
func Render[T any](w io.Writer, nodes []FlatNode[T], label func(T) string, detail func(T) string, opt RenderOption) error {
	opt.norm()

	heads := make([]string, len(nodes))
	width := 0
	for i, n := range nodes {
		l := label(n.Item)
		if opt.MaxLabelWidth > 0 {
			l = runewidth.Truncate(l, opt.MaxLabelWidth, "…")
		}
		heads[i] = Prefix(n, opt) + l
		width = max(width, runewidth.StringWidth(heads[i]))
	}

	bw := bufio.NewWriter(w)
	for i, n := range nodes {
		line := heads[i]
		if detail != nil {
			if d := detail(n.Item); d != "" {
				line = runewidth.FillRight(line, width) + "  " + d
			}
		}
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
