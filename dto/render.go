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
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/zintix-labs/agenttree/tree"
)

// ContentType 回傳各格式的 HTTP Content-Type。
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml; charset=utf-8"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// WriteTree 依格式輸出攤平結果。text 格式只輸出樹本身，width 為 label 最大顯示寬度。
func WriteTree(w io.Writer, f Format, res *TreeResult, width int) error {
	switch f {
	case FormatYAML:
		return WriteYAML(w, res)
	case FormatText:
		opt := tree.DefaultRenderOption()
		opt.MaxLabelWidth = width
		return tree.Render(w, res.Nodes(), Account.Label, Account.Detail, opt)
	default:
		return json.NewEncoder(w).Encode(res)
	}
}

// WriteSummary 依格式輸出統計；text 為兩欄表格。
func WriteSummary(w io.Writer, f Format, s *tree.Summary) error {
	switch f {
	case FormatYAML:
		return WriteYAML(w, s)
	case FormatText:
		tw := tablewriter.NewWriter(w)
		tw.SetHeader([]string{"metric", "value"})
		tw.SetAlignment(tablewriter.ALIGN_LEFT)
		tw.AppendBulk([][]string{
			{"nodes", strconv.Itoa(s.Nodes)},
			{"roots", strconv.Itoa(s.Roots)},
			{"orphans", strconv.Itoa(s.Orphans)},
			{"leaves", strconv.Itoa(s.Leaves)},
			{"max depth", strconv.Itoa(s.MaxDepth)},
			{"max descendants", strconv.Itoa(s.MaxDescendants)},
			{"mean descendants", strconv.FormatFloat(s.MeanDescendants, 'f', 2, 64)},
			{"stddev descendants", strconv.FormatFloat(s.StdDevDescendants, 'f', 2, 64)},
		})
		tw.Render()
		return nil
	default:
		return json.NewEncoder(w).Encode(s)
	}
}

// WriteYAML 輸出 YAML；只含純量的陣列（例如 connector_lines）以 flow style 呈現在同一行。
func WriteYAML[T any](w io.Writer, t *T) error {
	var node yaml.Node
	if err := node.Encode(t); err != nil {
		return err
	}
	flowScalarSequences(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&node)
}

func flowScalarSequences(n *yaml.Node) {
	if n == nil {
		return
	}
	scalarOnly := n.Kind == yaml.SequenceNode
	for _, c := range n.Content {
		flowScalarSequences(c)
		if c != nil && c.Kind != yaml.ScalarNode {
			scalarOnly = false
		}
	}
	if scalarOnly {
		n.Style = yaml.FlowStyle
	}
}
