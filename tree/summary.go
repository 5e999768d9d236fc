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
	"gonum.org/v1/gonum/stat"
)

// Summary 是一次攤平結果的統計，後台用來顯示線的規模。
type Summary struct {
	Nodes             int     `json:"nodes" yaml:"nodes"`
	Roots             int     `json:"roots" yaml:"roots"`
	Orphans           int     `json:"orphans" yaml:"orphans"`
	Leaves            int     `json:"leaves" yaml:"leaves"`
	MaxDepth          int     `json:"max_depth" yaml:"max_depth"`
	MaxDescendants    int     `json:"max_descendants" yaml:"max_descendants"`
	MeanDescendants   float64 `json:"mean_descendants" yaml:"mean_descendants"`
	StdDevDescendants float64 `json:"stddev_descendants" yaml:"stddev_descendants"`
}

func Summarize[T any](nodes []FlatNode[T]) Summary {
	s := Summary{Nodes: len(nodes)}
	if len(nodes) == 0 {
		return s
	}
	xs := make([]float64, len(nodes))
	for i, n := range nodes {
		switch {
		case n.Orphan:
			s.Orphans++
		case n.Depth == 0:
			s.Roots++
		}
		if !n.HasChildren {
			s.Leaves++
		}
		s.MaxDepth = max(s.MaxDepth, n.Depth)
		s.MaxDescendants = max(s.MaxDescendants, n.DescendantCount)
		xs[i] = float64(n.DescendantCount)
	}
	if len(xs) < 2 {
		s.MeanDescendants = xs[0]
		return s
	}
	s.MeanDescendants, s.StdDevDescendants = stat.MeanStdDev(xs, nil)
	return s
}
