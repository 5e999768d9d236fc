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

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// 開發用工作腳本：go run ./scripts <task>
func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	t, ok := tasks[os.Args[1]]
	if !ok {
		PrintYellow(fmt.Sprintf("Unknown task: %s", os.Args[1]))
		usage()
		os.Exit(1)
	}
	PrintGreen(t.title)
	if err := t.run(os.Args[2:]); err != nil {
		PrintRed(fmt.Sprintf("\n%s: %v", os.Args[1], err))
		os.Exit(1)
	}
}

type task struct {
	title string
	run   func(args []string) error
}

var tasks = map[string]task{
	// 只留 ok / FAIL 與編譯失敗的行
	"test": {"running tests", func([]string) error {
		if err := goCmd(nil, "clean", "-testcache"); err != nil {
			PrintRed(err.Error())
		}
		return goCmd(summaryFilter, "test", "./...", "-cover", "-count=1")
	}},
	"test-detail": {"running tests (detail)", func([]string) error {
		return goCmd(detailFilter, "test", "./...", "-v", "-count=1")
	}},
	// 攤平與 loader 都有併發路徑，race 要常跑
	"race": {"running tests with -race", func([]string) error {
		return goCmd(summaryFilter, "test", "./...", "-race", "-count=1")
	}},
	"bench": {"running tree benchmarks", func([]string) error {
		return goCmd(nil, "test", "./tree/", "-run", "^$", "-bench", ".", "-benchmem")
	}},
	// go run ./scripts serve -config agenttree.yaml
	"serve": {"starting agenttree server", func(args []string) error {
		return goCmd(nil, append([]string{"run", "./cmd/svr"}, args...)...)
	}},
}

func usage() {
	names := make([]string, 0, len(tasks))
	for k := range tasks {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Println("Usage: go run ./scripts [" + strings.Join(names, "|") + "]")
}
