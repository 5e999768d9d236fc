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
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// goCmd 執行 go 子指令；filter 為 nil 時直接接到終端，否則 stdout/stderr 合併後逐行交給 filter。
func goCmd(filter func(line string), args ...string) error {
	cmd := exec.Command("go", args...)
	if filter == nil {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		return cmd.Run()
	}

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout // 2>&1，編譯錯誤才看得到
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start go %s: %w", args[0], err)
	}
	sc := bufio.NewScanner(pipe)
	for sc.Scan() {
		filter(sc.Text())
	}
	if err := sc.Err(); err != nil {
		PrintRed(fmt.Sprintf("scanner error: %v", err))
	}
	return cmd.Wait()
}

func summaryFilter(line string) {
	switch {
	case strings.HasPrefix(line, "ok"):
		PrintGreen(line)
	case strings.HasPrefix(line, "FAIL"),
		strings.Contains(line, "build failed"),
		strings.Contains(line, "setup failed"),
		strings.Contains(line, "DATA RACE"):
		PrintRed(line)
	}
}

func detailFilter(line string) {
	switch {
	case strings.Contains(line, "[no test files]"):
	case strings.HasPrefix(line, "ok"), strings.HasPrefix(line, "--- PASS"):
		PrintGreen(line)
	case strings.HasPrefix(line, "FAIL"), strings.HasPrefix(line, "--- FAIL"):
		PrintRed(line)
	default:
		fmt.Println(line)
	}
}
