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

package v1

import (
	"io"
	"net/http"

	"github.com/zintix-labs/agenttree/dto"
	"github.com/zintix-labs/agenttree/server/httperr"
)

// Flatten : POST /v1/flatten?format=json|yaml|text
//
// body 為 {"items": [...], "orphans": "flat|nested"}，不經過後端，直接攤平呼叫端給的清單。
func Flatten(w http.ResponseWriter, r *http.Request) {
	f, err := dto.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httperr.Errs(w, err)
		return
	}
	req, mode, err := dto.DecodeFlattenRequest(r)
	if err != nil {
		httperr.Errs(w, err)
		return
	}
	res := dto.NewTreeResult("", req.Items, mode)
	write(w, r, f, func(b io.Writer) error {
		return dto.WriteTree(b, f, res, 0)
	})
}
