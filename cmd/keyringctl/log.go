// Copyright 2026 The Keyring Authors
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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func logCmd() *cobra.Command {
	var store, label string
	var tail int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/log"
			if store != "" && label != "" {
				path = bindingPath(store, label) + "/log"
			}
			body, err := request(http.MethodGet, path, "", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var entries []struct {
				Seq       uint64 `json:"seq"`
				Timestamp string `json:"timestamp"`
				Slug      string `json:"slug"`
				Status    string `json:"status"`
				Error     string `json:"error"`
			}
			if err := json.Unmarshal(body, &entries); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}
			for _, e := range entries {
				line := fmt.Sprintf("%6d  %s  %s: %s", e.Seq, e.Timestamp, e.Slug, e.Status)
				if e.Error != "" {
					line += " (" + e.Error + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Scope to a store (with --label)")
	cmd.Flags().StringVar(&label, "label", "", "Scope to a binding (requires --store)")
	cmd.Flags().IntVar(&tail, "tail", 0, "Show only the last N entries")
	return cmd
}
