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
	"net/url"

	"github.com/spf13/cobra"
)

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Inspect the shared key pool",
	}
	cmd.AddCommand(keyListCmd())
	cmd.AddCommand(keyExportCmd())
	cmd.AddCommand(keyStatsCmd())
	cmd.AddCommand(keyPurgeCmd())
	return cmd
}

func keyPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove pooled keys no binding references",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := request(http.MethodPost, "/v1/keys/purge", "", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				Purged int `json:"purged"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Purged %d orphaned key(s)\n", result.Purged)
			return nil
		},
	}
}

func keyListCmd() *cobra.Command {
	var keyID, subkeyID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pooled keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/keys"
			switch {
			case keyID != "":
				path += "?keyid=" + url.QueryEscape(keyID)
			case subkeyID != "":
				path += "?subkeyid=" + url.QueryEscape(subkeyID)
			}
			body, err := request(http.MethodGet, path, "", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var keys []struct {
				Fingerprint string `json:"fingerprint"`
			}
			if err := json.Unmarshal(body, &keys); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for _, k := range keys {
				fmt.Println(k.Fingerprint)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "keyid", "", "Filter by primary key id (16 hex digits)")
	cmd.Flags().StringVar(&subkeyID, "subkeyid", "", "Filter by subkey id (16 hex digits)")
	return cmd
}

func keyExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <fingerprint>",
		Short: "Export a pooled key as an armored block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := request(http.MethodGet, "/v1/keys/"+url.PathEscape(args[0]),
				"", nil, http.StatusOK)
			if err != nil {
				return err
			}
			fmt.Print(string(body))
			return nil
		},
	}
}

func keyStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <fingerprint>",
		Short: "Show usage statistics for a pooled key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := request(http.MethodGet,
				"/v1/keys/"+url.PathEscape(args[0])+"/stats", "", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var stats struct {
				Created    string `json:"created"`
				Encryption struct {
					Count uint64 `json:"count"`
				} `json:"encryption"`
				Verification struct {
					Count uint64 `json:"count"`
				} `json:"verification"`
			}
			if err := json.Unmarshal(body, &stats); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Created:       %s\n", stats.Created)
			fmt.Printf("Encryptions:   %d\n", stats.Encryption.Count)
			fmt.Printf("Verifications: %d\n", stats.Verification.Count)
			return nil
		},
	}
}
