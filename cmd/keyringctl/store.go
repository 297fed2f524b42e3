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
	"strings"

	"github.com/spf13/cobra"
)

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage named stores",
	}
	cmd.AddCommand(storeListCmd())
	cmd.AddCommand(storeCreateCmd())
	cmd.AddCommand(storeDeleteCmd())
	return cmd
}

func storeListCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/stores"
			if prefix != "" {
				path += "?prefix=" + url.QueryEscape(prefix)
			}
			body, err := request(http.MethodGet, path, "", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}

			var stores []struct {
				Domain string `json:"domain"`
				Name   string `json:"name"`
				Policy string `json:"policy"`
			}
			if err := json.Unmarshal(body, &stores); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("%-30s %-20s %s\n", "DOMAIN", "NAME", "POLICY")
			for _, s := range stores {
				fmt.Printf("%-30s %-20s %s\n", s.Domain, s.Name, s.Policy)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Domain prefix filter")
	return cmd
}

func storeCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create (or open) a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := fmt.Sprintf(`{"name":%q}`, args[0])
			body, err := request(http.MethodPost, "/v1/stores", "application/json",
				strings.NewReader(payload), http.StatusCreated)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var created struct {
				Domain string `json:"domain"`
				Name   string `json:"name"`
				Policy string `json:"policy"`
			}
			if err := json.Unmarshal(body, &created); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Created store %s/%s (policy: %s)\n", created.Domain, created.Name, created.Policy)
			return nil
		},
	}
}

func storeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a store and its bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := request(http.MethodDelete, "/v1/stores/"+url.PathEscape(args[0]),
				"", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Printf("Deleted store %q\n", args[0])
			}
			return nil
		},
	}
}
