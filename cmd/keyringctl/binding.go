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

func bindingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "binding",
		Short: "Manage label to key bindings",
	}
	cmd.AddCommand(bindingListCmd())
	cmd.AddCommand(bindingImportCmd())
	cmd.AddCommand(bindingExportCmd())
	cmd.AddCommand(bindingRotateCmd())
	cmd.AddCommand(bindingDeleteCmd())
	return cmd
}

func bindingPath(store, label string) string {
	return "/v1/stores/" + url.PathEscape(store) + "/bindings/" + url.PathEscape(label)
}

func bindingListCmd() *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bindings in a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := request(http.MethodGet,
				"/v1/stores/"+url.PathEscape(store)+"/bindings", "", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var bindings []struct {
				Label       string `json:"label"`
				Fingerprint string `json:"fingerprint"`
			}
			if err := json.Unmarshal(body, &bindings); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("%-24s %s\n", "LABEL", "FINGERPRINT")
			for _, b := range bindings {
				fp := b.Fingerprint
				if fp == "" {
					fp = "(no key)"
				}
				fmt.Printf("%-24s %s\n", b.Label, fp)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Store name (required)")
	cmd.MarkFlagRequired("store")
	return cmd
}

func bindingImportCmd() *cobra.Command {
	var store, keyFile string
	cmd := &cobra.Command{
		Use:   "import <label>",
		Short: "Import an armored key under a label",
		Long: "Import an armored key under a label. A first import binds the key; " +
			"matching material merges; a different key is rejected unless it is " +
			"signed by the currently bound one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readKeyInput(keyFile)
			if err != nil {
				return err
			}
			body, err := request(http.MethodPut, bindingPath(store, args[0]),
				"application/pgp-keys", in, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var bound struct {
				Fingerprint string `json:"fingerprint"`
			}
			if err := json.Unmarshal(body, &bound); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Bound %q to %s\n", args[0], bound.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Store name (required)")
	cmd.Flags().StringVar(&keyFile, "key-file", "-", "Armored key file (default stdin)")
	cmd.MarkFlagRequired("store")
	return cmd
}

func bindingExportCmd() *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "export <label>",
		Short: "Export the bound key as an armored block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := request(http.MethodGet, bindingPath(store, args[0]),
				"", nil, http.StatusOK)
			if err != nil {
				return err
			}
			fmt.Print(string(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Store name (required)")
	cmd.MarkFlagRequired("store")
	return cmd
}

func bindingRotateCmd() *cobra.Command {
	var store, keyFile string
	cmd := &cobra.Command{
		Use:   "rotate <label>",
		Short: "Replace the bound key without a rotation signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readKeyInput(keyFile)
			if err != nil {
				return err
			}
			body, err := request(http.MethodPost, bindingPath(store, args[0])+"/rotate",
				"application/pgp-keys", in, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var bound struct {
				Fingerprint string `json:"fingerprint"`
			}
			if err := json.Unmarshal(body, &bound); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Rotated %q to %s\n", args[0], bound.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Store name (required)")
	cmd.Flags().StringVar(&keyFile, "key-file", "-", "Armored key file (default stdin)")
	cmd.MarkFlagRequired("store")
	return cmd
}

func bindingDeleteCmd() *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "delete <label>",
		Short: "Delete a binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := request(http.MethodDelete, bindingPath(store, args[0]),
				"", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Printf("Deleted binding %q\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Store name (required)")
	cmd.MarkFlagRequired("store")
	return cmd
}
