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

// keyringctl talks to a running keyring server over its HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	apiURL    string
	authToken string
	output    string
	timeout   time.Duration
)

var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "keyringctl",
		Short: "Keyring trust store CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("KEYRINGCTL_API_URL")
			}
			if apiURL == "" {
				apiURL = "http://127.0.0.1:8390"
			}
			if authToken == "" {
				authToken = os.Getenv("KEYRINGCTL_TOKEN")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set KEYRINGCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (or set KEYRINGCTL_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(bindingCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keyringctl version %s\n", version)
		},
	}
}

// request performs one API call and returns the response body.  Any
// status outside wantStatus becomes an error built from the server's
// JSON error payload.
func request(method, path, contentType string, body io.Reader, wantStatus int) ([]byte, error) {
	req, err := http.NewRequest(method, apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, data)
	}
	return data, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("Error: %s", errResp.Error)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}

// readKeyInput loads an armored key from a file, or from stdin when
// path is "-" or empty.
func readKeyInput(path string) (io.Reader, error) {
	if path == "" || path == "-" {
		return os.Stdin, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return strings.NewReader(string(data)), nil
}
