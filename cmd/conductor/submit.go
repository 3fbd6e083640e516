package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func submitCmd() *cobra.Command {
	var (
		serverURL string
		apiKey    string
		jobType   string
		payload   string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to a running conductor server over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobType == "" {
				return fmt.Errorf("--type is required")
			}
			var raw json.RawMessage = json.RawMessage("null")
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("--payload must be valid JSON")
				}
				raw = json.RawMessage(payload)
			}

			body, err := json.Marshal(map[string]any{"type": jobType, "payload": raw})
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, serverURL+"/v1/jobs", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+apiKey)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("submitting job: %w", err)
			}
			defer resp.Body.Close()

			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("server returned %s: %s", resp.Status, out)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the running conductor server")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "tenant API key")
	cmd.Flags().StringVar(&jobType, "type", "", "job type to submit")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON-encoded job payload")
	return cmd
}
