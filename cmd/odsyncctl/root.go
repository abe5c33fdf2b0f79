package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var daemonAddr string

var rootCmd = &cobra.Command{
	Use:   "odsyncctl",
	Short: "Admin CLI for the odsyncd offline sync daemon",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "http://localhost:8091", "odsyncd address")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueFailedCmd)
	queueCmd.AddCommand(queueRetryCmd)
	rootCmd.AddCommand(conflictsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker, queue and cache diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, "/api/status")
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force an immediate sync batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, "/api/sync/now")
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the sync queue",
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List failed sync items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, "/api/queue/failed")
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset all failed items for retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, "/api/queue/retry")
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved sync conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, "/api/conflicts")
	},
}

// call hits a daemon endpoint and pretty-prints the JSON response.
func call(method, path string) error {
	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(method, daemonAddr+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach odsyncd at %s: %w", daemonAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(body))
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
