// Command hutchctl is a thin CLI wrapper around hutchd's HTTP control
// surface: it issues requests and prints a one-line error on failure,
// exiting non-zero.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var daemonAddr string

var rootCmd = &cobra.Command{
	Use:   "hutchctl",
	Short: "Control a running hutchd peer daemon",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "http://127.0.0.1:7070", "hutchd control address")

	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newLeechCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTorrentsCmd())
	rootCmd.AddCommand(newGetTorrentCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hutchctl: %v\n", err)
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func postJSON(path string, body any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(daemonAddr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeOrError(resp)
}

func getJSON(path string) (map[string]any, error) {
	resp, err := httpClient.Get(daemonAddr + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeOrError(resp)
}

func decodeOrError(resp *http.Response) (map[string]any, error) {
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 300 {
		if msg, ok := out["error"].(string); ok {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return out, nil
}

func printJSON(v map[string]any) {
	enc := json.NewEncoder(io.Writer(os.Stdout))
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
