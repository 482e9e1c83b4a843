package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calder/tutorpipe/internal/config"
	"github.com/calder/tutorpipe/internal/source"
	"github.com/calder/tutorpipe/internal/storage"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Submit a link for tutorial extraction",
	Long: `Submit a link for tutorial extraction.

Examples:
  tutorpipe submit https://example.com/blog/agents
  tutorpipe submit https://youtu.be/abc123 --message "great walkthrough"
  tutorpipe submit https://x.com/someone/status/123 --hot-news`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		hotNews, _ := cmd.Flags().GetBool("hot-news")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"url": args[0]}
		if message != "" {
			req["message"] = message
		}
		if hotNews {
			req["hot_news"] = true
		}

		resp, err := client.post(cmd.Context(), "/submissions", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Submission %s accepted (%s)", result["id"], result["source_type"])
		if !wait {
			return nil
		}

		return waitForSubmission(cmd, client, result["id"])
	},
}

// waitForSubmission polls until the submission leaves the in-flight states.
func waitForSubmission(cmd *cobra.Command, client *apiClient, id string) error {
	printStep("Waiting for processing...")
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(2 * time.Second):
		}

		resp, err := client.get(cmd.Context(), "/submissions/"+id)
		if err != nil {
			return err
		}
		var sub storage.Submission
		if err := decodeJSON(resp, &sub); err != nil {
			return err
		}

		switch sub.Status {
		case storage.StatusPublished:
			printSuccess("Published")
			return nil
		case storage.StatusFailed:
			printError("Failed: %s (attempt %d of %d)", sub.LastError, sub.Attempts, sub.MaxAttempts)
			return fmt.Errorf("submission failed")
		}
	}
}

func init() {
	submitCmd.Flags().String("message", "", "note accompanying the link")
	submitCmd.Flags().Bool("hot-news", false, "treat the source as a breaking development")
	submitCmd.Flags().Bool("wait", false, "wait for processing to finish")
}

// --- retry ---

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run failed submissions that still have attempts left",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/retry", nil)
		if err != nil {
			return err
		}

		var batch struct {
			Attempted int `json:"attempted"`
			Succeeded int `json:"succeeded"`
			Deferred  int `json:"deferred"`
		}
		if err := decodeJSON(resp, &batch); err != nil {
			return err
		}

		if batch.Attempted == 0 {
			fmt.Println("Nothing to retry.")
			return nil
		}
		printSuccess("Retried %d submissions: %d succeeded, %d deferred",
			batch.Attempted, batch.Succeeded, batch.Deferred)
		return nil
	},
}

// --- detect ---

var detectCmd = &cobra.Command{
	Use:   "detect <url>",
	Short: "Show the source type a URL would be classified as",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(source.Detect(args[0]))
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tutorpipe system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		httpClient := &http.Client{Timeout: 2 * time.Second}

		resp, err := httpClient.Get(serverURL + "/health")
		running := false
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				running = true
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		ollamaResp, err := httpClient.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
		printStatus("Model", "%s", cfg.Ollama.Model)

		if running {
			for _, status := range []string{storage.StatusFailed, storage.StatusPublished} {
				sResp, err := httpClient.Get(serverURL + "/submissions?status=" + url.QueryEscape(status) + "&limit=100")
				if err != nil {
					continue
				}
				var subs []json.RawMessage
				if json.NewDecoder(sResp.Body).Decode(&subs) == nil {
					label := strings.ToUpper(status[:1]) + status[1:]
					printStatus(label, "%s", countLabel(len(subs), 100))
				}
				sResp.Body.Close()
			}
		}

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

// --- tutorials ---

var tutorialsCmd = &cobra.Command{
	Use:   "tutorials",
	Short: "Browse published tutorials",
}

var tutorialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tutorials",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		topic, _ := cmd.Flags().GetString("topic")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/tutorials?limit=%d", limit)
		if topic != "" {
			path += "&topic=" + url.QueryEscape(topic)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var tutorials []storage.Tutorial
		if err := decodeJSON(resp, &tutorials); err != nil {
			return err
		}
		if len(tutorials) == 0 {
			fmt.Println("No tutorials found.")
			return nil
		}

		for _, t := range tutorials {
			stale := ""
			if t.IsStale {
				stale = colorize(colorYellow, " [stale]")
			}
			fmt.Printf("%s  %s%s\n    %d source(s), difficulty %s, maturity %d\n",
				colorize(colorCyan, t.Slug),
				colorize(colorBold, t.Title),
				stale,
				t.SourceCount, t.Difficulty, t.MaturityLevel,
			)
		}
		return nil
	},
}

var tutorialsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over published tutorials",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/tutorials/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var hits []struct {
			Slug    string  `json:"slug"`
			Title   string  `json:"title"`
			Summary string  `json:"summary"`
			Score   float64 `json:"score"`
		}
		if err := decodeJSON(resp, &hits); err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for _, h := range hits {
			fmt.Printf("\n%s [score: %.3f]\n  %s\n  %s\n",
				colorize(colorBold, h.Title), h.Score,
				colorize(colorCyan, h.Slug), h.Summary)
		}
		return nil
	},
}

var tutorialsShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show a full tutorial as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tutorials/"+args[0])
		if err != nil {
			return err
		}

		var tutorial any
		if err := decodeJSON(resp, &tutorial); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tutorial)
	},
}

func init() {
	tutorialsListCmd.Flags().Int("limit", 20, "maximum number of tutorials to list")
	tutorialsListCmd.Flags().String("topic", "", "filter by topic")
	tutorialsSearchCmd.Flags().Int("limit", 10, "maximum number of results")
	tutorialsCmd.AddCommand(tutorialsListCmd)
	tutorialsCmd.AddCommand(tutorialsSearchCmd)
	tutorialsCmd.AddCommand(tutorialsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
