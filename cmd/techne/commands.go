package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/techne/internal/config"
	"github.com/kalambet/techne/internal/intent"
	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/router"
	"github.com/kalambet/techne/internal/search"
	"github.com/kalambet/techne/internal/storage"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recent discussions for tags matching a query",
	Long: `Search recent discussions for tags matching a query.

Progress lines are printed as each stage completes.

Examples:
  techne search rust async runtimes
  techne search --last`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetBool("last")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if last {
			return showLastSearch(cmd, client)
		}
		if len(args) == 0 {
			return fmt.Errorf("a query is required")
		}

		resp, err := client.post(cmd.Context(), "/search", map[string]string{"query": strings.Join(args, " ")})
		if err != nil {
			return err
		}

		var result search.Result
		err = readEvents(resp, func(ev sseEvent) error {
			switch ev.Name {
			case "progress":
				var p search.Progress
				if err := json.Unmarshal(ev.Data, &p); err != nil {
					return fmt.Errorf("decoding progress: %w", err)
				}
				printStep("%s", p.Line)
			case "result":
				if err := json.Unmarshal(ev.Data, &result); err != nil {
					return fmt.Errorf("decoding result: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if result.Error != "" {
			return fmt.Errorf("search failed: %s", result.Error)
		}
		printMatches(result.Matches)
		return nil
	},
}

func showLastSearch(cmd *cobra.Command, client *apiClient) error {
	resp, err := client.get(cmd.Context(), "/search/last")
	if err != nil {
		return err
	}
	var last struct {
		search.LastSearch
		Age string `json:"age"`
	}
	if err := decodeJSON(resp, &last); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s\n", colorize(colorBold, last.Query), colorize(colorDim, "("+last.Age+")"))
	printMatches(last.Matches)
	return nil
}

func printMatches(matches []ranking.TagMatch) {
	if len(matches) == 0 {
		fmt.Fprintln(stdout, "No matching discussions found.")
		return
	}
	for i, m := range matches {
		fmt.Fprintf(stdout, "%2d. %s [%.3f]\n", i+1, colorize(colorBold, m.Tag), m.Score)
		fmt.Fprintf(stdout, "    %s\n", colorize(colorCyan, m.Anchor))
	}
}

func init() {
	searchCmd.Flags().Bool("last", false, "show the most recent search instead of running one")
}

// --- rank ---

var rankCmd = &cobra.Command{
	Use:   "rank <tag> [tag...]",
	Short: "Rank candidate tags against your history",
	Long: `Rank candidate tags against your history.

Every tag gets the --type and --anchor given; use the API for mixed input.

Examples:
  techne rank rust zig "game engines" --anchor https://news.ycombinator.com/item?id=1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		anchor, _ := cmd.Flags().GetString("anchor")

		req := router.RankTagsRequest{StoryTags: args}
		for range args {
			req.TagTypes = append(req.TagTypes, typ)
			req.TagAnchors = append(req.TagAnchors, anchor)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/rank", req)
		if err != nil {
			return err
		}
		var out router.RankTagsResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for i, tag := range out.Result.Tags {
			fmt.Fprintf(stdout, "%2d. %s\n", i+1, tag)
		}
		return nil
	},
}

func init() {
	rankCmd.Flags().String("type", "thread_theme", "tag type applied to every tag")
	rankCmd.Flags().String("anchor", "", "anchor URL applied to every tag")
}

// --- intent ---

var intentCmd = &cobra.Command{
	Use:   "intent <message>",
	Short: "Classify whether a chat message is a search request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/intent", router.DetectIntentRequest{Message: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var res intent.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if res.IsSearch {
			printStatus("Search", "yes, query %q", res.SearchQuery)
		} else {
			printStatus("Search", "no")
		}
		printStatus("Confidence", "%.2f", res.Confidence)
		if res.Reasoning != "" {
			printStatus("Reasoning", "%s", res.Reasoning)
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear tag and search history",
}

var historyTagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List recorded tags, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		wipe, _ := cmd.Flags().GetBool("clear")
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if wipe {
			return clearHistory(cmd, client, "/tags", "tag")
		}

		resp, err := client.get(cmd.Context(), "/tags")
		if err != nil {
			return err
		}
		var tags []storage.Tag
		if err := decodeJSON(resp, &tags); err != nil {
			return err
		}
		if len(tags) == 0 {
			fmt.Fprintln(stdout, "No tags recorded.")
			return nil
		}
		for i, t := range tags {
			if limit > 0 && i >= limit {
				break
			}
			fmt.Fprintf(stdout, "%s  %s  %s\n",
				colorize(colorDim, t.Timestamp.Local().Format(time.DateTime)),
				colorize(colorBold, t.Tag),
				t.Anchor,
			)
		}
		return nil
	},
}

var historySearchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List recorded searches, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		wipe, _ := cmd.Flags().GetBool("clear")
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if wipe {
			return clearHistory(cmd, client, "/searches", "search")
		}

		resp, err := client.get(cmd.Context(), "/searches")
		if err != nil {
			return err
		}
		var searches []storage.Search
		if err := decodeJSON(resp, &searches); err != nil {
			return err
		}
		if len(searches) == 0 {
			fmt.Fprintln(stdout, "No searches recorded.")
			return nil
		}
		for i, s := range searches {
			if limit > 0 && i >= limit {
				break
			}
			fmt.Fprintf(stdout, "%s  %s\n",
				colorize(colorDim, s.Timestamp.Local().Format(time.DateTime)),
				truncate(s.Query, 80),
			)
		}
		return nil
	},
}

func clearHistory(cmd *cobra.Command, client *apiClient, path, noun string) error {
	confirm, _ := cmd.Flags().GetBool("confirm")
	if !confirm {
		printWarning("This deletes all %s history. Use --confirm to proceed.", noun)
		return nil
	}
	resp, err := client.delete(cmd.Context(), path)
	if err != nil {
		return err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return err
	}
	printSuccess("Cleared %s history", noun)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{historyTagsCmd, historySearchesCmd} {
		c.Flags().Int("limit", 20, "maximum number of entries to list (0 for all)")
		c.Flags().Bool("clear", false, "delete the history instead of listing it")
		c.Flags().Bool("confirm", false, "confirm --clear")
		historyCmd.AddCommand(c)
	}
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change user settings stored by the server",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show [key]",
	Short: "Show all settings, or one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/settings"
		if len(args) == 1 {
			path += "/" + url.PathEscape(args[0])
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var v any
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}
		return printJSON(v)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting; the value is parsed as JSON, falling back to a string",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/settings/"+url.PathEscape(key), map[string]json.RawMessage{"value": settingValue(value)})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Restore a setting to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/settings/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Reset %s", args[0])
		return nil
	},
}

// settingValue passes valid JSON through and quotes anything else, so
// `settings set chat_model llama3.2:1b` needs no shell quoting.
func settingValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsResetCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the model backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/models")
		if err != nil {
			return err
		}
		var out struct {
			Models []string `json:"models"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for _, m := range out.Models {
			fmt.Fprintln(stdout, m)
		}
		return nil
	},
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
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.ValidKeys() {
			fmt.Fprintln(stdout, k)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd, configKeysCmd)
}
