package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/mailrag/internal/assistant"
	"github.com/kalambet/mailrag/internal/config"
	"github.com/kalambet/mailrag/internal/gmail"
	"github.com/kalambet/mailrag/internal/index"
	"github.com/kalambet/mailrag/internal/retrieval"
)

// --- fetch ---

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pull new messages into the local corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(a *app) error {
			p, err := a.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			printSuccess("Fetched %d new of %d listed (%d in corpus, %d evicted)", res.Added, res.Listed, res.Total, res.Evicted)
			return nil
		})
	},
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the search index from the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(a *app) error {
			records, err := a.corpus.Load()
			if err != nil {
				return err
			}
			printStep("Embedding %d emails with %s", len(records), a.embedder.Model())
			res, err := a.builder.Build(cmd.Context(), records)
			if errors.Is(err, index.ErrNothingToIndex) {
				printWarning("Nothing to index (%d skipped, %d failed)", res.Skipped, res.Failed)
				return nil
			}
			if err != nil {
				return err
			}
			printSuccess("Indexed %d emails into %s (%d skipped, %d failed)", res.Indexed, res.Generation, res.Skipped, res.Failed)
			return nil
		})
	},
}

// --- refresh ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch new messages and rebuild the index if anything changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(a *app) error {
			c, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			printSuccess("Fetched %d new messages (%d in corpus)", res.Ingest.Added, res.Ingest.Total)
			if res.Index != nil {
				printSuccess("Indexed %d emails into %s", res.Index.Indexed, res.Index.Generation)
			} else {
				printStatus("Index", "unchanged")
			}
			return nil
		})
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search emails by meaning",
	Long: `Search emails by meaning.

Phrases such as "from alice", "to bob" or "subject budget" narrow the results
to matching senders, recipients or subjects.

Examples:
  mailrag search "quarterly budget from alice"
  mailrag search --top-k 10 "flight confirmation"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		asJSON, _ := cmd.Flags().GetBool("json")
		remote, _ := cmd.Flags().GetBool("server")

		var results []retrieval.Result
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			results, err = client.Search(cmd.Context(), query, topK)
			if err != nil {
				return err
			}
		} else {
			err := withApp(true, func(a *app) error {
				var err error
				results, err = a.retriever.Retrieve(cmd.Context(), query, topK)
				return err
			})
			if err != nil {
				return err
			}
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), results)
		}
		printResults(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("top-k", 0, "number of results (default retrieval.top_k)")
	searchCmd.Flags().Bool("json", false, "print results as JSON")
	searchCmd.Flags().Bool("server", false, "query the running server instead of local files")
}

func printResults(w io.Writer, results []retrieval.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching emails.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), r.Subject)
		fmt.Fprintf(w, "   From: %s\n", r.From)
		if r.To != "" {
			fmt.Fprintf(w, "   To:   %s\n", r.To)
		}
		fmt.Fprintf(w, "   Date: %s\n", r.Date)
		if r.Snippet != "" {
			fmt.Fprintf(w, "   %s\n", colorize(colorCyan, r.Snippet))
		}
	}
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from your recent email",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		asJSON, _ := cmd.Flags().GetBool("json")
		remote, _ := cmd.Flags().GetBool("server")

		var ans assistant.Answer
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			ans, err = client.Ask(cmd.Context(), question, topK)
			if err != nil {
				return err
			}
		} else {
			err := withApp(true, func(a *app) error {
				var err error
				ans, err = a.assistant.Ask(cmd.Context(), question, topK)
				return err
			})
			if err != nil {
				return err
			}
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), ans)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ans.Answer)
		if len(ans.Emails) > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), colorize(colorBold, "Sources:"))
			for _, e := range ans.Emails {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s, %s)\n", e.Subject, e.From, e.Date)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Int("top-k", 0, "number of emails used as context (default retrieval.top_k)")
	askCmd.Flags().Bool("json", false, "print the answer as JSON")
	askCmd.Flags().Bool("server", false, "ask the running server instead of using local files")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently answered questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(false, func(a *app) error {
			entries, err := a.assistant.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No questions asked yet.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", colorize(colorCyan, e.Timestamp.Local().Format(time.DateTime)), colorize(colorBold, e.Question))
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n\n", truncateLine(e.Answer, 200))
			}
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of entries to show")
	historyCmd.Flags().Bool("json", false, "print entries as JSON")
}

func truncateLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- auth ---

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize access to a mail provider",
}

var authGmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Authorize read-only Gmail access and store the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		oauthCfg, err := gmail.OAuthConfig(cfg.CredentialsFile())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in your browser and authorize access:\n\n  %s\n\n", gmail.AuthURL(oauthCfg, "mailrag"))
		fmt.Fprint(cmd.OutOrStdout(), "Paste the authorization code: ")

		code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading code: %w", err)
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return fmt.Errorf("authorization code is required")
		}

		if err := gmail.Exchange(cmd.Context(), oauthCfg, code, cfg.TokenFile()); err != nil {
			return err
		}
		printSuccess("Stored Gmail token at %s", cfg.TokenFile())
		return nil
	},
}

func init() {
	authCmd.AddCommand(authGmailCmd)
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
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store a secret read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(os.Stderr, "Enter value for %s: ", args[0])
		value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading secret: %w", err)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return fmt.Errorf("empty value")
		}
		if err := config.SetSecret(args[0], value); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
