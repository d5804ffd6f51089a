package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bugbusters/bugbuster/internal/api"
	"github.com/bugbusters/bugbuster/internal/config"
	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/pipeline"
	"github.com/bugbusters/bugbuster/internal/recordstore"
	"github.com/bugbusters/bugbuster/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the running server a question about defects",
	Long: `Ask the running server a question about defects.

Examples:
  bugbuster ask "What is the root cause of SCRUM-15?"
  bugbuster ask "list all defects"
  bugbuster ask --conversation 2f1c... "and who owns it?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, _ := cmd.Flags().GetString("conversation")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := ask(cmd.Context(), client, strings.Join(args, " "), convID)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Response.Message)
		printStatus("Conversation", "%s", resp.ConversationID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation id to continue")
	askCmd.Flags().Bool("json", false, "print the raw JSON response")
}

func ask(ctx context.Context, client *apiClient, question, convID string) (api.ChatResponse, error) {
	var out api.ChatResponse
	resp, err := client.post(ctx, "/defects/response", api.ChatRequest{Prompt: question, ConversationID: convID})
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

// --- reload ---

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload records and rebuild the index on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := reload(cmd.Context(), client)
		if err != nil {
			return err
		}
		printSuccess("Loaded %d records (dimension %d)", st.Records, st.Dimension)
		return nil
	},
}

func reload(ctx context.Context, client *apiClient) (pipeline.Stats, error) {
	var st pipeline.Stats
	resp, err := client.post(ctx, "/admin/reload", nil)
	if err != nil {
		return st, err
	}
	err = decodeJSON(resp, &st)
	return st, err
}

// --- defects ---

var defectsCmd = &cobra.Command{
	Use:   "defects",
	Short: "Inspect active defect records",
}

var defectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the records the server is answering from",
	RunE: func(cmd *cobra.Command, args []string) error {
		width, _ := cmd.Flags().GetInt("width")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/defects")
		if err != nil {
			return err
		}
		var rows []defectRow
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No defects loaded.")
			return nil
		}
		return writeDefectTable(cmd.OutOrStdout(), rows, width)
	},
}

func init() {
	defectsListCmd.Flags().Int("width", 60, "maximum summary width")
	defectsCmd.AddCommand(defectsListCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import defect documents from a JSON file into local storage",
	Long: `Import defect documents from a JSON array into local storage.

The file uses the defect_cause document shape:
  [{"bug_id": "SCRUM-15", "Defect Summary": "...", "rootCause": {...}, ...}]

Existing records with the same id are replaced. Pass --reload to make a
running server pick the records up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		doReload, _ := cmd.Flags().GetBool("reload")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		n, err := importFile(cmd.Context(), store, file)
		if err != nil {
			return err
		}
		printSuccess("Imported %d records from %s", n, file)

		if doReload {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if _, err := reload(cmd.Context(), client); err != nil {
				printWarning("records imported but reload failed: %v", err)
			}
		}
		return nil
	},
}

func init() {
	importCmd.Flags().String("file", "", "JSON file of defect documents")
	importCmd.Flags().Bool("reload", false, "reload the running server afterwards")
	importCmd.MarkFlagRequired("file")
}

// defectUpserter is the storage used by import.
type defectUpserter interface {
	UpsertDefects(ctx context.Context, recs []defect.Record) error
}

func importFile(ctx context.Context, store defectUpserter, path string) (int, error) {
	recs, err := recordstore.NewFile(path).Load(ctx)
	if err != nil {
		return 0, err
	}
	recs, dropped := defect.Dedupe(recs)
	for _, id := range dropped {
		printWarning("skipping duplicate id %s", id)
	}
	if err := store.UpsertDefects(ctx, recs); err != nil {
		return 0, fmt.Errorf("storing records: %w", err)
	}
	return len(recs), nil
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Queue ingest jobs on the running server",
}

var ingestServiceNowCmd = &cobra.Command{
	Use:   "servicenow",
	Short: "Fetch incidents from ServiceNow",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueIngest(cmd.Context(), api.IngestRequest{Type: "servicenow"})
	},
}

var ingestRCACmd = &cobra.Command{
	Use:   "rca",
	Short: "Parse an RCA document (.docx, .pdf, .html or text) for a bug",
	Long: `Parse an RCA document for a bug.

Examples:
  bugbuster ingest rca --bug-id SCRUM-15 --file ./rca.pdf --owner Nisha`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bugID, _ := cmd.Flags().GetString("bug-id")
		file, _ := cmd.Flags().GetString("file")
		owner, _ := cmd.Flags().GetString("owner")
		bugURL, _ := cmd.Flags().GetString("url")

		req, err := rcaRequest(bugID, file, owner, bugURL)
		if err != nil {
			return err
		}
		return queueIngest(cmd.Context(), req)
	},
}

var ingestBugCmd = &cobra.Command{
	Use:   "bug",
	Short: "Record a bug that has no RCA document",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.IngestRequest{Type: "bug"}
		req.BugID, _ = cmd.Flags().GetString("bug-id")
		req.BugURL, _ = cmd.Flags().GetString("url")
		req.Owner, _ = cmd.Flags().GetString("owner")
		req.Summary, _ = cmd.Flags().GetString("summary")
		req.Description, _ = cmd.Flags().GetString("description")
		req.Comments, _ = cmd.Flags().GetStringArray("comment")
		return queueIngest(cmd.Context(), req)
	},
}

func init() {
	ingestRCACmd.Flags().String("bug-id", "", "bug id, e.g. SCRUM-15")
	ingestRCACmd.Flags().String("file", "", "RCA document")
	ingestRCACmd.Flags().String("owner", "", "bug owner")
	ingestRCACmd.Flags().String("url", "", "bug URL")
	ingestRCACmd.MarkFlagRequired("bug-id")
	ingestRCACmd.MarkFlagRequired("file")

	ingestBugCmd.Flags().String("bug-id", "", "bug id, e.g. SCRUM-15")
	ingestBugCmd.Flags().String("url", "", "bug URL")
	ingestBugCmd.Flags().String("owner", "", "bug owner")
	ingestBugCmd.Flags().String("summary", "", "bug summary")
	ingestBugCmd.Flags().String("description", "", "bug description")
	ingestBugCmd.Flags().StringArray("comment", nil, "bug comment (repeatable)")
	ingestBugCmd.MarkFlagRequired("bug-id")

	ingestCmd.AddCommand(ingestServiceNowCmd)
	ingestCmd.AddCommand(ingestRCACmd)
	ingestCmd.AddCommand(ingestBugCmd)
}

// rcaRequest reads an RCA document and attaches it base64-encoded; the
// server picks the text extractor from the file name.
func rcaRequest(bugID, path, owner, bugURL string) (api.IngestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.IngestRequest{}, fmt.Errorf("reading file: %w", err)
	}
	return api.IngestRequest{
		Type:     "rca",
		BugID:    bugID,
		BugURL:   bugURL,
		Owner:    owner,
		Filename: filepath.Base(path),
		Content:  base64.StdEncoding.EncodeToString(data),
	}, nil
}

func queueIngest(ctx context.Context, req api.IngestRequest) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	id, err := postIngest(ctx, client, req)
	if err != nil {
		return err
	}
	printSuccess("Queued %s job %s", req.Type, id)
	return nil
}

func postIngest(ctx context.Context, client *apiClient, req api.IngestRequest) (string, error) {
	resp, err := client.post(ctx, "/admin/ingest", req)
	if err != nil {
		return "", err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result["id"], nil
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Inspect answered questions",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		session, _ := cmd.Flags().GetString("conversation")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		interactions, err := listInteractions(cmd.Context(), client, session, limit)
		if err != nil {
			return err
		}
		if len(interactions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			status := ix.State
			if ix.Status == "failed" {
				status = colorize(colorRed, "failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-18s %s\n",
				colorize(colorCyan, shortID(ix.ID)),
				ix.CreatedAt.Format("2006-01-02 15:04:05"),
				status,
				truncate(ix.UserQuery, 80),
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var interaction storage.Interaction
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsListCmd.Flags().String("conversation", "", "only this conversation")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

func listInteractions(ctx context.Context, client *apiClient, session string, limit int) ([]storage.Interaction, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if session != "" {
		q.Set("session_id", session)
	}
	resp, err := client.get(ctx, "/admin/interactions?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var out []storage.Interaction
	err = decodeJSON(resp, &out)
	return out, err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration (secrets hidden)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
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

var configSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store a secret read from stdin in the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
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
	configCmd.AddCommand(configSecretCmd)
}

// readSecret returns the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty secret")
	}
	return line, nil
}
