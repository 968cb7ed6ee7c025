package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/payq/internal/config"
	"github.com/kalambet/payq/internal/engine"
	"github.com/kalambet/payq/internal/kb"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against a tenant's knowledge base",
	Long: `Ask a question against a tenant's knowledge base and wait for the answer.

Examples:
  payq ask --tenant acme "Who discovered radium?"
  payq ask --tenant acme --tx 0xabc... --payer 0xdef... "What is the capital of France?"
  payq ask --tenant acme --tx 0xabc... --payer 0xdef... --credits "Which element did Marie Curie discover?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		tenant, _ := cmd.Flags().GetString("tenant")
		txRef, _ := cmd.Flags().GetString("tx")
		payer, _ := cmd.Flags().GetString("payer")
		useCredits, _ := cmd.Flags().GetBool("credits")

		if tenant == "" {
			return fmt.Errorf("--tenant is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"question":       question,
			"tenant_id":      tenant,
			"payment_tx_ref": txRef,
			"payer_address":  payer,
			"use_credits":    useCredits,
		}

		resp, err := client.post(cmd.Context(), "/v1/query", req)
		if err != nil {
			return err
		}

		var result struct {
			Success          bool    `json:"success"`
			Answer           string  `json:"answer"`
			Error            string  `json:"error"`
			ProcessingTimeMS float64 `json:"processing_time_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !result.Success {
			printError("Query failed: %s", result.Error)
			return fmt.Errorf("query failed: %s", result.Error)
		}

		fmt.Println(result.Answer)
		printStatus("Processing time", "%.0fms", result.ProcessingTimeMS)
		return nil
	},
}

func init() {
	askCmd.Flags().String("tenant", "", "tenant identifier of the knowledge base")
	askCmd.Flags().String("tx", "", "payment transaction reference")
	askCmd.Flags().String("payer", "", "payer wallet address")
	askCmd.Flags().Bool("credits", false, "pay with pre-purchased credits")
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Submit and track asynchronous queries",
}

var querySubmitCmd = &cobra.Command{
	Use:   "submit <question>",
	Short: "Submit a query without waiting for the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		tenant, _ := cmd.Flags().GetString("tenant")
		txRef, _ := cmd.Flags().GetString("tx")
		payer, _ := cmd.Flags().GetString("payer")
		useCredits, _ := cmd.Flags().GetBool("credits")

		if tenant == "" {
			return fmt.Errorf("--tenant is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"question":       question,
			"tenant_id":      tenant,
			"payment_tx_ref": txRef,
			"payer_address":  payer,
			"use_credits":    useCredits,
		}

		resp, err := client.post(cmd.Context(), "/v1/queries", req)
		if err != nil {
			return err
		}

		var result struct {
			QueryID string `json:"query_id"`
			Status  string `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Submitted query %s", result.QueryID)
		fmt.Println(result.QueryID)
		return nil
	},
}

var queryStatusCmd = &cobra.Command{
	Use:   "status <query-id>",
	Short: "Show the status of a submitted query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/queries/"+args[0])
		if err != nil {
			return err
		}

		var result struct {
			QueryID          string  `json:"query_id"`
			Status           string  `json:"status"`
			Progress         string  `json:"progress"`
			Result           string  `json:"result"`
			Error            string  `json:"error"`
			ProcessingTimeMS float64 `json:"processing_time_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Query", "%s", result.QueryID)
		printStatus("Status", "%s", result.Status)
		if result.Progress != "" {
			printStatus("Progress", "%s", result.Progress)
		}
		switch {
		case result.Error != "":
			printError("%s", result.Error)
		case result.Result != "":
			fmt.Println(result.Result)
			if result.ProcessingTimeMS > 0 {
				printStatus("Processing time", "%.0fms", result.ProcessingTimeMS)
			}
		}
		return nil
	},
}

func init() {
	querySubmitCmd.Flags().String("tenant", "", "tenant identifier of the knowledge base")
	querySubmitCmd.Flags().String("tx", "", "payment transaction reference")
	querySubmitCmd.Flags().String("payer", "", "payer wallet address")
	querySubmitCmd.Flags().Bool("credits", false, "pay with pre-purchased credits")

	queryCmd.AddCommand(querySubmitCmd)
	queryCmd.AddCommand(queryStatusCmd)
}

// --- kb ---

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge base artifacts",
}

var kbBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a tenant's knowledge base artifact from structured triples",
	Long: `Build a tenant's knowledge base artifact from a JSON file of
subject-relation-object triples. Each fact is embedded through the local
inference engine and written, together with the graph edges, into the
tenant's artifact under the data directory.

Example:
  payq kb build --tenant acme --triples ./facts.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		triplesPath, _ := cmd.Flags().GetString("triples")

		if tenant == "" {
			return fmt.Errorf("--tenant is required")
		}
		if triplesPath == "" {
			return fmt.Errorf("--triples is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		triples, err := kb.ReadTriples(triplesPath)
		if err != nil {
			return fmt.Errorf("reading triples: %w", err)
		}
		printStep("Read %d triples from %s", len(triples), triplesPath)

		ctx := cmd.Context()
		eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(ctx, eng, "", cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}

		artifact := kb.ArtifactPath(cfg.Storage.DataDir, tenant)
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		if _, err := os.Stat(artifact); err == nil {
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			if !overwrite {
				printWarning("Artifact %s already exists. Use --overwrite to replace it.", artifact)
				return fmt.Errorf("artifact already exists: %s", artifact)
			}
			if err := os.Remove(artifact); err != nil {
				return fmt.Errorf("removing old artifact: %w", err)
			}
		}

		printStep("Embedding %d facts...", len(triples))
		builder := kb.NewBuilder(engine.NewEmbedder(eng, cfg.Ollama.EmbedModel))
		if err := builder.Build(ctx, artifact, triples); err != nil {
			return fmt.Errorf("building artifact: %w", err)
		}

		printSuccess("Built knowledge base for tenant %s at %s", tenant, artifact)
		return nil
	},
}

func init() {
	kbBuildCmd.Flags().String("tenant", "", "tenant identifier")
	kbBuildCmd.Flags().String("triples", "", "path to the structured triples JSON file")
	kbBuildCmd.Flags().Bool("overwrite", false, "replace an existing artifact")
	kbCmd.AddCommand(kbBuildCmd)
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
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
