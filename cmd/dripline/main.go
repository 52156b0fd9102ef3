package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dripline/dripline/internal/app"
	"github.com/dripline/dripline/internal/auth"
	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/logger"
)

var (
	runLimit  int
	runDryRun bool
)

var rootCmd = &cobra.Command{
	Use:           "dripline",
	Short:         "Operate the dripline email sequencer",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one batch of due contacts and print the summary",
	RunE:  runBatch,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue or inspect unsubscribe tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue [email]",
	Short: "Print the unsubscribe URL for an email",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenIssue,
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify [token]",
	Short: "Verify an unsubscribe token and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenVerify,
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "maximum contacts to process (default sequence.batch_limit)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "render messages without sending or writing")

	tokenCmd.AddCommand(tokenIssueCmd, tokenVerifyCmd)
	rootCmd.AddCommand(runCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, runErr := a.Batch.RunBatch(ctx, runLimit, runDryRun)
	if summary != nil {
		if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	}
	return runErr
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	tokens, cfg, err := loadTokenService()
	if err != nil {
		return err
	}

	addr := auth.NormalizeEmail(args[0])
	if err := auth.ValidateEmail(addr); err != nil {
		return err
	}

	token, err := tokens.Issue(addr)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), map[string]string{
		"email": addr,
		"token": token,
		"url":   unsubscribeURL(cfg.Unsubscribe.PublicBaseURL, token),
	})
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	tokens, _, err := loadTokenService()
	if err != nil {
		return err
	}

	claims, err := tokens.Verify(args[0])
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"email":   claims.Email,
		"purpose": claims.Purpose,
	}
	if claims.IssuedAt != nil {
		out["issuedAt"] = claims.IssuedAt.Time.Format(time.RFC3339)
	}
	if claims.ExpiresAt != nil {
		out["expiresAt"] = claims.ExpiresAt.Time.Format(time.RFC3339)
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func loadTokenService() (*auth.UnsubscribeTokenService, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	tokens, err := auth.NewUnsubscribeTokenService(cfg.Unsubscribe)
	if err != nil {
		return nil, nil, err
	}
	return tokens, cfg, nil
}

func unsubscribeURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/unsubscribe?token=" + url.QueryEscape(token)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
