package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/rovas-connector/internal/config"
	"github.com/goodtune/rovas-connector/internal/rovas"
	"github.com/goodtune/rovas-connector/internal/storage"
	"github.com/spf13/cobra"
)

var (
	credentialsKey     string
	credentialsToken   string
	credentialsProject int64
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the stored Rovas credentials",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the API key, token and project used for reports",
	Example: `  rovas credentials set --key 0123abcd --token s3cr3t --project 4711
  rovas -c ./config.yaml credentials set --key 0123abcd --token s3cr3t --project 4711`,
	RunE: runCredentialsSet,
}

var credentialsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored credentials",
	RunE:  runCredentialsClear,
}

func init() {
	credentialsSetCmd.Flags().StringVar(&credentialsKey, "key", "", "Rovas API key (required)")
	credentialsSetCmd.Flags().StringVar(&credentialsToken, "token", "", "Rovas API token (required)")
	credentialsSetCmd.Flags().Int64Var(&credentialsProject, "project", 0, "Rovas project the work is reported for (required)")
	credentialsSetCmd.MarkFlagRequired("key")
	credentialsSetCmd.MarkFlagRequired("token")
	credentialsSetCmd.MarkFlagRequired("project")

	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsClearCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	creds, ok := rovas.NewCredentials(credentialsKey, credentialsToken, credentialsProject)
	if !ok {
		return fmt.Errorf("key and token must not be blank and the project id must be at least %d", rovas.MinProjectID)
	}

	store, err := openCredentialStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := saveCredentials(context.Background(), store.Credentials(), creds); err != nil {
		return err
	}

	color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(),
		"✅ Stored credentials %s for project %d\n", creds.Masked(), creds.ProjectID())
	return nil
}

func runCredentialsClear(cmd *cobra.Command, args []string) error {
	store, err := openCredentialStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Credentials().Clear(context.Background()); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✅ Stored credentials removed")
	return nil
}

func openCredentialStorage() (storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func saveCredentials(ctx context.Context, store storage.CredentialStore, creds rovas.Credentials) error {
	if err := store.Save(ctx, storage.StoredCredentials{
		APIKey:    creds.APIKey(),
		APIToken:  creds.APIToken(),
		ProjectID: creds.ProjectID(),
		UpdatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}
