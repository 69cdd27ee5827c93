package main

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tendant/ephemeral/pkg/ephemeral/config"
	"github.com/tendant/ephemeral/pkg/ephemeral/janitor"
)

func sweepCommand() *cobra.Command {
	var maxBatches int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete blobs of expired hubs once and exit",
		Long: `Runs a single orphan sweep against the configured metadata and blob stores.
Useful from a cron job when CLEANUP_MODE=external on the servers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UsesMemoryStore() {
				logger.Warn("REDIS_URL is not set; a one-shot sweep of an empty in-memory store does nothing")
			}
			if cfg.CleanupMode == "off" {
				logger.Warn("CLEANUP_MODE=off: servers do not index expiring hubs, so there is nothing to sweep")
			}

			app, err := cfg.Build(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer app.Close()

			j := janitor.New(app.Service, janitor.Options{
				BatchSize:  cfg.CleanupBatch,
				MaxBatches: maxBatches,
				Logger:     logger,
			})
			result, err := j.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d hubs in %d batches (%s)\n", result.Reclaimed, result.Batches, result.Duration)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxBatches, "max-batches", 1000, "stop after this many batches")
	return cmd
}

func configCommand() *cobra.Command {
	var usage bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if usage {
				fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
				return nil
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			printConfig(cmd, cfg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&usage, "usage", false, "list every environment variable instead")
	return cmd
}

var secretFields = map[string]bool{
	"SigningSecret":   true,
	"SecretAccessKey": true,
}

// printConfig writes one NAME=value line per field, sorted, with secrets masked
func printConfig(cmd *cobra.Command, cfg *config.ServerConfig) {
	var lines []string

	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			value := v.Field(i)
			if field.Type.Kind() == reflect.Struct && field.Tag.Get("env") == "" {
				walk(value)
				continue
			}
			name := field.Tag.Get("env")
			if name == "" {
				continue
			}
			text := fmt.Sprint(value.Interface())
			if secretFields[field.Name] && text != "" {
				text = "****"
			}
			if field.Name == "RedisURL" {
				text = maskPassword(text)
			}
			lines = append(lines, name+"="+text)
		}
	}
	walk(reflect.ValueOf(*cfg))

	sort.Strings(lines)
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
}

func maskPassword(rawURL string) string {
	at := strings.LastIndex(rawURL, "@")
	scheme := strings.Index(rawURL, "://")
	if at < 0 || scheme < 0 {
		return rawURL
	}
	return rawURL[:scheme+3] + "****" + rawURL[at:]
}
