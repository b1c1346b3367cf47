package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arlojames/btstack/internal/cliutil"
	"github.com/arlojames/btstack/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (env vars + config file + defaults)",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cliutil.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		if format == cliutil.FormatTable {
			format = cliutil.FormatYAML // Config has no natural tabular shape
		}
		return cliutil.NewPrinter(os.Stdout, format).Print(cfg)
	},
}

var schemaOutput string

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON schema for btstack's configuration file",
	Long: `schema reflects pkg/config.Config into a JSON schema, useful for
IDE autocompletion and config file validation. Prints to stdout, or
writes to --output when given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		schema := reflector.Reflect(&config.Config{})
		schema.Version = "https://json-schema.org/draft/2020-12/schema"
		schema.Title = "btstack Configuration"
		schema.Description = "Configuration schema for btstackctl / btstack's pkg/config"

		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("generate schema: %w", err)
		}

		if schemaOutput != "" {
			if err := os.WriteFile(schemaOutput, out, 0o644); err != nil {
				return fmt.Errorf("write schema file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	configSchemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "output file (default: stdout)")
	configCmd.AddCommand(configSchemaCmd)
}
