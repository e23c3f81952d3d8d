// Package cli holds the ekaya-ask command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	version    string
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{version: version}

	root := &cobra.Command{
		Use:   "ekaya-ask",
		Short: "Answer natural-language questions with read-only SQL",
		Long: `ekaya-ask translates questions into SQL using an ontology of business
concepts, runs the statement against the configured datasource, and retries
with error feedback until the query succeeds or the retry budget runs out.

Configuration is read from --config when the file exists; environment
variables override file values and carry every secret.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCommand(opts),
		newAskCommand(opts),
		newOntologyCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

// load reads configuration and builds the logger for a command run.
func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath, o.version)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}
