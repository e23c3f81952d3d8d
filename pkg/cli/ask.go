package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

type askFlags struct {
	schema     string
	maxRetries int
}

func newAskCommand(opts *options) *cobra.Command {
	flags := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the response as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			req := flags.request(args[0], cmd.Flags().Changed("max-retries"))
			return runAsk(cmd, a.ask, req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.schema, "schema", "", "schema to query (defaults to datasource.default_schema)")
	cmd.Flags().IntVar(&flags.maxRetries, "max-retries", 0, "retry budget for this question")
	return cmd
}

func (f *askFlags) request(question string, retriesSet bool) *models.AskRequest {
	req := &models.AskRequest{Question: question, SchemaName: f.schema}
	if retriesSet {
		n := f.maxRetries
		req.MaxRetries = &n
	}
	return req
}

// runAsk prints whatever response the session produced, then reports its error.
func runAsk(cmd *cobra.Command, ask services.AskService, req *models.AskRequest, out io.Writer) error {
	resp, err := ask.Ask(cmd.Context(), req)
	if resp != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(resp); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		return fmt.Errorf("session ended with status %s", resp.Status)
	}
	return nil
}
