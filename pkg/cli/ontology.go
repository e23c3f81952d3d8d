package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/ontology"
	"github.com/ekaya-inc/ekaya-ask/pkg/schema"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

func newOntologyCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "Inspect and validate ontologies",
	}
	cmd.AddCommand(newOntologyExportCommand(opts), newOntologyValidateCommand())
	return cmd
}

func newOntologyExportCommand(opts *options) *cobra.Command {
	var format, schemaName string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the ontology in effect for a schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if format == "" {
				format = cfg.Ontology.ExportFormat
			}
			if schemaName == "" {
				schemaName = cfg.Datasource.DefaultSchema
			}

			factory := datasource.NewAdapterFactory(datasource.Options{StatementTimeout: cfg.Query.StatementTimeout}, logger)
			provider, err := factory.NewSchemaProvider(cmd.Context(), cfg.Datasource.Type, cfg.Datasource.AdapterConfig())
			if err != nil {
				return fmt.Errorf("create schema provider: %w", err)
			}
			defer func() { _ = provider.Close() }()

			store := ontology.NewStore(ontology.StoreOptions{
				Enabled:           cfg.Ontology.Enabled,
				DynamicGeneration: cfg.Ontology.DynamicGeneration,
			}, logger)
			if cfg.Ontology.Enabled && cfg.Ontology.Path != "" {
				if err := store.Load(cfg.Ontology.Path); err != nil {
					return err
				}
			}

			return exportOntology(cmd.Context(), schema.NewCache(provider, logger), store, schemaName, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "export format: document or flat (defaults to ontology.export_format)")
	cmd.Flags().StringVar(&schemaName, "schema", "", "schema to export for (defaults to datasource.default_schema)")
	return cmd
}

func exportOntology(ctx context.Context, schemas services.SnapshotSource, ontologies services.OntologySource, schemaName, format string, out io.Writer) error {
	snap, err := schemas.Get(ctx, schemaName)
	if err != nil {
		return err
	}
	o, err := ontologies.ForSchema(snap)
	if err != nil {
		return err
	}
	if o == nil {
		return errors.New("no ontology is loaded and dynamic generation is off")
	}
	body, err := ontology.Export(o, format)
	if err != nil {
		return err
	}
	_, err = out.Write(body)
	return err
}

func newOntologyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check an ontology file for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateOntology(args[0], cmd.OutOrStdout())
		},
	}
}

func validateOntology(path string, out io.Writer) error {
	o, err := ontology.ParseFile(path)
	if err != nil {
		return err
	}
	if err := ontology.Validate(o); err != nil {
		return fmt.Errorf("invalid ontology %s: %w", path, err)
	}
	_, err = fmt.Fprintf(out, "%s: %d concepts, %d mappings\n", path, len(o.Concepts), len(o.Mappings))
	return err
}
