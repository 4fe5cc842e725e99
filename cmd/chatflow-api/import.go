package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/chatflow/pkg/cmd"
	"github.com/dukex/chatflow/pkg/log"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// flowDocument is the on-disk form of a flow. JSON documents parse as YAML.
type flowDocument struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"tenant_id"`
	Name     string `yaml:"name"`

	models.FlowGraph `yaml:",inline"`
}

func FlowsCommand() *cli.Command {
	return &cli.Command{
		Name:  "flows",
		Usage: "Manage flow definitions",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import a flow graph from a YAML or JSON document",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					databaseURLFlag(),
					&cli.StringFlag{
						Name:  "tenant-id",
						Usage: "Tenant owning the flow; overrides the document",
					},
					&cli.BoolFlag{
						Name:  "publish",
						Usage: "Publish the imported draft",
					},
					logLevelFlag(),
					logFormatFlag(),
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"), command.String("log-format"))

					logger := log.WithModule("flows_import")

					path := command.Args().First()
					if path == "" {
						return errors.New("a flow document path is required")
					}

					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", path, err)
					}

					doc, err := parseFlowDocument(data)
					if err != nil {
						return err
					}

					if tenantID := command.String("tenant-id"); tenantID != "" {
						doc.TenantID = tenantID
					}

					p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
					if err != nil {
						return err
					}

					defer func() { _ = p.Close(ctx) }()

					flow, err := importFlow(ctx, services.NewFlow(p), doc, command.Bool("publish"))
					if err != nil {
						return err
					}

					logger.InfoContext(ctx, "flow imported",
						"flow_id", flow.ID, "tenant_id", flow.TenantID, "published", flow.IsPublished())

					return nil
				},
			},
		},
	}
}

func parseFlowDocument(data []byte) (*flowDocument, error) {
	var doc flowDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid flow document: %w", err)
	}

	if len(doc.Nodes) == 0 {
		return nil, errors.New("flow document has no nodes")
	}

	return &doc, nil
}

// importFlow updates the draft of the flow with the document id, or creates
// a new flow when the id is empty or unknown.
func importFlow(ctx context.Context, flows *services.Flow, doc *flowDocument, publish bool) (*models.Flow, error) {
	var (
		flow *models.Flow
		err  error
	)

	if doc.ID != "" {
		flow, err = flows.UpdateDraft(ctx, doc.ID, doc.Name, doc.FlowGraph)
	}

	if doc.ID == "" || persistence.IsFlowNotFound(err) {
		flow, err = flows.Create(ctx, doc.TenantID, doc.Name, doc.FlowGraph)
	}

	if err != nil {
		return nil, err
	}

	if !publish {
		return flow, nil
	}

	return flows.Publish(ctx, flow.ID)
}
