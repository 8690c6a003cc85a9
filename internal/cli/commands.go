package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/flightrecorder/internal/core"
	"github.com/JonMunkholm/flightrecorder/internal/ingest"
)

func init() {
	Register("schemas", Schemas)
	Register("ingest", Ingest)
	Register("diffs", Diffs)
}

// Schemas returns the command that lists registered entity types.
func Schemas(ctx context.Context, env *Env) *cobra.Command {
	var group string
	var fields bool
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List tracked entity types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schemas := core.All()
			if group != "" {
				schemas = core.ByGroup(group)
				if len(schemas) == 0 {
					return fmt.Errorf("unknown entity group %q (groups: %v)", group, core.Groups())
				}
			}
			if fields {
				return printSchemaFields(env.Out, schemas)
			}
			return printSchemas(env.Out, schemas)
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Only list this group")
	cmd.Flags().BoolVar(&fields, "fields", false, "List every compared field with its comparison kind")
	return cmd
}

// unitFlags identify one (entity type, customer, date) unit.
type unitFlags struct {
	entityType string
	customer   string
	date       string
}

func (f *unitFlags) add(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.entityType, "entity-type", "e", "", "Entity type, see \"recorder schemas\"")
	cmd.Flags().StringVarP(&f.customer, "customer", "c", "", "Google Ads customer id, e.g. 123-456-7890")
	cmd.Flags().StringVarP(&f.date, "date", "d", "", "Snapshot date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("date")
}

func (f *unitFlags) parse() (core.EntitySchema, core.Unit, error) {
	schema, err := core.Schema(f.entityType)
	if err != nil {
		return core.EntitySchema{}, core.Unit{}, err
	}
	customer := core.NormalizeCustomerID(f.customer)
	if customer == "" {
		return core.EntitySchema{}, core.Unit{}, fmt.Errorf("customer id is required")
	}
	date, err := parseDateFlag("date", f.date)
	if err != nil {
		return core.EntitySchema{}, core.Unit{}, err
	}
	return schema, core.Unit{EntityType: schema.EntityType, CustomerID: customer, AsOf: date}, nil
}

// Ingest returns the command that stores a captured snapshot file.
func Ingest(ctx context.Context, env *Env) *cobra.Command {
	var uf unitFlags
	cmd := &cobra.Command{
		Use:     "ingest <file>",
		Short:   "Store a captured CSV or JSON snapshot",
		Example: "recorder ingest keywords.csv -e keyword -c 123-456-7890 -d 2025-06-02",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, unit, err := uf.parse()
			if err != nil {
				return err
			}
			records, err := ingest.ReadFile(schema, args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), env, func(svc *core.Service) error {
				n, err := svc.IngestSnapshot(cmd.Context(), core.Snapshot{
					EntityType: unit.EntityType,
					CustomerID: unit.CustomerID,
					AsOf:       unit.AsOf,
					Records:    records,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(env.Out, "%s %d records for %s\n", successPaint("stored"), n, unit.Key())
				return nil
			})
		},
	}
	uf.add(cmd)
	return cmd
}

// Diffs returns the command that prints the stored diffs of one unit.
func Diffs(ctx context.Context, env *Env) *cobra.Command {
	var uf unitFlags
	cmd := &cobra.Command{
		Use:     "diffs",
		Short:   "Show stored diffs for one entity type, customer and day",
		Example: "recorder diffs -e campaign_control_state -c 123-456-7890 -d 2025-06-02",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, unit, err := uf.parse()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), env, func(svc *core.Service) error {
				diffs, err := svc.ListDiffs(cmd.Context(), unit.EntityType, unit.CustomerID, unit.AsOf)
				if err != nil {
					return err
				}
				return printDiffs(env.Out, unit.Key(), diffs)
			})
		},
	}
	uf.add(cmd)
	return cmd
}
