package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/cron"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/transform"
)

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integration id %q", s)
	}
	return id, nil
}

func runCommand(configPath *string) *cobra.Command {
	var memory bool
	var seed string
	cmd := &cobra.Command{
		Use:   "run <integration-id>",
		Short: "Run one integration now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, memory)
			if err != nil {
				return err
			}
			defer a.Close()

			if seed != "" {
				if _, err := importIntegrations(cmd.Context(), a.store, seed); err != nil {
					return err
				}
			}

			res := a.runner.Run(cmd.Context(), id)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("run failed: %s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "Use an in-memory store instead of the configured one")
	cmd.Flags().StringVar(&seed, "integrations", "", "YAML file of integrations to import before running")
	return cmd
}

func integrationsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "Manage stored integrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListIntegrations(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tSOURCE\tDESTINATION\tSCHEDULE\tLAST RUN")
			for _, in := range list {
				last := "-"
				if in.LastRunAt != nil {
					last = in.LastRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					in.ID, in.Name, in.Type, in.Source, in.Destination, in.Schedule, last)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import integrations and their field mappings from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := importIntegrations(cmd.Context(), a.store, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("imported %d integrations: %v\n", len(ids), ids)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <integration-id>",
		Short: "Delete an integration and its field mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.store.DeleteIntegration(cmd.Context(), id)
		},
	})
	return cmd
}

func transformsCommand() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "transforms",
		Short: "List registered transformations",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := transform.New(logger.Named("transforms"))
			list := reg.ListAll()
			if typ != "" {
				list = reg.ListForType(transform.DataType(typ))
			}
			return printJSON(list)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "Only list transformations supporting this data type")
	return cmd
}

func cronCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect cron expressions and schedule phrases",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <expression>",
		Short: "Check a five-field cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cron.Validate(args[0]); err != nil {
				return err
			}
			fmt.Println("valid")
			return nil
		},
	})

	var count int
	next := &cobra.Command{
		Use:   "next <expression-or-phrase>",
		Short: "Print the next matching times of an expression or schedule phrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := cron.Parse(args[0])
			if err != nil {
				expr, err = cron.Parse(cron.FromSchedule(args[0]))
				if err != nil {
					return err
				}
			}
			t := time.Now().UTC()
			for i := 0; i < count; i++ {
				t = expr.Next(t)
				if t.IsZero() {
					break
				}
				fmt.Println(t.Format(time.RFC3339))
			}
			return nil
		},
	}
	next.Flags().IntVarP(&count, "count", "n", 5, "Number of times to print")
	cmd.AddCommand(next)

	cmd.AddCommand(&cobra.Command{
		Use:   "phrases",
		Short: "List the recognized schedule phrases",
		Run: func(cmd *cobra.Command, args []string) {
			phrases := cron.Phrases()
			names := make([]string, 0, len(phrases))
			for name := range phrases {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-20s %s\n", name, phrases[name])
			}
		},
	})
	return cmd
}

func poolCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect tenant connection pools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "health <tenant>",
		Short: "Open the tenant's engine and report its health and sizing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.pool.GetEngine(args[0]); err != nil {
				return err
			}
			health := a.pool.HealthCheck(cmd.Context(), args[0])
			sizing, err := a.pool.PoolSizingRecommendation(args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"health": health, "sizing": sizing})
		},
	})
	return cmd
}

// seedIntegration is the YAML form of an integration with its mappings
type seedIntegration struct {
	ID                int64                  `yaml:"id"`
	Name              string                 `yaml:"name"`
	Type              string                 `yaml:"type"`
	Source            string                 `yaml:"source"`
	Destination       string                 `yaml:"destination"`
	SourceConfig      map[string]interface{} `yaml:"source_config"`
	DestinationConfig map[string]interface{} `yaml:"destination_config"`
	Schedule          string                 `yaml:"schedule"`
	Mappings          []seedMapping          `yaml:"mappings"`
}

type seedMapping struct {
	Source    string                 `yaml:"source"`
	Dest      string                 `yaml:"destination"`
	Transform string                 `yaml:"transformation"`
	Required  bool                   `yaml:"required"`
	Params    map[string]interface{} `yaml:"params"`
}

type seedFile struct {
	Integrations []seedIntegration `yaml:"integrations"`
}

// toIntegration converts the YAML form
func (s seedIntegration) toIntegration() (*integration.Integration, []integration.FieldMapping) {
	in := &integration.Integration{
		ID:                s.ID,
		Name:              s.Name,
		Type:              integration.Type(s.Type),
		Source:            s.Source,
		Destination:       s.Destination,
		SourceConfig:      s.SourceConfig,
		DestinationConfig: s.DestinationConfig,
		Schedule:          s.Schedule,
	}
	mappings := make([]integration.FieldMapping, len(s.Mappings))
	for i, m := range s.Mappings {
		mappings[i] = integration.FieldMapping{
			SourceField:        m.Source,
			DestinationField:   m.Dest,
			TransformationName: m.Transform,
			Required:           m.Required,
			TransformParams:    m.Params,
		}
	}
	return in, mappings
}

func readSeedFile(path string) (*seedFile, error) {
	var f seedFile
	if err := config.LoadFile(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
