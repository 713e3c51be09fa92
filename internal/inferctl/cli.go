// Package inferctl implements the side-table management CLI. It edits
// the same models.json the daemon reads, so entries registered here are
// loadable by name on the next request without a restart.
package inferctl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"inferd/internal/registry"
	"inferd/pkg/types"
)

// Execute runs the CLI with os.Args.
func Execute() error {
	return buildRootCmd().Execute()
}

func defaultRegistryPath() string {
	if v := os.Getenv("INFERD_REGISTRY"); v != "" {
		return v
	}
	return "~/.inferd/models.json"
}

// pipelineFamilies are the generation pipelines the daemon understands.
var pipelineFamilies = map[string]bool{
	"flux": true, "sdxl": true, "sd3": true, "chroma": true,
}

func buildRootCmd() *cobra.Command {
	registryPath := defaultRegistryPath()

	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Manage the custom model side-table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&registryPath, "registry", registryPath, "Side-table path (defaults INFERD_REGISTRY)")

	var (
		addPath     string
		addPipeline string
		addBase     string
		addSteps    int
		addGuidance float64
		addDemand   int
		addLocal    bool
	)
	addCmd := &cobra.Command{
		Use:     "add <name>",
		Short:   "Register or replace a model entry",
		Example: "  inferctl add my-flux --path ~/models/my-flux.safetensors --pipeline flux",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if addPipeline == "" {
				return fmt.Errorf("--pipeline is required")
			}
			if !pipelineFamilies[addPipeline] {
				return fmt.Errorf("unknown pipeline %q (want flux|sdxl|sd3|chroma)", addPipeline)
			}
			if addPath == "" && addBase == "" {
				return fmt.Errorf("one of --path or --base-source is required")
			}
			if addPath != "" && !strings.HasSuffix(addPath, ".safetensors") {
				return fmt.Errorf("--path must point at a .safetensors file")
			}
			if addLocal && addPath == "" {
				return fmt.Errorf("--local-only requires --path")
			}
			if addPath != "" {
				abs, err := filepath.Abs(addPath)
				if err == nil {
					addPath = abs
				}
			}
			reg := registry.New(registryPath)
			spec := types.ModelSpec{
				Name:            name,
				Path:            addPath,
				Pipeline:        addPipeline,
				BaseSource:      addBase,
				DefaultSteps:    addSteps,
				DefaultGuidance: addGuidance,
				DefaultDemand:   addDemand,
				LocalOnly:       addLocal,
			}
			if err := reg.Add(spec); err != nil {
				return err
			}
			fmt.Printf("registered %s (%s)\n", name, addPipeline)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addPath, "path", "", "Local checkpoint file (.safetensors)")
	addCmd.Flags().StringVar(&addPipeline, "pipeline", "", "Pipeline family: flux|sdxl|sd3|chroma")
	addCmd.Flags().StringVar(&addBase, "base-source", "", "Remote base used as fallback or for partial checkpoints")
	addCmd.Flags().IntVar(&addSteps, "steps", 0, "Default denoising steps")
	addCmd.Flags().Float64Var(&addGuidance, "guidance", 0, "Default guidance scale")
	addCmd.Flags().IntVar(&addDemand, "demand", 0, "Default accelerator demand (resident layers)")
	addCmd.Flags().BoolVar(&addLocal, "local-only", false, "Never fall back to a remote source for this entry")
	root.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(registryPath)
			models, err := reg.List()
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Println("no models registered")
				return nil
			}
			for _, m := range models {
				loc := m.Path
				if loc == "" {
					loc = m.BaseSource
				}
				flags := ""
				if m.LocalOnly {
					flags = " [local-only]"
				}
				fmt.Printf("%-24s %-8s %s%s\n", m.Name, m.Pipeline, loc, flags)
			}
			return nil
		},
	}
	root.AddCommand(listCmd)

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a registered model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(registryPath)
			removed, err := reg.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("model %q is not registered", args[0])
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
	root.AddCommand(removeCmd)

	usageCmd := &cobra.Command{
		Use:   "usage <name>",
		Short: "Show a curl example for a registered model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(registryPath)
			m, ok, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("model %q is not registered", args[0])
			}
			fmt.Printf(`curl -X POST http://localhost:8080/v1/images/generate \
  -H 'Content-Type: application/json' \
  -d '{"model": %q, "prompt": "a lighthouse at dusk"}'
`, m.Name)
			return nil
		},
	}
	root.AddCommand(usageCmd)

	return root
}
