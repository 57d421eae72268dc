package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/your-org/scanforge/internal/render"
)

var previewCmd = &cobra.Command{
	Use:   "preview TARGET",
	Short: "Render every task's command line without spawning anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		p, err := loadPlan()
		if err != nil {
			return err
		}

		vars := render.Context{
			render.VarTarget:    target,
			render.VarOutputDir: cfg.Output.Dir,
			// Placeholders for values only known at run time.
			render.VarPort:     "<port>",
			render.VarPorts:    "<ports>",
			render.VarWordlist: "<wordlist>",
			"service":          "<service>",
			"protocol":         "<protocol>",
		}

		for _, def := range p.Tasks {
			c, err := render.Render(def, vars)
			if err != nil {
				fmt.Printf("%-20s !! %v\n", def.Name, err)
				continue
			}
			gate := ""
			if pred := def.ServicePredicate(); pred != "" {
				gate = fmt.Sprintf("  [per %q service]", pred)
			} else if deps := def.TaskDependencies(); len(deps) > 0 {
				gate = fmt.Sprintf("  [after %s]", strings.Join(deps, ", "))
			}
			fmt.Printf("%-20s %s%s\n", def.Name, strings.Join(c.Argv(), " "), gate)
		}
		return nil
	},
}
