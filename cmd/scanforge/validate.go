package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/your-org/scanforge/internal/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the plan: structure, patterns, dependencies and executables",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPlan()
		if err != nil {
			return err
		}
		if err := plan.Validate(p); err != nil {
			return err
		}
		fmt.Printf("plan %q: %d tasks, all executables resolved\n", p.Name, len(p.Tasks))
		return nil
	},
}
