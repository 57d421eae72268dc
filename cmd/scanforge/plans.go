package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/your-org/scanforge/embedded"
	"github.com/your-org/scanforge/internal/plan"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List the plans bundled into the binary",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := embedded.ListPlans()
		if err != nil {
			return err
		}
		for _, name := range names {
			data, err := embedded.ReadPlan(name)
			if err != nil {
				return err
			}
			p, err := plan.Parse(name, data)
			if err != nil {
				return err
			}
			fmt.Printf("%-12s %d tasks\n", name, len(p.Tasks))
		}
		return nil
	},
}
