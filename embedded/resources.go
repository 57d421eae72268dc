// Package embedded ships the plans bundled into the binary so a bare
// `scanforge run` works without any files on disk.
package embedded

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed plans
var plansFS embed.FS

// DefaultPlanName is the plan used when the CLI gets no --plan flag.
const DefaultPlanName = "default"

// PlansFS returns the embedded plans filesystem rooted at the plan files.
func PlansFS() fs.FS {
	sub, err := fs.Sub(plansFS, "plans")
	if err != nil {
		return plansFS
	}
	return sub
}

// ReadPlan returns the bytes of a bundled plan by name, without extension.
func ReadPlan(name string) ([]byte, error) {
	data, err := fs.ReadFile(PlansFS(), name+".yaml")
	if err != nil {
		return nil, fmt.Errorf("bundled plan %q not found", name)
	}
	return data, nil
}

// ListPlans names every bundled plan.
func ListPlans() ([]string, error) {
	entries, err := fs.ReadDir(PlansFS(), ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names, nil
}
