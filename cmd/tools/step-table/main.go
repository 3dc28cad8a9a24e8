// cmd/tools/step-table/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"advisory-portal/internal/questionnaire/steps"
	"advisory-portal/pkg/registry"
)

var tablePath string

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{validateCmd, listCmd, exportCmd, updateCmd} {
		fs.StringVar(&tablePath, "path", "configs/steps.json", "Path to step table file")
	}

	version := exportCmd.String("version", "1.0.0", "Version stamped into the exported file")

	ordinal := updateCmd.Int("ordinal", 0, "Ordinal of the step to update")
	field := updateCmd.String("field", "", "Field to update (title, renderer, keys, checkpoint)")
	value := updateCmd.String("value", "", "New value for the field")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		table, err := loadTable()
		if err != nil {
			fmt.Printf("Step table validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Step table validation passed. Found %d steps, %d expected answer keys.\n",
			table.Len(), len(table.ExpectedAnswerKeys()))

	case "list":
		listCmd.Parse(os.Args[2:])
		table, err := loadTable()
		if err != nil {
			fmt.Printf("Error loading step table: %v\n", err)
			os.Exit(1)
		}
		list(table)

	case "export":
		exportCmd.Parse(os.Args[2:])
		if err := export(*version); err != nil {
			fmt.Printf("Error exporting step table: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported default step table to %s\n", tablePath)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *ordinal == 0 || *field == "" {
			fmt.Println("Error: ordinal and field are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := update(*ordinal, *field, *value); err != nil {
			fmt.Printf("Error updating step: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated step %d, field %s to %q\n", *ordinal, *field, *value)

	case "help":
		fallthrough
	default:
		help()
	}
}

func loadTable() (*steps.Table, error) {
	reg, err := registry.LoadRegistry(tablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load step table: %w", err)
	}
	return steps.FromRegistry(reg)
}

func list(table *steps.Table) {
	for _, s := range table.Steps() {
		flags := ""
		if s.Checkpoint {
			flags = " [checkpoint]"
		}
		fmt.Printf("%2d  %-14s %-24s %s%s\n", s.Ordinal, s.Kind, s.Renderer, s.Title, flags)
		if len(s.Keys) > 0 {
			fmt.Printf("    keys: %s\n", strings.Join(s.Keys, ", "))
		}
	}
}

func export(version string) error {
	if err := os.MkdirAll(filepath.Dir(tablePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return registry.SaveRegistry(tablePath, steps.DefaultTable().ToRegistry(version))
}

// update edits one field and refuses to save a table that no longer validates.
func update(ordinal int, field, value string) error {
	reg, err := registry.LoadRegistry(tablePath)
	if err != nil {
		return fmt.Errorf("failed to load step table: %w", err)
	}

	found := false
	for i := range reg.Steps {
		if reg.Steps[i].Ordinal != ordinal {
			continue
		}
		found = true
		switch field {
		case "title":
			reg.Steps[i].Title = value
		case "renderer":
			reg.Steps[i].Renderer = value
		case "keys":
			reg.Steps[i].Keys = nil
			for _, k := range strings.Split(value, ",") {
				if k = strings.TrimSpace(k); k != "" {
					reg.Steps[i].Keys = append(reg.Steps[i].Keys, k)
				}
			}
		case "checkpoint":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid checkpoint value: %w", err)
			}
			reg.Steps[i].Checkpoint = b
		default:
			return fmt.Errorf("unknown field: %s", field)
		}
		break
	}
	if !found {
		return fmt.Errorf("step with ordinal %d not found", ordinal)
	}

	if _, err := steps.FromRegistry(reg); err != nil {
		return fmt.Errorf("updated table is invalid: %w", err)
	}
	return registry.SaveRegistry(tablePath, reg)
}

func help() {
	fmt.Println(`
Usage: step-table <command> [flags]

Commands:
  validate  Validate the step table file
  list      Print the steps in order
  export    Write the built-in step table to a file
  update    Update one field of a step
  help      Show this help message

Examples:
  step-table validate -path configs/steps.json
  step-table export -path configs/steps.json -version 1.1.0
  step-table update -ordinal 5 -field checkpoint -value false
  step-table update -ordinal 13 -field keys -value lifeCover,incomeProtection

Use 'step-table <command> -h' for more information about a command.
`)
}
