// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/weftworks/weft/pkg/manifest"
	"github.com/weftworks/weft/pkg/resolve"
)

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok" or "error"
	Message string `json:"message,omitempty"`
}

type validateResult struct {
	Manifest   string        `json:"manifest"`
	Checks     []checkResult `json:"checks"`
	Components int           `json:"components"`
	Overall    string        `json:"overall"`
}

func runValidate(flags globalFlags, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: weft validate <manifest.yaml>"))
	}
	path := args[0]
	result := validateResult{Manifest: path, Overall: "ok"}

	graph, err := manifest.LoadFile(path)
	if err != nil {
		result.Checks = append(result.Checks, checkResult{
			Name: "parse", Status: "error", Message: err.Error(),
		})
		result.Overall = "error"
		printValidate(flags, result)
		os.Exit(1)
	}
	result.Checks = append(result.Checks, checkResult{Name: "parse", Status: "ok"})

	for _, kind := range manifest.Kinds() {
		result.Components += len(graph.Names(kind))
	}

	resolved, err := resolve.ResolveManifest(graph)
	if err != nil {
		result.Checks = append(result.Checks, checkResult{
			Name: "resolve", Status: "error", Message: err.Error(),
		})
		result.Overall = "error"
		printValidate(flags, result)
		os.Exit(1)
	}
	result.Checks = append(result.Checks, checkResult{Name: "resolve", Status: "ok"})

	for _, name := range sortedKeys(resolved.Agents) {
		if err := resolved.Agents[name].Validate(); err != nil {
			result.Checks = append(result.Checks, checkResult{
				Name: "agents/" + name, Status: "error", Message: err.Error(),
			})
			result.Overall = "error"
		}
	}
	for _, name := range sortedKeys(resolved.Processes) {
		if err := resolved.Processes[name].Validate(); err != nil {
			result.Checks = append(result.Checks, checkResult{
				Name: "processes/" + name, Status: "error", Message: err.Error(),
			})
			result.Overall = "error"
		}
	}

	printValidate(flags, result)
	if result.Overall != "ok" {
		os.Exit(1)
	}
}

func printValidate(flags globalFlags, result validateResult) {
	if flags.JSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(payload))
		return
	}
	fmt.Printf("manifest: %s (%d components)\n", result.Manifest, result.Components)
	for _, check := range result.Checks {
		line := fmt.Sprintf("  %-8s %s", check.Status, check.Name)
		if check.Message != "" {
			line += ": " + check.Message
		}
		fmt.Println(line)
	}
	fmt.Printf("overall: %s\n", strings.ToUpper(result.Overall))
}
