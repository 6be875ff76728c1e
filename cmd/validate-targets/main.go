package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/einvoiceng/firshook/targets"
)

/* validate-targets - Standalone CLI tool to validate targets.yaml
 * Usage: go run cmd/validate-targets/main.go [targets.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	// Get targets file path from args or use default
	targetsFile := "targets.yaml"
	if len(os.Args) > 1 {
		targetsFile = os.Args[1]
	}

	fmt.Printf("Validating targets file: %s\n", targetsFile)

	loader := targets.NewLoader()
	if err := loader.Load(targetsFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loaded := loader.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d target(s):\n", len(loaded))

	for i, target := range loaded {
		fmt.Printf("\n%d. Target: %s\n", i+1, target.TargetID)
		fmt.Printf("   Name:         %s\n", target.Name)
		fmt.Printf("   Method:       %s\n", target.Method)
		if target.EndpointURL != "" {
			fmt.Printf("   Endpoint:     %s\n", target.EndpointURL)
		}
		fmt.Printf("   Enabled:      %t\n", target.Enabled)
		fmt.Printf("   Max Attempts: %d\n", target.Retry.MaxAttempts)
		fmt.Printf("   Strategy:     %s\n", target.Retry.Strategy)
		if len(target.Filter.EventTypes) > 0 {
			fmt.Printf("   Event Types:  %s\n", strings.Join(target.Filter.EventTypes, ", "))
		}
		if target.Auth.Type != "" {
			fmt.Printf("   Auth:         %s\n", target.Auth.Type)
		}
	}

	fmt.Printf("\n✓ All targets are valid!\n")
	os.Exit(0)
}
