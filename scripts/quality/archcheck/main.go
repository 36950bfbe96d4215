package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "garden-of-memory/"

// layerRule forbids imports from one layer prefix into another.
//
// The contract layer (pkg/garden) and the provider layer (pkg/llm) must stay
// importable without dragging in the runtime; membranes may only reach the
// runtime through contracts and services; the kernel never touches the
// substrate directly because all mutation flows through the ledger service.
type layerRule struct {
	importerPrefix string
	importedPrefix string
	reason         string
}

var layerRules = []layerRule{
	{
		importerPrefix: modulePrefix + "pkg/garden",
		importedPrefix: modulePrefix + "internal/",
		reason:         "pkg/garden must not import internal/*",
	},
	{
		importerPrefix: modulePrefix + "pkg/llm",
		importedPrefix: modulePrefix + "internal/",
		reason:         "pkg/llm must not import internal/*",
	},
	{
		importerPrefix: modulePrefix + "membranes/",
		importedPrefix: modulePrefix + "internal/",
		reason:         "membranes/* must not import internal/*",
	},
	{
		importerPrefix: modulePrefix + "internal/kernel",
		importedPrefix: modulePrefix + "internal/substrate",
		reason:         "internal/kernel must not import internal/substrate",
	},
}

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		imports := append([]string{}, pkg.Imports...)
		imports = append(imports, pkg.TestImports...)
		imports = append(imports, pkg.XTestImports...)

		for _, imported := range imports {
			reason := violationReason(pkg.ImportPath, imported)
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

func violationReason(importer, imported string) string {
	for _, rule := range layerRules {
		if strings.HasPrefix(importer, rule.importerPrefix) &&
			strings.HasPrefix(imported, rule.importedPrefix) {
			return rule.reason
		}
	}

	return ""
}
