// Package linters holds the static-analysis checker plugins. Each plugin
// drives an external tool inside a sandbox executor and normalizes its
// output into findings.
package linters

import (
	"context"
	"fmt"
	"strings"

	"checkhub/internal/checker/model"
	"checkhub/internal/checker/sandbox"
)

// Finding is one normalized issue reported by a plugin against a solution
// file.
type Finding struct {
	Code    string
	Line    int
	Column  int
	Message string
	FileID  int64
}

// Linter is one checker plugin. Check runs the plugin's tool inside the
// given executor; an error means the tool itself could not run, not that
// the solution has issues.
type Linter interface {
	Name() string
	Match(suffix string) bool
	Check(ctx context.Context, exec sandbox.Executor, file *model.SolutionFile) ([]Finding, error)
}

// Registry resolves the plugin for a file suffix. Plugins are consulted in
// registration order and the first match wins.
type Registry struct {
	linters []Linter
}

// NewRegistry creates a registry over the given plugins.
func NewRegistry(linters ...Linter) *Registry {
	return &Registry{linters: linters}
}

// DefaultRegistry returns the stock plugin set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewPythonLinter(),
		NewSQLLinter(),
		NewMarkupLinter(),
	)
}

// Match returns the first plugin accepting the suffix, or nil when the file
// type has no checker.
func (r *Registry) Match(suffix string) Linter {
	suffix = strings.ToLower(suffix)
	for _, l := range r.linters {
		if l.Match(suffix) {
			return l
		}
	}
	return nil
}

// ToolFailure is the single synthetic finding reported when a plugin's tool
// could not run at all. It replaces any partial output.
func ToolFailure(linterName string, fileID int64) Finding {
	return Finding{
		Code:    "checker-error",
		Line:    1,
		Column:  1,
		Message: fmt.Sprintf("The %s checker could not run on this file. The staff has been notified.", linterName),
		FileID:  fileID,
	}
}

// sandboxFileName gives the file a stable flat name inside the executor so
// plugins never depend on the solution's own directory layout.
func sandboxFileName(file *model.SolutionFile) string {
	suffix := file.Suffix()
	if suffix == "" {
		return fmt.Sprintf("solution_%d", file.ID)
	}
	return fmt.Sprintf("solution_%d.%s", file.ID, suffix)
}
