package linters

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"checkhub/internal/checker/model"
	"checkhub/internal/checker/sandbox"
	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/logger"
)

// PythonLinter checks .py files with flake8.
type PythonLinter struct{}

// NewPythonLinter creates the flake8 plugin.
func NewPythonLinter() *PythonLinter {
	return &PythonLinter{}
}

func (l *PythonLinter) Name() string {
	return "flake8"
}

func (l *PythonLinter) Match(suffix string) bool {
	return suffix == "py"
}

// Check runs flake8 on the file and parses its default output format.
// flake8 exits 1 when it finds issues; only higher exit codes mean the tool
// itself failed.
func (l *PythonLinter) Check(ctx context.Context, exec sandbox.Executor, file *model.SolutionFile) ([]Finding, error) {
	name := sandboxFileName(file)
	if err := exec.WriteFile(ctx, name, file.Code); err != nil {
		return nil, err
	}

	out, err := exec.Run(ctx, "flake8", "--import-order-style", "google", name)
	if err != nil {
		return nil, err
	}
	if out.ExitCode > 1 {
		return nil, appErr.New(appErr.CheckerToolFailed).WithMessagef("flake8 exited %d: %s", out.ExitCode, out.Stderr)
	}

	var findings []Finding
	for _, line := range strings.Split(out.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		finding, ok := parseFlakeLine(line, file.ID)
		if !ok {
			logger.Warnf(ctx, "unparsable flake8 line for file %d: %q", file.ID, line)
			continue
		}
		if FlakeSkipCodes[finding.Code] {
			logger.Infof(ctx, "skipping flake8 %s on line %d of file %d", finding.Code, finding.Line, file.ID)
			continue
		}
		if text, ok := FlakeMessages[finding.Code]; ok {
			finding.Message = text
		} else {
			finding.Message = fmt.Sprintf("%s-%s", finding.Code, finding.Message)
		}
		findings = append(findings, finding)
	}
	return findings, nil
}

// parseFlakeLine parses "path:line:col: CODE message". The path itself may
// contain colons on exotic setups, so fields are taken from the right.
func parseFlakeLine(line string, fileID int64) (Finding, bool) {
	rest := line
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return Finding{}, false
	}
	rest = rest[colon+1:]

	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return Finding{}, false
	}
	lineNo, err := strconv.Atoi(parts[0])
	if err != nil {
		return Finding{}, false
	}
	colNo, err := strconv.Atoi(parts[1])
	if err != nil {
		return Finding{}, false
	}

	msg := strings.TrimSpace(parts[2])
	code, text, found := strings.Cut(msg, " ")
	if !found || code == "" {
		return Finding{}, false
	}
	return Finding{
		Code:    code,
		Line:    lineNo,
		Column:  colNo,
		Message: text,
		FileID:  fileID,
	}, true
}
