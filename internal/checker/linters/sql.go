package linters

import (
	"context"
	"encoding/json"
	"strings"

	"checkhub/internal/checker/model"
	"checkhub/internal/checker/sandbox"
	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/logger"
)

// SQLLinter checks .sql files with sqlfluff.
type SQLLinter struct{}

// NewSQLLinter creates the sqlfluff plugin.
func NewSQLLinter() *SQLLinter {
	return &SQLLinter{}
}

func (l *SQLLinter) Name() string {
	return "sqlfluff"
}

func (l *SQLLinter) Match(suffix string) bool {
	return suffix == "sql"
}

type sqlfluffReport struct {
	Filepath   string `json:"filepath"`
	Violations []struct {
		LineNo      int    `json:"line_no"`
		LinePos     int    `json:"line_pos"`
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"violations"`
}

// Check runs sqlfluff in JSON mode. sqlfluff reserves exit code 65 for lint
// violations and 0/1 for clean runs, so only other codes mean tool failure.
func (l *SQLLinter) Check(ctx context.Context, exec sandbox.Executor, file *model.SolutionFile) ([]Finding, error) {
	name := sandboxFileName(file)
	if err := exec.WriteFile(ctx, name, file.Code); err != nil {
		return nil, err
	}

	out, err := exec.Run(ctx, "sqlfluff", "lint", "--format", "json", name)
	if err != nil {
		return nil, err
	}
	switch out.ExitCode {
	case 0, 1, 65:
	default:
		return nil, appErr.New(appErr.CheckerToolFailed).WithMessagef("sqlfluff exited %d: %s", out.ExitCode, out.Stderr)
	}

	var reports []sqlfluffReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &reports); err != nil {
		return nil, appErr.Wrap(err, appErr.CheckerReportInvalid)
	}

	var findings []Finding
	for _, report := range reports {
		for _, v := range report.Violations {
			if SQLSkipMessages[v.Description] {
				logger.Infof(ctx, "skipping sqlfluff %s on line %d of file %d", v.Code, v.LineNo, file.ID)
				continue
			}
			message := v.Description
			if text, ok := SQLMessages[message]; ok {
				message = text
			}
			findings = append(findings, Finding{
				Code:    v.Code,
				Line:    v.LineNo,
				Column:  v.LinePos,
				Message: message,
				FileID:  file.ID,
			})
		}
	}
	return findings, nil
}
