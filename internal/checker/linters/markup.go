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

// MarkupLinter checks html, htm and css files with the Nu HTML checker.
type MarkupLinter struct{}

// NewMarkupLinter creates the vnu plugin.
func NewMarkupLinter() *MarkupLinter {
	return &MarkupLinter{}
}

func (l *MarkupLinter) Name() string {
	return "vnu"
}

func (l *MarkupLinter) Match(suffix string) bool {
	switch suffix {
	case "html", "htm", "css":
		return true
	}
	return false
}

type vnuReport struct {
	Messages []struct {
		Type        string `json:"type"`
		FirstLine   int    `json:"firstLine"`
		LastLine    int    `json:"lastLine"`
		FirstColumn int    `json:"firstColumn"`
		Message     string `json:"message"`
		Extract     string `json:"extract"`
	} `json:"messages"`
}

// Check runs vnu in JSON mode. vnu writes the report to stderr and exits 1
// when the document has errors, so the exit code is not a failure signal;
// an unparsable report is.
func (l *MarkupLinter) Check(ctx context.Context, exec sandbox.Executor, file *model.SolutionFile) ([]Finding, error) {
	name := sandboxFileName(file)
	if err := exec.WriteFile(ctx, name, file.Code); err != nil {
		return nil, err
	}

	out, err := exec.Run(ctx, "vnu", "--format", "json", "--also-check-css", name)
	if err != nil {
		return nil, err
	}

	var report vnuReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stderr)), &report); err != nil {
		return nil, appErr.Wrap(err, appErr.CheckerReportInvalid)
	}

	var findings []Finding
	for _, msg := range report.Messages {
		if msg.Message == "" {
			logger.Warnf(ctx, "unparsable vnu entry for file %d, skipping", file.ID)
			continue
		}
		if VNUSkipMessages[msg.Message] {
			logger.Infof(ctx, "skipping vnu finding on file %d: %s", file.ID, msg.Message)
			continue
		}
		line := msg.FirstLine
		if line == 0 {
			line = msg.LastLine
		}
		if line == 0 {
			line = 1
		}
		message := msg.Message
		if text, ok := VNUMessages[message]; ok {
			message = text
		}
		findings = append(findings, Finding{
			Code:    msg.Type,
			Line:    line,
			Column:  msg.FirstColumn,
			Message: message,
			FileID:  file.ID,
		})
	}
	return findings, nil
}
