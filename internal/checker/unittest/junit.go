package unittest

import (
	"encoding/xml"
	"strings"

	appErr "checkhub/pkg/errors"
)

// junit report structures covering both root layouts pytest emits: a
// testsuites wrapper on recent versions, a bare testsuite on older ones.

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name  string      `xml:"name,attr"`
	Cases []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name     string        `xml:"name,attr"`
	Failures []junitResult `xml:"failure"`
	Errors   []junitResult `xml:"error"`
}

type junitResult struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Detail  string `xml:",chardata"`
}

func (r junitResult) userMessage() string {
	parts := make([]string, 0, 2)
	if r.Type != "" {
		parts = append(parts, strings.ReplaceAll(r.Type, "\n", " "))
	}
	if r.Message != "" {
		parts = append(parts, strings.ReplaceAll(r.Message, "\n", " "))
	}
	return strings.Join(parts, " ")
}

func parseJUnit(raw string) ([]junitSuite, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, appErr.New(appErr.CheckerReportInvalid).WithMessage("empty report")
	}

	var wrapped junitSuites
	if err := xml.Unmarshal([]byte(raw), &wrapped); err == nil {
		return wrapped.Suites, nil
	}

	var single junitSuite
	if err := xml.Unmarshal([]byte(raw), &single); err != nil {
		return nil, appErr.Wrap(err, appErr.CheckerReportInvalid)
	}
	return []junitSuite{single}, nil
}
