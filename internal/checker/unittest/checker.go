// Package unittest runs exercise-defined test code against a solution
// inside a sandbox and records per-case results.
package unittest

import (
	"context"
	"fmt"
	"strings"

	"checkhub/internal/checker/model"
	"checkhub/internal/checker/notifications"
	"checkhub/internal/checker/repository"
	"checkhub/internal/checker/sandbox"
	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/logger"
)

const (
	testFileName   = "test_checks.py"
	reportFileName = "output.xml"

	cantExecuteMessage = "The automatic checker couldn't run your code."
)

// Checker runs exercise unit tests against solutions.
type Checker struct {
	solutions repository.SolutionRepository
	exercises repository.ExerciseRepository
	sandboxes sandbox.Provider
	notifier  notifications.Notifier
}

// NewChecker creates a unit-test checker.
func NewChecker(
	solutions repository.SolutionRepository,
	exercises repository.ExerciseRepository,
	sandboxes sandbox.Provider,
	notifier notifications.Notifier,
) *Checker {
	return &Checker{
		solutions: solutions,
		exercises: exercises,
		sandboxes: sandboxes,
		notifier:  notifier,
	}
}

// Check runs the exercise's tests against the solution. An exercise without
// a test definition is not an error; there is simply nothing to run. A
// report that cannot be produced or parsed yields exactly one recorded
// failure with the fatal sentinel name.
func (c *Checker) Check(ctx context.Context, solution *model.Solution) error {
	test, err := c.exercises.GetTest(ctx, solution.ExerciseID)
	if err != nil {
		if appErr.Is(err, appErr.ExerciseTestNotFound) {
			logger.Infof(ctx, "no unit tests for exercise %d, skipping solution %d", solution.ExerciseID, solution.ID)
			return nil
		}
		return err
	}

	files, err := c.solutions.ListFiles(ctx, solution.ID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return c.recordFatal(ctx, solution, "solution has no files")
	}

	report, runErr := c.runTests(ctx, test, files)
	if runErr != nil {
		logger.Errorf(ctx, "unit tests could not run for solution %d: %v", solution.ID, runErr)
		return c.recordFatal(ctx, solution, runErr.Error())
	}

	suites, parseErr := parseJUnit(report)
	if parseErr != nil {
		logger.Errorf(ctx, "invalid test report for solution %d: %v", solution.ID, parseErr)
		return c.recordFatal(ctx, solution, parseErr.Error())
	}

	ran := false
	failures := 0
	for _, suite := range suites {
		for _, tc := range suite.Cases {
			ran = true
			n, err := c.recordCase(ctx, solution.ID, tc)
			if err != nil {
				return err
			}
			failures += n
		}
	}
	if !ran {
		return c.recordFatal(ctx, solution, "report contains no test cases")
	}
	if failures == 0 {
		return nil
	}

	subject, err := c.exercises.GetSubject(ctx, solution.ExerciseID)
	if err != nil {
		logger.Warnf(ctx, "could not resolve exercise %d subject: %v", solution.ExerciseID, err)
		subject = "your exercise"
	}
	message := fmt.Sprintf("The automatic checker failed in %d examples in your %q solution.", failures, subject)
	return c.notify(ctx, solution, message)
}

// runTests composes the exercise test code with the solution code, runs
// pytest inside a fresh sandbox and returns the raw junit report.
func (c *Checker) runTests(ctx context.Context, test *model.ExerciseTest, files []*model.SolutionFile) (string, error) {
	codes := make([]string, len(files))
	for i, f := range files {
		codes[i] = f.Code
	}
	combined := test.Code + "\n\n" + strings.Join(codes, "\n")

	exec, err := c.sandboxes.New(ctx)
	if err != nil {
		return "", err
	}
	defer exec.Close()

	if err := exec.WriteFile(ctx, testFileName, combined); err != nil {
		return "", err
	}
	// pytest exits nonzero on failing tests; the report is still written.
	if _, err := exec.Run(ctx, "pytest", testFileName, "--junitxml", reportFileName); err != nil {
		return "", err
	}
	return exec.ReadFile(ctx, reportFileName)
}

// recordCase persists the case's failures. Only newly written records count
// toward the failure total, so a redelivered check task records nothing and
// stays silent.
func (c *Checker) recordCase(ctx context.Context, solutionID int64, tc junitCase) (int, error) {
	results := make([]junitResult, 0, len(tc.Failures)+len(tc.Errors))
	results = append(results, tc.Failures...)
	results = append(results, tc.Errors...)
	if len(results) == 0 {
		return 0, nil
	}

	recorded := 0
	for _, result := range results {
		created, err := c.exercises.CreateTestExecution(ctx, solutionID, tc.Name, result.userMessage(), result.Detail)
		if err != nil {
			return 0, err
		}
		if created {
			recorded++
		}
	}
	return recorded, nil
}

// recordFatal stores the single sentinel failure and tells the solver the
// checker could not run their code. A sentinel already recorded for this
// solution means a redelivery; the solver was told the first time.
func (c *Checker) recordFatal(ctx context.Context, solution *model.Solution, staffDetail string) error {
	created, err := c.exercises.CreateTestExecution(
		ctx, solution.ID, model.FatalTestName, cantExecuteMessage, staffDetail,
	)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	return c.notify(ctx, solution, cantExecuteMessage)
}

func (c *Checker) notify(ctx context.Context, solution *model.Solution, message string) error {
	err := c.notifier.Notify(
		ctx, solution.SolverID, notifications.KindUnittestError,
		message, solution.ID, fmt.Sprintf("/solutions/%d", solution.ID),
	)
	if err != nil {
		logger.Warnf(ctx, "notification for solution %d failed: %v", solution.ID, err)
	}
	return nil
}
