package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"checkhub/internal/checker/linters"
	"checkhub/internal/checker/model"
	"checkhub/internal/checker/notifications"
	"checkhub/internal/checker/repository"
	"checkhub/internal/checker/sandbox"
	"checkhub/pkg/utils/logger"
)

// LinterService fans a solution's files out to the matching checker plugins
// and persists the combined findings as automated comments.
type LinterService struct {
	solutions repository.SolutionRepository
	comments  repository.CommentRepository
	exercises repository.ExerciseRepository
	registry  *linters.Registry
	sandboxes sandbox.Provider
	notifier  notifications.Notifier

	systemUserID int64
}

// NewLinterService creates the dispatcher. systemUserID is the user the
// automated comments are attributed to.
func NewLinterService(
	solutions repository.SolutionRepository,
	comments repository.CommentRepository,
	exercises repository.ExerciseRepository,
	registry *linters.Registry,
	sandboxes sandbox.Provider,
	notifier notifications.Notifier,
	systemUserID int64,
) *LinterService {
	return &LinterService{
		solutions:    solutions,
		comments:     comments,
		exercises:    exercises,
		registry:     registry,
		sandboxes:    sandboxes,
		notifier:     notifier,
		systemUserID: systemUserID,
	}
}

// Run checks every file of the solution with its matching plugin, each in
// its own sandbox, and blocks until all of them return. Findings become
// automated comments; the solver gets one notification covering all of them,
// or none when the run is clean. A plugin whose tool breaks contributes a
// single synthetic finding instead of failing the run.
func (s *LinterService) Run(ctx context.Context, solution *model.Solution) error {
	ctx = logger.WithSolutionID(ctx, solution.ID)
	files, err := s.solutions.ListFiles(ctx, solution.ID)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		findings []linters.Finding
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		linter := s.registry.Match(file.Suffix())
		if linter == nil {
			logger.Infof(ctx, "no checker for file %d (%s), skipping", file.ID, file.Path)
			continue
		}

		file := file
		linter := linter
		g.Go(func() error {
			result := s.checkFile(gctx, linter, file)
			mu.Lock()
			findings = append(findings, result...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, finding := range findings {
		err := s.comments.CreateAuto(ctx, s.systemUserID, finding.FileID, finding.Line, finding.Message, finding.Code)
		if err != nil {
			return err
		}
	}
	if len(findings) == 0 {
		logger.Info(ctx, "automatic check found nothing")
		return nil
	}

	subject := "exercise"
	if got, err := s.exercises.GetSubject(ctx, solution.ExerciseID); err == nil {
		subject = got
	}
	message := fmt.Sprintf("%d issues were found in the automatic check of your %q solution.", len(findings), subject)
	err = s.notifier.Notify(ctx, solution.SolverID, notifications.KindAutoChecked, message, solution.ID, solutionURL(solution.ID))
	if err != nil {
		logger.Warnf(ctx, "auto check notification failed: %v", err)
	}
	logger.Infof(ctx, "automatic check recorded %d findings", len(findings))
	return nil
}

// checkFile runs one plugin against one file in a fresh sandbox. Tool
// breakage is absorbed into the synthetic failure finding so one broken
// plugin never hides the results of the others.
func (s *LinterService) checkFile(ctx context.Context, linter linters.Linter, file *model.SolutionFile) []linters.Finding {
	exec, err := s.sandboxes.New(ctx)
	if err != nil {
		logger.Errorf(ctx, "sandbox creation failed for file %d: %v", file.ID, err)
		return []linters.Finding{linters.ToolFailure(linter.Name(), file.ID)}
	}
	defer exec.Close()

	findings, err := linter.Check(ctx, exec, file)
	if err != nil {
		logger.Errorf(ctx, "%s failed on file %d: %v", linter.Name(), file.ID, err)
		return []linters.Finding{linters.ToolFailure(linter.Name(), file.ID)}
	}
	return findings
}
