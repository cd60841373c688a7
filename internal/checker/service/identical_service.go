package service

import (
	"context"
	"fmt"

	"checkhub/internal/checker/model"
	"checkhub/internal/checker/notifications"
	"checkhub/internal/checker/repository"
	"checkhub/pkg/utils/logger"
)

// IdenticalService short-circuits checking for solutions whose content hash
// matches an already reviewed solution of the same exercise. Matching is
// exact; near-duplicates are out of scope.
type IdenticalService struct {
	solutions repository.SolutionRepository
	comments  repository.CommentRepository
	exercises repository.ExerciseRepository
	notifier  notifications.Notifier

	systemUserID int64
}

// NewIdenticalService creates the deduplication service.
func NewIdenticalService(
	solutions repository.SolutionRepository,
	comments repository.CommentRepository,
	exercises repository.ExerciseRepository,
	notifier notifications.Notifier,
	systemUserID int64,
) *IdenticalService {
	return &IdenticalService{
		solutions:    solutions,
		comments:     comments,
		exercises:    exercises,
		notifier:     notifier,
		systemUserID: systemUserID,
	}
}

// CloneFromDone looks for a checked twin of a freshly created solution. On a
// match the twin's review is copied over and the solution goes straight to
// DONE; the checkers never run. Returns whether the solution was resolved.
func (s *IdenticalService) CloneFromDone(ctx context.Context, solutionID int64) (bool, error) {
	ctx = logger.WithSolutionID(ctx, solutionID)
	solution, err := s.solutions.GetByID(ctx, solutionID)
	if err != nil {
		return false, err
	}
	if solution.State != model.StateCreated {
		return false, nil
	}

	done, err := s.solutions.FindDoneByHash(ctx, solution.ExerciseID, solution.Hashed, solution.ID)
	if err != nil {
		return false, err
	}
	if done == nil {
		return false, nil
	}

	resolved, err := s.adoptReview(ctx, done, solution)
	if err != nil {
		return false, err
	}
	if resolved {
		logger.Infof(ctx, "resolved from identical checked solution %d", done.ID)
	}
	return resolved, nil
}

// ResolveCreatedDuplicates runs after a solution reaches DONE: every
// still-unchecked solution of the same exercise with the same hash inherits
// the fresh review.
func (s *IdenticalService) ResolveCreatedDuplicates(ctx context.Context, solutionID int64) error {
	ctx = logger.WithSolutionID(ctx, solutionID)
	solution, err := s.solutions.GetByID(ctx, solutionID)
	if err != nil {
		return err
	}
	if solution.State != model.StateDone {
		logger.Infof(ctx, "solution is %s, skipping duplicate resolution", solution.State)
		return nil
	}

	duplicates, err := s.solutions.FindCreatedByHash(ctx, solution.ExerciseID, solution.Hashed, solution.ID)
	if err != nil {
		return err
	}
	for _, duplicate := range duplicates {
		resolved, err := s.adoptReview(ctx, solution, duplicate)
		if err != nil {
			logger.Errorf(ctx, "failed to resolve duplicate %d: %v", duplicate.ID, err)
			continue
		}
		if !resolved {
			logger.Infof(ctx, "duplicate %d was claimed for checking, leaving it alone", duplicate.ID)
			continue
		}
		logger.Infof(ctx, "duplicate solution %d resolved", duplicate.ID)
	}
	return nil
}

// adoptReview claims a still unchecked twin through a conditional state
// update, then copies the human review comments from the checked solution
// onto it, attributed to the system user as automated comments, and tells
// the solver. Losing the claim to a concurrent checker leaves the twin
// untouched: no comments, no notification.
func (s *IdenticalService) adoptReview(ctx context.Context, from, to *model.Solution) (bool, error) {
	claimed, err := s.solutions.AdoptResult(ctx, to.ID, from.CheckerID, model.StateDone)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	reviewComments, err := s.comments.ListNonAutoBySolution(ctx, from.ID)
	if err != nil {
		return true, err
	}

	if len(reviewComments) > 0 {
		targetByPath, err := s.filesByPath(ctx, to.ID)
		if err != nil {
			return true, err
		}
		sourcePaths, err := s.filePaths(ctx, from.ID)
		if err != nil {
			return true, err
		}
		for _, comment := range reviewComments {
			target, ok := targetByPath[sourcePaths[comment.FileID]]
			if !ok {
				logger.Warnf(ctx, "no matching file for cloned comment %d, skipping", comment.ID)
				continue
			}
			err := s.comments.CreateAuto(ctx, s.systemUserID, target.ID, comment.LineNumber, comment.Text, "")
			if err != nil {
				return true, err
			}
		}
	}

	subject := "exercise"
	if got, err := s.exercises.GetSubject(ctx, to.ExerciseID); err == nil {
		subject = got
	}
	message := fmt.Sprintf("Your %q solution has been checked.", subject)
	if err := s.notifier.Notify(ctx, to.SolverID, notifications.KindChecked, message, to.ID, solutionURL(to.ID)); err != nil {
		logger.Warnf(ctx, "duplicate resolution notification failed: %v", err)
	}
	return true, nil
}

func (s *IdenticalService) filesByPath(ctx context.Context, solutionID int64) (map[string]*model.SolutionFile, error) {
	files, err := s.solutions.ListFiles(ctx, solutionID)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]*model.SolutionFile, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	return byPath, nil
}

func (s *IdenticalService) filePaths(ctx context.Context, solutionID int64) (map[int64]string, error) {
	files, err := s.solutions.ListFiles(ctx, solutionID)
	if err != nil {
		return nil, err
	}
	paths := make(map[int64]string, len(files))
	for _, f := range files {
		paths[f.ID] = f.Path
	}
	return paths, nil
}
