// Package service implements the checking pipeline's business logic: the
// solution state machine, the linter dispatcher, deduplication and the
// asynchronous task handlers tying them together.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkhub/internal/checker/model"
	"checkhub/internal/checker/notifications"
	"checkhub/internal/checker/repository"
	"checkhub/internal/common/mq"
	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/logger"
)

// DefaultMaxCheckDuration bounds how long a solution may sit in IN_CHECKING
// before the watchdog returns it to the queue.
const DefaultMaxCheckDuration = 10 * time.Minute

// Scheduler delivers a message to a topic after a delay.
type Scheduler interface {
	Schedule(ctx context.Context, topic string, message *mq.Message, delay time.Duration) error
}

// SolutionService owns the solution lifecycle.
type SolutionService struct {
	solutions repository.SolutionRepository
	exercises repository.ExerciseRepository
	notifier  notifications.Notifier
	producer  mq.Producer
	scheduler Scheduler

	maxCheckDuration time.Duration
}

// NewSolutionService creates the lifecycle service. A non-positive
// maxCheckDuration uses the default.
func NewSolutionService(
	solutions repository.SolutionRepository,
	exercises repository.ExerciseRepository,
	notifier notifications.Notifier,
	producer mq.Producer,
	scheduler Scheduler,
	maxCheckDuration time.Duration,
) *SolutionService {
	if maxCheckDuration <= 0 {
		maxCheckDuration = DefaultMaxCheckDuration
	}
	return &SolutionService{
		solutions:        solutions,
		exercises:        exercises,
		notifier:         notifier,
		producer:         producer,
		scheduler:        scheduler,
		maxCheckDuration: maxCheckDuration,
	}
}

// Submit stores a new solution and hands it to the pipeline. Older
// submissions of the same (exercise, solver) pair are superseded inside
// Create; checking starts with the duplicate scan so an already-reviewed
// identical solution never reaches a sandbox.
func (s *SolutionService) Submit(ctx context.Context, exerciseID, solverID int64, files []model.NewFile) (*model.Solution, error) {
	solution, err := s.solutions.Create(ctx, exerciseID, solverID, files)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithSolutionID(ctx, solution.ID)
	if err := publishSolutionTask(ctx, s.producer, TopicNewDuplicate, solution.ID); err != nil {
		logger.Errorf(ctx, "failed to enqueue duplicate scan: %v", err)
		return nil, err
	}
	logger.Info(ctx, "solution submitted")
	return solution, nil
}

// GetNextUnchecked returns the solution a reviewer should take next, or nil
// when the queue is empty. exerciseID of 0 means any exercise.
func (s *SolutionService) GetNextUnchecked(ctx context.Context, exerciseID int64) (*model.Solution, error) {
	return s.solutions.NextUnchecked(ctx, exerciseID)
}

// StartChecking claims a solution for review. Exactly one caller wins the
// CREATED to IN_CHECKING transition; the winner also arms the watchdog that
// frees the solution if the review never finishes.
func (s *SolutionService) StartChecking(ctx context.Context, solutionID int64) (bool, error) {
	ctx = logger.WithSolutionID(ctx, solutionID)
	changed, err := s.solutions.UpdateStateFrom(ctx, solutionID, model.StateCreated, model.StateInChecking)
	if err != nil {
		return false, err
	}
	if !changed {
		logger.Info(ctx, "solution already claimed or finished")
		return false, nil
	}

	payload, err := marshalSolutionTask(solutionID)
	if err != nil {
		return true, err
	}
	if err := s.scheduler.Schedule(ctx, TopicResetSolution, mq.NewMessage(payload), s.maxCheckDuration); err != nil {
		logger.Errorf(ctx, "failed to arm check watchdog: %v", err)
		return true, appErr.Wrap(err, appErr.ScheduleFailed)
	}
	logger.Info(ctx, "solution claimed for checking")
	return true, nil
}

// MarkAsChecked finishes a review. Idempotent: only the call that actually
// changes state notifies the solver and triggers the forward duplicate
// resolution; replays return false and stay silent.
func (s *SolutionService) MarkAsChecked(ctx context.Context, solutionID, checkerID int64) (bool, error) {
	ctx = logger.WithSolutionID(ctx, solutionID)
	changed, err := s.solutions.MarkAsChecked(ctx, solutionID, checkerID)
	if err != nil {
		return false, err
	}
	if !changed {
		logger.Info(ctx, "solution was already checked")
		return false, nil
	}

	solution, err := s.solutions.GetByID(ctx, solutionID)
	if err != nil {
		return true, err
	}
	subject := s.exerciseSubject(ctx, solution.ExerciseID)
	message := fmt.Sprintf("Your %q solution has been checked.", subject)
	if err := s.notifier.Notify(ctx, solution.SolverID, notifications.KindChecked, message, solutionID, solutionURL(solutionID)); err != nil {
		logger.Warnf(ctx, "checked notification failed: %v", err)
	}

	if err := publishSolutionTask(ctx, s.producer, TopicSolvedDuplicate, solutionID); err != nil {
		logger.Errorf(ctx, "failed to enqueue duplicate resolution: %v", err)
	}
	logger.Info(ctx, "solution marked as checked")
	return true, nil
}

// ResetIfStuck is the watchdog: it returns a solution to CREATED only when
// it is still IN_CHECKING. A solution finished in time makes this a no-op.
func (s *SolutionService) ResetIfStuck(ctx context.Context, solutionID int64) (bool, error) {
	ctx = logger.WithSolutionID(ctx, solutionID)
	changed, err := s.solutions.UpdateStateFrom(ctx, solutionID, model.StateInChecking, model.StateCreated)
	if err != nil {
		return false, err
	}
	if changed {
		logger.Warn(ctx, "check exceeded its time budget, solution returned to queue")
	}
	return changed, nil
}

// Progress returns submitted/checked counts for an exercise.
func (s *SolutionService) Progress(ctx context.Context, exerciseID int64) (*model.ExerciseProgress, error) {
	return s.solutions.Progress(ctx, exerciseID)
}

func (s *SolutionService) exerciseSubject(ctx context.Context, exerciseID int64) string {
	subject, err := s.exercises.GetSubject(ctx, exerciseID)
	if err != nil {
		logger.Warnf(ctx, "could not resolve exercise %d subject: %v", exerciseID, err)
		return "exercise"
	}
	return subject
}

func solutionURL(solutionID int64) string {
	return fmt.Sprintf("/solutions/%d", solutionID)
}

// solutionTask is the queue payload shared by all per-solution topics.
type solutionTask struct {
	SolutionID int64 `json:"solution_id"`
}

func marshalSolutionTask(solutionID int64) ([]byte, error) {
	payload, err := json.Marshal(solutionTask{SolutionID: solutionID})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError)
	}
	return payload, nil
}

func publishSolutionTask(ctx context.Context, producer mq.Producer, topic string, solutionID int64) error {
	payload, err := marshalSolutionTask(solutionID)
	if err != nil {
		return err
	}
	if err := producer.Publish(ctx, topic, mq.NewMessage(payload)); err != nil {
		return appErr.Wrap(err, appErr.QueuePublishFailed)
	}
	return nil
}
