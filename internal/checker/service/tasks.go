package service

import (
	"context"
	"encoding/json"

	"checkhub/internal/checker/unittest"
	"checkhub/internal/common/mq"
	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/logger"
)

// Queue topics of the checking pipeline.
const (
	// TopicCheckSolution triggers the automated checks for one solution.
	TopicCheckSolution = "checker.run"

	// TopicResetSolution is the delayed watchdog message.
	TopicResetSolution = "checker.reset"

	// TopicNewDuplicate scans a fresh solution for an already checked twin.
	TopicNewDuplicate = "checker.duplicates.new"

	// TopicSolvedDuplicate resolves unchecked twins of a checked solution.
	TopicSolvedDuplicate = "checker.duplicates.solved"

	// TopicNotifications carries outbound user notifications.
	TopicNotifications = "notifications"
)

// Tasks wires the pipeline services to the task queue. Delivery is
// at-least-once, so every handler is idempotent and absorbs its own errors:
// a broken solution is logged and dropped, never allowed to wedge the
// consumer.
type Tasks struct {
	queue     mq.MessageQueue
	producer  mq.Producer
	solutions *SolutionService
	linters   *LinterService
	identical *IdenticalService
	unittest  *unittest.Checker
}

// Register subscribes every pipeline handler on the queue.
func (t *Tasks) Register(ctx context.Context) error {
	subscriptions := map[string]mq.HandlerFunc{
		TopicCheckSolution:   t.handleCheck,
		TopicNewDuplicate:    t.handleNewDuplicate,
		TopicSolvedDuplicate: t.handleSolvedDuplicate,
		TopicResetSolution:   t.handleReset,
	}
	for topic, handler := range subscriptions {
		if err := t.queue.Subscribe(ctx, topic, handler); err != nil {
			return appErr.Wrap(err, appErr.QueueError)
		}
	}
	return nil
}

// NewTasks creates the task layer.
func NewTasks(
	queue mq.MessageQueue,
	solutions *SolutionService,
	linters *LinterService,
	identical *IdenticalService,
	unitTests *unittest.Checker,
) *Tasks {
	return &Tasks{
		queue:     queue,
		producer:  queue,
		solutions: solutions,
		linters:   linters,
		identical: identical,
		unittest:  unitTests,
	}
}

// handleCheck runs the static checkers and the unit tests for one solution.
func (t *Tasks) handleCheck(ctx context.Context, message *mq.Message) error {
	solutionID, ok := decodeSolutionTask(ctx, message)
	if !ok {
		return nil
	}
	ctx = logger.WithSolutionID(ctx, solutionID)

	solution, err := t.solutions.solutions.GetByID(ctx, solutionID)
	if err != nil {
		logger.Errorf(ctx, "check task could not load solution: %v", err)
		return nil
	}

	if err := t.linters.Run(ctx, solution); err != nil {
		logger.Errorf(ctx, "linter run failed: %v", err)
	}
	if err := t.unittest.Check(ctx, solution); err != nil {
		logger.Errorf(ctx, "unit test run failed: %v", err)
	}
	return nil
}

// handleNewDuplicate tries to resolve a fresh solution from a checked twin.
// Without a twin the solution continues into the normal check flow.
func (t *Tasks) handleNewDuplicate(ctx context.Context, message *mq.Message) error {
	solutionID, ok := decodeSolutionTask(ctx, message)
	if !ok {
		return nil
	}
	ctx = logger.WithSolutionID(ctx, solutionID)

	resolved, err := t.identical.CloneFromDone(ctx, solutionID)
	if err != nil {
		logger.Errorf(ctx, "duplicate scan failed: %v", err)
		return nil
	}
	if resolved {
		return nil
	}
	if err := publishSolutionTask(ctx, t.producer, TopicCheckSolution, solutionID); err != nil {
		logger.Errorf(ctx, "failed to enqueue check: %v", err)
		return appErr.Wrap(err, appErr.QueuePublishFailed)
	}
	return nil
}

// handleSolvedDuplicate forwards a finished review onto identical unchecked
// solutions.
func (t *Tasks) handleSolvedDuplicate(ctx context.Context, message *mq.Message) error {
	solutionID, ok := decodeSolutionTask(ctx, message)
	if !ok {
		return nil
	}
	ctx = logger.WithSolutionID(ctx, solutionID)
	if err := t.identical.ResolveCreatedDuplicates(ctx, solutionID); err != nil {
		logger.Errorf(ctx, "duplicate resolution failed: %v", err)
	}
	return nil
}

// handleReset is the watchdog delivery.
func (t *Tasks) handleReset(ctx context.Context, message *mq.Message) error {
	solutionID, ok := decodeSolutionTask(ctx, message)
	if !ok {
		return nil
	}
	ctx = logger.WithSolutionID(ctx, solutionID)
	if _, err := t.solutions.ResetIfStuck(ctx, solutionID); err != nil {
		logger.Errorf(ctx, "watchdog reset failed: %v", err)
	}
	return nil
}

// decodeSolutionTask extracts the solution id from a task payload. A
// malformed payload can never become valid, so it is logged and dropped
// rather than retried.
func decodeSolutionTask(ctx context.Context, message *mq.Message) (int64, bool) {
	var task solutionTask
	if err := json.Unmarshal(message.Body, &task); err != nil {
		logger.Errorf(ctx, "dropping malformed task payload: %v", err)
		return 0, false
	}
	if task.SolutionID <= 0 {
		logger.Errorf(ctx, "dropping task without solution id")
		return 0, false
	}
	return task.SolutionID, true
}
