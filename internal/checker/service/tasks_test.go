package service_test

import (
	"context"
	"sync/atomic"
	"testing"

	"checkhub/internal/checker/linters"
	"checkhub/internal/checker/model"
	"checkhub/internal/checker/notifications"
	"checkhub/internal/checker/sandbox"
	"checkhub/internal/checker/service"
	"checkhub/internal/checker/unittest"
	"checkhub/internal/common/mq"
)

// pipelineFixture wires the full task pipeline over a synchronous direct
// queue, so one Publish drives the whole flow to completion.
type pipelineFixture struct {
	queue      *mq.DirectQueue
	solutions  *memSolutionRepo
	comments   *memCommentRepo
	exercises  *memExerciseRepo
	recorder   *notifications.Recorder
	scheduler  *recordingScheduler
	svc        *service.SolutionService
	checkCount atomic.Int64
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		queue:     mq.NewDirectQueue(),
		solutions: newMemSolutionRepo(),
		recorder:  notifications.NewRecorder(),
		scheduler: &recordingScheduler{},
	}
	f.exercises = newMemExerciseRepo(f.solutions)
	f.comments = newMemCommentRepo(f.solutions)
	f.exercises.subjects[10] = "Loops"

	provider := &stubProvider{outputs: map[string]sandbox.Output{}}
	f.svc = service.NewSolutionService(f.solutions, f.exercises, f.recorder, f.queue, f.scheduler, 0)
	linterSvc := service.NewLinterService(
		f.solutions, f.comments, f.exercises,
		linters.DefaultRegistry(), provider, f.recorder, systemUserID,
	)
	identicalSvc := service.NewIdenticalService(f.solutions, f.comments, f.exercises, f.recorder, systemUserID)
	unitChecker := unittest.NewChecker(f.solutions, f.exercises, provider, f.recorder)

	tasks := service.NewTasks(f.queue, f.svc, linterSvc, identicalSvc, unitChecker)
	ctx := context.Background()
	if err := tasks.Register(ctx); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	// Count check deliveries alongside the real handler.
	err := f.queue.Subscribe(ctx, service.TopicCheckSolution, func(ctx context.Context, m *mq.Message) error {
		f.checkCount.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return f
}

func TestPipelineResolvedDuplicateNeverReachesCheckers(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ctx := context.Background()

	files := []model.NewFile{{Path: "main.py", Code: "x = 1"}}
	f.solutions.add(10, 41, model.StateDone, files...)

	solution, err := f.svc.Submit(ctx, 10, 42, files)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if f.solutions.stateOf(solution.ID) != model.StateDone {
		t.Fatalf("duplicate should resolve straight to DONE, got %s", f.solutions.stateOf(solution.ID))
	}
	if got := f.checkCount.Load(); got != 0 {
		t.Fatalf("resolved duplicates must not be checked, saw %d check tasks", got)
	}
	if len(f.recorder.ForUser(42)) != 1 {
		t.Fatal("the solver should be told the solution was checked")
	}
}

func TestPipelineFreshSolutionGoesToCheckers(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ctx := context.Background()

	solution, err := f.svc.Submit(ctx, 10, 42, []model.NewFile{{Path: "main.py", Code: "x = 1"}})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if got := f.checkCount.Load(); got != 1 {
		t.Fatalf("expected exactly one check task, saw %d", got)
	}
	// The checkers found nothing and the exercise has no unit tests, so the
	// solution still awaits its human review.
	if f.solutions.stateOf(solution.ID) != model.StateCreated {
		t.Fatalf("unreviewed solution should stay CREATED, got %s", f.solutions.stateOf(solution.ID))
	}
	if len(f.recorder.Sent()) != 0 {
		t.Fatalf("a clean run stays silent, got %v", f.recorder.Sent())
	}
}

func TestPipelineMalformedPayloadIsDropped(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ctx := context.Background()

	for _, body := range [][]byte{[]byte("not json"), []byte(`{"solution_id": 0}`), []byte(`{}`)} {
		for _, topic := range []string{
			service.TopicCheckSolution, service.TopicNewDuplicate,
			service.TopicSolvedDuplicate, service.TopicResetSolution,
		} {
			if err := f.queue.Publish(ctx, topic, mq.NewMessage(body)); err != nil {
				t.Fatalf("malformed payload on %s must be absorbed: %v", topic, err)
			}
		}
	}
}

func TestPipelineWatchdogResetsStuckCheck(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ctx := context.Background()

	solution := f.solutions.add(10, 42, model.StateCreated, model.NewFile{Path: "main.py", Code: "x"})
	claimed, err := f.svc.StartChecking(ctx, solution.ID)
	if err != nil || !claimed {
		t.Fatalf("claim failed: claimed=%v err=%v", claimed, err)
	}

	scheduled := f.scheduler.snapshot()
	if len(scheduled) != 1 || scheduled[0].topic != service.TopicResetSolution {
		t.Fatalf("expected one armed reset, got %v", scheduled)
	}

	// Deliver the watchdog message as the scheduler would once it is due.
	if err := f.queue.Publish(ctx, scheduled[0].topic, scheduled[0].message); err != nil {
		t.Fatalf("reset delivery failed: %v", err)
	}
	if f.solutions.stateOf(solution.ID) != model.StateCreated {
		t.Fatalf("stuck solution should be back in the queue, got %s", f.solutions.stateOf(solution.ID))
	}
}

func TestPipelineWatchdogAfterFinishIsNoOp(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ctx := context.Background()

	solution := f.solutions.add(10, 42, model.StateCreated, model.NewFile{Path: "main.py", Code: "x"})
	if _, err := f.svc.StartChecking(ctx, solution.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.MarkAsChecked(ctx, solution.ID, 7); err != nil {
		t.Fatalf("mark as checked failed: %v", err)
	}

	scheduled := f.scheduler.snapshot()
	if err := f.queue.Publish(ctx, scheduled[0].topic, scheduled[0].message); err != nil {
		t.Fatalf("reset delivery failed: %v", err)
	}
	if f.solutions.stateOf(solution.ID) != model.StateDone {
		t.Fatalf("a finished solution must stay DONE, got %s", f.solutions.stateOf(solution.ID))
	}
}

func TestPipelineFinishedReviewResolvesWaitingTwins(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	ctx := context.Background()

	files := []model.NewFile{{Path: "main.py", Code: "x = 1"}}
	reviewed := f.solutions.add(10, 41, model.StateInChecking, files...)
	twin := f.solutions.add(10, 42, model.StateCreated, files...)

	changed, err := f.svc.MarkAsChecked(ctx, reviewed.ID, 7)
	if err != nil || !changed {
		t.Fatalf("mark as checked failed: changed=%v err=%v", changed, err)
	}

	if f.solutions.stateOf(twin.ID) != model.StateDone {
		t.Fatalf("waiting twin should inherit the review, got %s", f.solutions.stateOf(twin.ID))
	}
	if len(f.recorder.ForUser(42)) != 1 {
		t.Fatal("the twin's solver should be notified")
	}
}
