package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"checkhub/internal/checker/linters"
	"checkhub/internal/checker/model"
	"checkhub/internal/checker/notifications"
	"checkhub/internal/checker/sandbox"
	"checkhub/internal/checker/service"
)

// stubExecutor resolves the canned output by the file name handed to the
// tool, so concurrent per-file sandboxes stay independent.
type stubExecutor struct {
	mu      sync.Mutex
	outputs map[string]sandbox.Output
	written map[string]string
}

func (e *stubExecutor) WriteFile(ctx context.Context, path string, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.written == nil {
		e.written = map[string]string{}
	}
	e.written[path] = content
	return nil
}

func (e *stubExecutor) ReadFile(ctx context.Context, path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written[path], nil
}

func (e *stubExecutor) Run(ctx context.Context, args ...string) (sandbox.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(args) == 0 {
		return sandbox.Output{}, nil
	}
	return e.outputs[args[len(args)-1]], nil
}

func (e *stubExecutor) Close() error { return nil }

type stubProvider struct {
	outputs map[string]sandbox.Output
	newErr  error
}

func (p *stubProvider) New(ctx context.Context) (sandbox.Executor, error) {
	if p.newErr != nil {
		return nil, p.newErr
	}
	return &stubExecutor{outputs: p.outputs}, nil
}

type linterFixture struct {
	svc       *service.LinterService
	solutions *memSolutionRepo
	comments  *memCommentRepo
	recorder  *notifications.Recorder
}

func newLinterFixture(provider sandbox.Provider) *linterFixture {
	solutions := newMemSolutionRepo()
	comments := newMemCommentRepo(solutions)
	exercises := newMemExerciseRepo(solutions)
	exercises.subjects[10] = "Loops"
	recorder := notifications.NewRecorder()
	svc := service.NewLinterService(
		solutions, comments, exercises,
		linters.DefaultRegistry(), provider, recorder, systemUserID,
	)
	return &linterFixture{svc: svc, solutions: solutions, comments: comments, recorder: recorder}
}

func TestLinterRunRecordsFindingsAndNotifies(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{outputs: map[string]sandbox.Output{}}
	f := newLinterFixture(provider)
	solution := f.solutions.add(10, 42, model.StateInChecking,
		model.NewFile{Path: "README", Code: "notes"},
		model.NewFile{Path: "main.py", Code: "x=1"},
	)

	var pyFile *model.SolutionFile
	files, _ := f.solutions.ListFiles(context.Background(), solution.ID)
	for _, file := range files {
		if file.Path == "main.py" {
			pyFile = file
		}
	}
	pyName := fmt.Sprintf("solution_%d.py", pyFile.ID)
	provider.outputs[pyName] = sandbox.Output{
		Stdout:   pyName + ":1:2: E225 missing whitespace around operator\n",
		ExitCode: 1,
	}

	if err := f.svc.Run(context.Background(), solution); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	auto := f.comments.autoForSolution(solution.ID)
	if len(auto) != 1 {
		t.Fatalf("expected one automated comment, got %v", auto)
	}
	if auto[0].CommenterID != systemUserID || auto[0].LineNumber != 1 || auto[0].FileID != pyFile.ID {
		t.Fatalf("unexpected comment: %+v", auto[0])
	}
	if auto[0].Text != linters.FlakeMessages["E225"] {
		t.Fatalf("unexpected comment text: %q", auto[0].Text)
	}

	sent := f.recorder.ForUser(42)
	if len(sent) != 1 || sent[0].Kind != notifications.KindAutoChecked {
		t.Fatalf("expected one auto-check notification, got %v", sent)
	}
	if !strings.Contains(sent[0].Message, "1 issues") || !strings.Contains(sent[0].Message, "Loops") {
		t.Fatalf("unexpected notification message: %q", sent[0].Message)
	}
}

func TestLinterRunCleanSolutionStaysSilent(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{outputs: map[string]sandbox.Output{}}
	f := newLinterFixture(provider)
	solution := f.solutions.add(10, 42, model.StateInChecking, model.NewFile{Path: "main.py", Code: "x = 1"})

	if err := f.svc.Run(context.Background(), solution); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := f.comments.autoForSolution(solution.ID); len(got) != 0 {
		t.Fatalf("clean run must not create comments: %v", got)
	}
	if len(f.recorder.Sent()) != 0 {
		t.Fatalf("clean run must not notify: %v", f.recorder.Sent())
	}
}

func TestLinterRunSandboxFailureYieldsSyntheticFinding(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{newErr: context.DeadlineExceeded}
	f := newLinterFixture(provider)
	solution := f.solutions.add(10, 42, model.StateInChecking, model.NewFile{Path: "main.py", Code: "x = 1"})

	if err := f.svc.Run(context.Background(), solution); err != nil {
		t.Fatalf("a broken sandbox must not fail the run: %v", err)
	}
	auto := f.comments.autoForSolution(solution.ID)
	if len(auto) != 1 {
		t.Fatalf("expected the synthetic failure comment, got %v", auto)
	}
	if !strings.Contains(auto[0].Text, "could not run") {
		t.Fatalf("unexpected synthetic comment: %q", auto[0].Text)
	}
}

func TestLinterRunSkipsUnmatchedFiles(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{newErr: context.DeadlineExceeded}
	f := newLinterFixture(provider)
	solution := f.solutions.add(10, 42, model.StateInChecking, model.NewFile{Path: "notes.txt", Code: "plain text"})

	if err := f.svc.Run(context.Background(), solution); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := f.comments.autoForSolution(solution.ID); len(got) != 0 {
		t.Fatalf("files without a checker are skipped, got %v", got)
	}
}
