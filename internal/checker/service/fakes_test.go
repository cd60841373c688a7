package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkhub/internal/checker/model"
	"checkhub/internal/common/mq"
	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/hashing"
)

// memSolutionRepo is an in-memory SolutionRepository with the same transition
// semantics as the MySQL implementation.
type memSolutionRepo struct {
	mu           sync.Mutex
	nextID       int64
	nextFile     int64
	clock        time.Time
	solutions    map[int64]*model.Solution
	files        map[int64][]*model.SolutionFile
	commentCount map[int64]int
	failureCount map[int64]int
}

func newMemSolutionRepo() *memSolutionRepo {
	return &memSolutionRepo{
		clock:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		solutions:    map[int64]*model.Solution{},
		files:        map[int64][]*model.SolutionFile{},
		commentCount: map[int64]int{},
		failureCount: map[int64]int{},
	}
}

func (r *memSolutionRepo) noteComment(solutionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commentCount[solutionID]++
}

func (r *memSolutionRepo) noteFailure(solutionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureCount[solutionID]++
}

// setChecker seeds a checker identity directly, bypassing state transitions.
func (r *memSolutionRepo) setChecker(solutionID int64, checkerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.solutions[solutionID]; ok {
		s.CheckerID = &checkerID
	}
}

// add seeds a solution directly, bypassing the supersede logic.
func (r *memSolutionRepo) add(exerciseID, solverID int64, state model.SolutionState, files ...model.NewFile) *model.Solution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(exerciseID, solverID, state, files)
}

func (r *memSolutionRepo) insert(exerciseID, solverID int64, state model.SolutionState, files []model.NewFile) *model.Solution {
	r.nextID++
	r.clock = r.clock.Add(time.Second)
	paths := make([]string, len(files))
	codes := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
		codes[i] = f.Code
	}
	solution := &model.Solution{
		ID:                  r.nextID,
		ExerciseID:          exerciseID,
		SolverID:            solverID,
		State:               state,
		SubmissionTimestamp: r.clock,
		Hashed:              hashing.ByFileSet(paths, codes),
	}
	r.solutions[solution.ID] = solution
	for _, f := range files {
		r.nextFile++
		r.files[solution.ID] = append(r.files[solution.ID], &model.SolutionFile{
			ID:         r.nextFile,
			SolutionID: solution.ID,
			Path:       f.Path,
			Code:       f.Code,
			FileHash:   hashing.ByContent([]byte(f.Code)),
		})
	}
	return solution
}

func (r *memSolutionRepo) Create(ctx context.Context, exerciseID, solverID int64, files []model.NewFile) (*model.Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exerciseID <= 0 || solverID <= 0 || len(files) == 0 {
		return nil, appErr.ValidationError("submission", "invalid")
	}

	paths := make([]string, len(files))
	codes := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
		codes[i] = f.Code
	}
	hash := hashing.ByFileSet(paths, codes)

	var last *model.Solution
	for _, s := range r.solutions {
		if s.ExerciseID != exerciseID || s.SolverID != solverID {
			continue
		}
		if last == nil || s.SubmissionTimestamp.After(last.SubmissionTimestamp) {
			last = s
		}
	}
	if last != nil && last.Hashed == hash {
		return nil, appErr.New(appErr.SolutionAlreadyExists)
	}

	solution := r.insert(exerciseID, solverID, model.StateCreated, files)
	for _, s := range r.solutions {
		if s.ID != solution.ID && s.ExerciseID == exerciseID && s.SolverID == solverID {
			s.State = model.StateOldSolution
		}
	}
	return solution, nil
}

func (r *memSolutionRepo) GetByID(ctx context.Context, solutionID int64) (*model.Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	solution, ok := r.solutions[solutionID]
	if !ok {
		return nil, appErr.New(appErr.SolutionNotFound)
	}
	copied := *solution
	return &copied, nil
}

func (r *memSolutionRepo) UpdateStateFrom(ctx context.Context, solutionID int64, from, to model.SolutionState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	solution, ok := r.solutions[solutionID]
	if !ok || solution.State != from {
		return false, nil
	}
	solution.State = to
	return true, nil
}

func (r *memSolutionRepo) MarkAsChecked(ctx context.Context, solutionID, checkerID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	solution, ok := r.solutions[solutionID]
	if !ok || solution.State == model.StateDone {
		return false, nil
	}
	solution.State = model.StateDone
	solution.CheckerID = &checkerID
	return true, nil
}

func (r *memSolutionRepo) AdoptResult(ctx context.Context, solutionID int64, checkerID *int64, state model.SolutionState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	solution, ok := r.solutions[solutionID]
	if !ok || solution.State != model.StateCreated {
		return false, nil
	}
	solution.State = state
	solution.CheckerID = checkerID
	return true, nil
}

func (r *memSolutionRepo) NextUnchecked(ctx context.Context, exerciseID int64) (*model.Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*model.Solution
	for _, s := range r.solutions {
		if s.State != model.StateCreated {
			continue
		}
		if exerciseID > 0 && s.ExerciseID != exerciseID {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	// Same ordering as the SQL query: fewest comments, then fewest recorded
	// test failures, oldest submission breaking the tie.
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := r.commentCount[candidates[i].ID], r.commentCount[candidates[j].ID]
		if ci != cj {
			return ci < cj
		}
		fi, fj := r.failureCount[candidates[i].ID], r.failureCount[candidates[j].ID]
		if fi != fj {
			return fi < fj
		}
		return candidates[i].SubmissionTimestamp.Before(candidates[j].SubmissionTimestamp)
	})
	copied := *candidates[0]
	return &copied, nil
}

func (r *memSolutionRepo) FindDoneByHash(ctx context.Context, exerciseID int64, hash string, excludeID int64) (*model.Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.solutions {
		if s.ID != excludeID && s.ExerciseID == exerciseID && s.Hashed == hash && s.State == model.StateDone {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memSolutionRepo) FindCreatedByHash(ctx context.Context, exerciseID int64, hash string, excludeID int64) ([]*model.Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []*model.Solution
	for _, s := range r.solutions {
		if s.ID != excludeID && s.ExerciseID == exerciseID && s.Hashed == hash && s.State == model.StateCreated {
			copied := *s
			matches = append(matches, &copied)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

func (r *memSolutionRepo) ListFiles(ctx context.Context, solutionID int64) ([]*model.SolutionFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := append([]*model.SolutionFile(nil), r.files[solutionID]...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (r *memSolutionRepo) GetFile(ctx context.Context, fileID int64) (*model.SolutionFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, files := range r.files {
		for _, f := range files {
			if f.ID == fileID {
				copied := *f
				return &copied, nil
			}
		}
	}
	return nil, appErr.New(appErr.SolutionFileNotFound)
}

func (r *memSolutionRepo) Progress(ctx context.Context, exerciseID int64) (*model.ExerciseProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	progress := &model.ExerciseProgress{ExerciseID: exerciseID}
	for _, s := range r.solutions {
		if s.ExerciseID != exerciseID || s.State == model.StateOldSolution {
			continue
		}
		progress.Submitted++
		if s.State == model.StateDone {
			progress.Checked++
		}
	}
	return progress, nil
}

func (r *memSolutionRepo) ownerOf(fileID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for solutionID, files := range r.files {
		for _, f := range files {
			if f.ID == fileID {
				return solutionID
			}
		}
	}
	return 0
}

func (r *memSolutionRepo) stateOf(solutionID int64) model.SolutionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.solutions[solutionID]; ok {
		return s.State
	}
	return ""
}

// memCommentRepo is an in-memory CommentRepository backed by the solution
// repo for file ownership.
type memCommentRepo struct {
	mu        sync.Mutex
	solutions *memSolutionRepo
	nextID    int64
	comments  []*model.CommentDetail
	flakeKeys map[int64]string
}

func newMemCommentRepo(solutions *memSolutionRepo) *memCommentRepo {
	return &memCommentRepo{solutions: solutions, flakeKeys: map[int64]string{}}
}

// seedHuman records a manual review comment on a file.
func (r *memCommentRepo) seedHuman(commenterID, fileID int64, line int, text string) {
	r.mu.Lock()
	r.nextID++
	r.comments = append(r.comments, &model.CommentDetail{
		ID: r.nextID, FileID: fileID, CommenterID: commenterID,
		LineNumber: line, IsAuto: false, Text: text,
	})
	r.mu.Unlock()
	r.solutions.noteComment(r.solutions.ownerOf(fileID))
}

func (r *memCommentRepo) CreateAuto(ctx context.Context, commenterID, fileID int64, lineNumber int, text string, flakeKey string) error {
	if text == "" {
		return appErr.ValidationError("text", "required")
	}
	r.mu.Lock()
	r.nextID++
	r.comments = append(r.comments, &model.CommentDetail{
		ID: r.nextID, FileID: fileID, CommenterID: commenterID,
		LineNumber: lineNumber, IsAuto: true, Text: text,
	})
	r.flakeKeys[r.nextID] = flakeKey
	r.mu.Unlock()
	r.solutions.noteComment(r.solutions.ownerOf(fileID))
	return nil
}

func (r *memCommentRepo) ListBySolution(ctx context.Context, solutionID int64) ([]*model.CommentDetail, error) {
	return r.list(solutionID, false), nil
}

func (r *memCommentRepo) ListByFile(ctx context.Context, fileID int64) ([]*model.CommentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CommentDetail
	for _, c := range r.comments {
		if c.FileID == fileID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memCommentRepo) ListNonAutoBySolution(ctx context.Context, solutionID int64) ([]*model.CommentDetail, error) {
	return r.list(solutionID, true), nil
}

func (r *memCommentRepo) list(solutionID int64, humanOnly bool) []*model.CommentDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CommentDetail
	for _, c := range r.comments {
		if r.solutions.ownerOf(c.FileID) != solutionID {
			continue
		}
		if humanOnly && c.IsAuto {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *memCommentRepo) autoForSolution(solutionID int64) []*model.CommentDetail {
	var out []*model.CommentDetail
	for _, c := range r.list(solutionID, false) {
		if c.IsAuto {
			out = append(out, c)
		}
	}
	return out
}

// memExerciseRepo is an in-memory ExerciseRepository backed by the solution
// repo for the failure-count ordering.
type memExerciseRepo struct {
	mu         sync.Mutex
	solutions  *memSolutionRepo
	subjects   map[int64]string
	tests      map[int64]*model.ExerciseTest
	executions []*model.TestExecution
}

func newMemExerciseRepo(solutions *memSolutionRepo) *memExerciseRepo {
	return &memExerciseRepo{
		solutions: solutions,
		subjects:  map[int64]string{},
		tests:     map[int64]*model.ExerciseTest{},
	}
}

func (r *memExerciseRepo) GetTest(ctx context.Context, exerciseID int64) (*model.ExerciseTest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	test, ok := r.tests[exerciseID]
	if !ok {
		return nil, appErr.New(appErr.ExerciseTestNotFound)
	}
	return test, nil
}

func (r *memExerciseRepo) GetSubject(ctx context.Context, exerciseID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subject, ok := r.subjects[exerciseID]
	if !ok {
		return "", appErr.New(appErr.ExerciseNotFound)
	}
	return subject, nil
}

func (r *memExerciseRepo) CreateTestExecution(ctx context.Context, solutionID int64, testName, userMessage, staffMessage string) (bool, error) {
	r.mu.Lock()
	for _, e := range r.executions {
		if e.SolutionID == solutionID && e.TestName == testName && e.StaffMessage == staffMessage {
			r.mu.Unlock()
			return false, nil
		}
	}
	r.executions = append(r.executions, &model.TestExecution{
		SolutionID: solutionID, TestName: testName,
		UserMessage: userMessage, StaffMessage: staffMessage,
	})
	r.mu.Unlock()
	r.solutions.noteFailure(solutionID)
	return true, nil
}

func (r *memExerciseRepo) ListTestExecutions(ctx context.Context, solutionID int64) ([]*model.TestExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TestExecution
	for _, e := range r.executions {
		if e.SolutionID == solutionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// recordingProducer captures published messages.
type recordingProducer struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	topic   string
	message *mq.Message
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{topic: topic, message: message})
	return nil
}

func (p *recordingProducer) byTopic(topic string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// recordingScheduler captures delayed deliveries instead of arming timers.
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledMessage
}

type scheduledMessage struct {
	topic   string
	message *mq.Message
	delay   time.Duration
}

func (s *recordingScheduler) Schedule(ctx context.Context, topic string, message *mq.Message, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, scheduledMessage{topic: topic, message: message, delay: delay})
	return nil
}

func (s *recordingScheduler) snapshot() []scheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledMessage(nil), s.scheduled...)
}
