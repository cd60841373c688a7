// Package model defines the persisted records of the checking pipeline.
package model

import "time"

// SolutionState is the lifecycle state of a solution. The stored string
// values are part of the durable contract and must round-trip exactly.
type SolutionState string

const (
	StateCreated     SolutionState = "CREATED"
	StateInChecking  SolutionState = "IN_CHECKING"
	StateDone        SolutionState = "DONE"
	StateOldSolution SolutionState = "OLD_SOLUTION"
)

// Valid reports whether s is one of the known states.
func (s SolutionState) Valid() bool {
	switch s {
	case StateCreated, StateInChecking, StateDone, StateOldSolution:
		return true
	}
	return false
}

// Terminal reports whether the state ends the solution's lifecycle.
func (s SolutionState) Terminal() bool {
	return s == StateDone || s == StateOldSolution
}

// ActiveStates are the states counted as a live submission for an exercise.
func ActiveStates() []SolutionState {
	return []SolutionState{StateCreated, StateInChecking, StateDone}
}

// Solution is one submission attempt for one (exercise, solver) pair.
// At most one solution per pair may be non-terminal at a time; creating a
// new one demotes all previous non-terminal solutions to OLD_SOLUTION.
type Solution struct {
	ID                  int64         `db:"id"`
	ExerciseID          int64         `db:"exercise_id"`
	SolverID            int64         `db:"solver_id"`
	CheckerID           *int64        `db:"checker_id"`
	State               SolutionState `db:"state"`
	SubmissionTimestamp time.Time     `db:"submission_timestamp"`
	Hashed              string        `db:"hashed"`
}

// IsChecked reports whether the solution finished checking.
func (s *Solution) IsChecked() bool {
	return s.State == StateDone
}

// SolutionFile is one file belonging to a solution. Comments attach to a
// file, not to the solution itself.
type SolutionFile struct {
	ID         int64  `db:"id"`
	SolutionID int64  `db:"solution_id"`
	Path       string `db:"path"`
	Code       string `db:"code"`
	FileHash   string `db:"file_hash"`
}

// Suffix returns the lowercase-insensitive file extension without the dot,
// or an empty string when the path has none.
func (f *SolutionFile) Suffix() string {
	for i := len(f.Path) - 1; i >= 0; i-- {
		switch f.Path[i] {
		case '.':
			if i == 0 || f.Path[i-1] == '/' {
				return ""
			}
			return f.Path[i+1:]
		case '/':
			return ""
		}
	}
	return ""
}

// NewFile is an extracted (path, code) pair handed to the pipeline by the
// upload collaborator.
type NewFile struct {
	Path string
	Code string
}

// Comment is one annotation on a specific line of a solution file.
// Automated comments always carry IsAuto and the system commenter id.
type Comment struct {
	ID          int64     `db:"id"`
	CommenterID int64     `db:"commenter_id"`
	FileID      int64     `db:"file_id"`
	CommentID   int64     `db:"comment_id"`
	LineNumber  int       `db:"line_number"`
	IsAuto      bool      `db:"is_auto"`
	Timestamp   time.Time `db:"timestamp"`
}

// CommentText is a deduplicated comment body. Identical texts share a row.
type CommentText struct {
	ID       int64   `db:"id"`
	Text     string  `db:"text"`
	FlakeKey *string `db:"flake8_key"`
}

// CommentDetail is a comment joined with its text, for rendering.
type CommentDetail struct {
	ID          int64  `db:"id"`
	FileID      int64  `db:"file_id"`
	CommenterID int64  `db:"commenter_id"`
	LineNumber  int    `db:"line_number"`
	IsAuto      bool   `db:"is_auto"`
	Text        string `db:"text"`
}

// ExerciseTest holds the unit-test code for an exercise; one active test
// definition per exercise.
type ExerciseTest struct {
	ID         int64  `db:"id"`
	ExerciseID int64  `db:"exercise_id"`
	Code       string `db:"code"`
}

// FatalTestName is the sentinel test name recorded when a test report could
// not be produced or parsed at all.
const FatalTestName = "fatal_test_failure"

// TestExecution is one recorded unit-test failure for a solution. The user
// message is solver-facing, the staff message carries the full detail.
type TestExecution struct {
	ID           int64  `db:"id"`
	SolutionID   int64  `db:"solution_id"`
	TestName     string `db:"test_name"`
	UserMessage  string `db:"user_message"`
	StaffMessage string `db:"staff_message"`
}

// ExerciseProgress summarizes checking progress for one exercise.
type ExerciseProgress struct {
	ExerciseID int64 `db:"exercise_id"`
	Submitted  int64 `db:"submitted"`
	Checked    int64 `db:"checked"`
}
