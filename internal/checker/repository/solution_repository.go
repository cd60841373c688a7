// Package repository implements persistence for solutions, comments and
// exercise tests. All state transitions go through conditional updates on the
// state column; workers on separate hosts coordinate through the database,
// never through in-memory locks.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"checkhub/internal/checker/model"
	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/hashing"
)

// SolutionRepository defines solution persistence.
type SolutionRepository interface {
	Create(ctx context.Context, exerciseID, solverID int64, files []model.NewFile) (*model.Solution, error)
	GetByID(ctx context.Context, solutionID int64) (*model.Solution, error)
	UpdateStateFrom(ctx context.Context, solutionID int64, from, to model.SolutionState) (bool, error)
	MarkAsChecked(ctx context.Context, solutionID, checkerID int64) (bool, error)
	AdoptResult(ctx context.Context, solutionID int64, checkerID *int64, state model.SolutionState) (bool, error)
	NextUnchecked(ctx context.Context, exerciseID int64) (*model.Solution, error)
	FindDoneByHash(ctx context.Context, exerciseID int64, hash string, excludeID int64) (*model.Solution, error)
	FindCreatedByHash(ctx context.Context, exerciseID int64, hash string, excludeID int64) ([]*model.Solution, error)
	ListFiles(ctx context.Context, solutionID int64) ([]*model.SolutionFile, error)
	GetFile(ctx context.Context, fileID int64) (*model.SolutionFile, error)
	Progress(ctx context.Context, exerciseID int64) (*model.ExerciseProgress, error)
}

// MySQLSolutionRepository implements SolutionRepository with MySQL.
type MySQLSolutionRepository struct {
	conn sqlx.SqlConn
}

// NewSolutionRepository creates a solution repository.
func NewSolutionRepository(conn sqlx.SqlConn) *MySQLSolutionRepository {
	return &MySQLSolutionRepository{conn: conn}
}

const solutionColumns = "id, exercise_id, solver_id, checker_id, state, submission_timestamp, hashed"

// Create inserts a solution with its files and demotes every other solution
// of the same (exercise, solver) pair to OLD_SOLUTION. A resubmission whose
// content hash equals the solver's latest submission is rejected.
func (r *MySQLSolutionRepository) Create(ctx context.Context, exerciseID, solverID int64, files []model.NewFile) (*model.Solution, error) {
	if exerciseID <= 0 {
		return nil, appErr.ValidationError("exerciseID", "required")
	}
	if solverID <= 0 {
		return nil, appErr.ValidationError("solverID", "required")
	}
	if len(files) == 0 {
		return nil, appErr.ValidationError("files", "required")
	}

	paths := make([]string, len(files))
	codes := make([]string, len(files))
	for i, f := range files {
		if f.Path == "" {
			return nil, appErr.ValidationError("files", "file path is empty")
		}
		paths[i] = f.Path
		codes[i] = f.Code
	}
	hash := hashing.ByFileSet(paths, codes)

	var lastHash string
	err := r.conn.QueryRowCtx(ctx, &lastHash, `
		SELECT hashed FROM solutions
		WHERE exercise_id = ? AND solver_id = ?
		ORDER BY submission_timestamp DESC LIMIT 1
	`, exerciseID, solverID)
	if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	if err == nil && lastHash == hash {
		return nil, appErr.New(appErr.SolutionAlreadyExists)
	}

	now := time.Now()
	solution := &model.Solution{
		ExerciseID:          exerciseID,
		SolverID:            solverID,
		State:               model.StateCreated,
		SubmissionTimestamp: now,
		Hashed:              hash,
	}

	err = r.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		res, err := session.ExecCtx(ctx, `
			INSERT INTO solutions (exercise_id, solver_id, state, submission_timestamp, hashed)
			VALUES (?, ?, ?, ?, ?)
		`, exerciseID, solverID, model.StateCreated, now, hash)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		solution.ID = id

		for i, f := range files {
			if _, err := session.ExecCtx(ctx, `
				INSERT INTO solution_files (solution_id, path, code, file_hash)
				VALUES (?, ?, ?, ?)
			`, id, f.Path, f.Code, hashing.ByContent([]byte(codes[i]))); err != nil {
				return err
			}
		}

		// Supersede every earlier submission for this pair.
		_, err = session.ExecCtx(ctx, `
			UPDATE solutions SET state = ?
			WHERE exercise_id = ? AND solver_id = ? AND id <> ?
		`, model.StateOldSolution, exerciseID, solverID, id)
		return err
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.TransactionFailed)
	}
	return solution, nil
}

// GetByID returns a solution by id.
func (r *MySQLSolutionRepository) GetByID(ctx context.Context, solutionID int64) (*model.Solution, error) {
	var solution model.Solution
	err := r.conn.QueryRowCtx(ctx, &solution, `
		SELECT `+solutionColumns+` FROM solutions WHERE id = ? LIMIT 1
	`, solutionID)
	switch {
	case err == nil:
		return &solution, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, appErr.New(appErr.SolutionNotFound)
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

// UpdateStateFrom performs a compare-and-set on the state column. It returns
// whether a row actually changed, so a watchdog firing after a normal finish
// is a detectable no-op.
func (r *MySQLSolutionRepository) UpdateStateFrom(ctx context.Context, solutionID int64, from, to model.SolutionState) (bool, error) {
	if !from.Valid() || !to.Valid() {
		return false, appErr.New(appErr.InvalidStateChange)
	}
	res, err := r.conn.ExecCtx(ctx, `
		UPDATE solutions SET state = ? WHERE id = ? AND state = ?
	`, to, solutionID, from)
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return affected == 1, nil
}

// MarkAsChecked moves the solution to DONE recording the checker identity.
// Idempotent: marking an already checked solution changes nothing and
// returns false.
func (r *MySQLSolutionRepository) MarkAsChecked(ctx context.Context, solutionID, checkerID int64) (bool, error) {
	res, err := r.conn.ExecCtx(ctx, `
		UPDATE solutions SET state = ?, checker_id = ?
		WHERE id = ? AND state <> ?
	`, model.StateDone, checkerID, solutionID, model.StateDone)
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return affected == 1, nil
}

// AdoptResult copies the checker identity and final state from an identical
// solution during deduplication. The claim is conditional on the solution
// still being CREATED; if a checker claimed it in the meantime nothing
// changes and false is returned.
func (r *MySQLSolutionRepository) AdoptResult(ctx context.Context, solutionID int64, checkerID *int64, state model.SolutionState) (bool, error) {
	if !state.Valid() {
		return false, appErr.New(appErr.InvalidStateChange)
	}
	res, err := r.conn.ExecCtx(ctx, `
		UPDATE solutions SET state = ?, checker_id = ? WHERE id = ? AND state = ?
	`, state, checkerID, solutionID, model.StateCreated)
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return affected == 1, nil
}

// NextUnchecked returns the solution a reviewer should look at next:
// fresh work first (fewest open comments, then fewest test failures), oldest
// submission breaking the tie. exerciseID of 0 means any exercise. Returns
// nil when nothing awaits checking.
func (r *MySQLSolutionRepository) NextUnchecked(ctx context.Context, exerciseID int64) (*model.Solution, error) {
	query := `
		SELECT s.id, s.exercise_id, s.solver_id, s.checker_id, s.state, s.submission_timestamp, s.hashed
		FROM solutions s
		LEFT JOIN solution_files f ON f.solution_id = s.id
		LEFT JOIN comments c ON c.file_id = f.id
		LEFT JOIN solution_test_executions te ON te.solution_id = s.id
		WHERE s.state = ?`
	args := []interface{}{model.StateCreated}
	if exerciseID > 0 {
		query += " AND s.exercise_id = ?"
		args = append(args, exerciseID)
	}
	query += `
		GROUP BY s.id, s.exercise_id, s.solver_id, s.checker_id, s.state, s.submission_timestamp, s.hashed
		ORDER BY COUNT(DISTINCT c.id) ASC, COUNT(DISTINCT te.id) ASC, s.submission_timestamp ASC
		LIMIT 1`

	var solution model.Solution
	err := r.conn.QueryRowCtx(ctx, &solution, query, args...)
	switch {
	case err == nil:
		return &solution, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, nil
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

// FindDoneByHash returns a checked solution of the same exercise carrying the
// same content hash, or nil.
func (r *MySQLSolutionRepository) FindDoneByHash(ctx context.Context, exerciseID int64, hash string, excludeID int64) (*model.Solution, error) {
	var solution model.Solution
	err := r.conn.QueryRowCtx(ctx, &solution, `
		SELECT `+solutionColumns+` FROM solutions
		WHERE exercise_id = ? AND hashed = ? AND state = ? AND id <> ?
		LIMIT 1
	`, exerciseID, hash, model.StateDone, excludeID)
	switch {
	case err == nil:
		return &solution, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, nil
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

// FindCreatedByHash returns unchecked solutions of the same exercise carrying
// the same content hash.
func (r *MySQLSolutionRepository) FindCreatedByHash(ctx context.Context, exerciseID int64, hash string, excludeID int64) ([]*model.Solution, error) {
	var solutions []*model.Solution
	err := r.conn.QueryRowsCtx(ctx, &solutions, `
		SELECT `+solutionColumns+` FROM solutions
		WHERE exercise_id = ? AND hashed = ? AND state = ? AND id <> ?
	`, exerciseID, hash, model.StateCreated, excludeID)
	if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return solutions, nil
}

// ListFiles returns the solution's files ordered by path.
func (r *MySQLSolutionRepository) ListFiles(ctx context.Context, solutionID int64) ([]*model.SolutionFile, error) {
	var files []*model.SolutionFile
	err := r.conn.QueryRowsCtx(ctx, &files, `
		SELECT id, solution_id, path, code, file_hash
		FROM solution_files WHERE solution_id = ? ORDER BY path ASC
	`, solutionID)
	if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return files, nil
}

// GetFile returns one solution file by id.
func (r *MySQLSolutionRepository) GetFile(ctx context.Context, fileID int64) (*model.SolutionFile, error) {
	var file model.SolutionFile
	err := r.conn.QueryRowCtx(ctx, &file, `
		SELECT id, solution_id, path, code, file_hash
		FROM solution_files WHERE id = ? LIMIT 1
	`, fileID)
	switch {
	case err == nil:
		return &file, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, appErr.New(appErr.SolutionFileNotFound)
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

// Progress returns submitted/checked counts over the exercise's active
// solutions.
func (r *MySQLSolutionRepository) Progress(ctx context.Context, exerciseID int64) (*model.ExerciseProgress, error) {
	var progress model.ExerciseProgress
	err := r.conn.QueryRowCtx(ctx, &progress, `
		SELECT exercise_id,
			COUNT(id) AS submitted,
			SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS checked
		FROM solutions
		WHERE exercise_id = ? AND state IN (?, ?, ?)
		GROUP BY exercise_id
	`, model.StateDone, exerciseID, model.StateCreated, model.StateInChecking, model.StateDone)
	switch {
	case err == nil:
		return &progress, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return &model.ExerciseProgress{ExerciseID: exerciseID}, nil
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}
