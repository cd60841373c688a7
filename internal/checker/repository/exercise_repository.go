package repository

import (
	"context"
	"errors"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"checkhub/internal/checker/model"
	appErr "checkhub/pkg/errors"
)

// ExerciseRepository defines exercise test lookup and unit-test execution
// records.
type ExerciseRepository interface {
	GetTest(ctx context.Context, exerciseID int64) (*model.ExerciseTest, error)
	GetSubject(ctx context.Context, exerciseID int64) (string, error)
	CreateTestExecution(ctx context.Context, solutionID int64, testName, userMessage, staffMessage string) (bool, error)
	ListTestExecutions(ctx context.Context, solutionID int64) ([]*model.TestExecution, error)
}

// MySQLExerciseRepository implements ExerciseRepository with MySQL.
type MySQLExerciseRepository struct {
	conn sqlx.SqlConn
}

// NewExerciseRepository creates an exercise repository.
func NewExerciseRepository(conn sqlx.SqlConn) *MySQLExerciseRepository {
	return &MySQLExerciseRepository{conn: conn}
}

// GetTest returns the active test definition for an exercise. A missing test
// is reported as ExerciseTestNotFound; callers treat it as nothing to check.
func (r *MySQLExerciseRepository) GetTest(ctx context.Context, exerciseID int64) (*model.ExerciseTest, error) {
	var test model.ExerciseTest
	err := r.conn.QueryRowCtx(ctx, &test, `
		SELECT id, exercise_id, code FROM exercise_tests
		WHERE exercise_id = ? LIMIT 1
	`, exerciseID)
	switch {
	case err == nil:
		return &test, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, appErr.New(appErr.ExerciseTestNotFound)
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

// GetSubject returns the exercise name used in notifications.
func (r *MySQLExerciseRepository) GetSubject(ctx context.Context, exerciseID int64) (string, error) {
	var subject string
	err := r.conn.QueryRowCtx(ctx, &subject, `
		SELECT subject FROM exercises WHERE id = ? LIMIT 1
	`, exerciseID)
	switch {
	case err == nil:
		return subject, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return "", appErr.New(appErr.ExerciseNotFound)
	default:
		return "", appErr.Wrap(err, appErr.DatabaseError)
	}
}

// CreateTestExecution records one unit-test failure for a solution.
// Get-or-create: the check task is redelivered at least once, so an already
// recorded failure of the same test with the same detail is not duplicated.
// Returns whether a new row was written.
func (r *MySQLExerciseRepository) CreateTestExecution(ctx context.Context, solutionID int64, testName, userMessage, staffMessage string) (bool, error) {
	if solutionID <= 0 {
		return false, appErr.ValidationError("solutionID", "required")
	}
	if testName == "" {
		return false, appErr.ValidationError("testName", "required")
	}

	var existing int64
	err := r.conn.QueryRowCtx(ctx, &existing, `
		SELECT id FROM solution_test_executions
		WHERE solution_id = ? AND test_name = ? AND staff_message = ?
		LIMIT 1
	`, solutionID, testName, staffMessage)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sqlx.ErrNotFound) {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}

	_, err = r.conn.ExecCtx(ctx, `
		INSERT INTO solution_test_executions (solution_id, test_name, user_message, staff_message)
		VALUES (?, ?, ?, ?)
	`, solutionID, testName, userMessage, staffMessage)
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return true, nil
}

// ListTestExecutions returns the recorded test failures of a solution.
func (r *MySQLExerciseRepository) ListTestExecutions(ctx context.Context, solutionID int64) ([]*model.TestExecution, error) {
	var executions []*model.TestExecution
	err := r.conn.QueryRowsCtx(ctx, &executions, `
		SELECT id, solution_id, test_name, user_message, staff_message
		FROM solution_test_executions WHERE solution_id = ?
	`, solutionID)
	if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return executions, nil
}
