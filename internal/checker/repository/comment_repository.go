package repository

import (
	"context"
	"errors"
	"html"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"checkhub/internal/checker/model"
	appErr "checkhub/pkg/errors"
)

// CommentRepository defines comment persistence. Comment bodies are
// deduplicated through the comment_texts table: identical texts share a row.
type CommentRepository interface {
	CreateAuto(ctx context.Context, commenterID, fileID int64, lineNumber int, text string, flakeKey string) error
	ListBySolution(ctx context.Context, solutionID int64) ([]*model.CommentDetail, error)
	ListByFile(ctx context.Context, fileID int64) ([]*model.CommentDetail, error)
	ListNonAutoBySolution(ctx context.Context, solutionID int64) ([]*model.CommentDetail, error)
}

// MySQLCommentRepository implements CommentRepository with MySQL.
type MySQLCommentRepository struct {
	conn sqlx.SqlConn
}

// NewCommentRepository creates a comment repository.
func NewCommentRepository(conn sqlx.SqlConn) *MySQLCommentRepository {
	return &MySQLCommentRepository{conn: conn}
}

// CreateAuto attaches an automated comment to a solution file. The text is
// escaped and get-or-created in comment_texts; re-running the same check
// does not produce duplicate comment rows.
func (r *MySQLCommentRepository) CreateAuto(ctx context.Context, commenterID, fileID int64, lineNumber int, text string, flakeKey string) error {
	if commenterID <= 0 {
		return appErr.ValidationError("commenterID", "required")
	}
	if fileID <= 0 {
		return appErr.ValidationError("fileID", "required")
	}
	if lineNumber < 1 {
		lineNumber = 1
	}
	if text == "" {
		return appErr.ValidationError("text", "required")
	}

	textID, err := r.getOrCreateText(ctx, html.EscapeString(text), flakeKey)
	if err != nil {
		return err
	}

	var existing int64
	err = r.conn.QueryRowCtx(ctx, &existing, `
		SELECT id FROM comments
		WHERE commenter_id = ? AND file_id = ? AND comment_id = ? AND line_number = ? AND is_auto = 1
		LIMIT 1
	`, commenterID, fileID, textID, lineNumber)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sqlx.ErrNotFound) {
		return appErr.Wrap(err, appErr.DatabaseError)
	}

	_, err = r.conn.ExecCtx(ctx, `
		INSERT INTO comments (commenter_id, file_id, comment_id, line_number, is_auto)
		VALUES (?, ?, ?, ?, 1)
	`, commenterID, fileID, textID, lineNumber)
	if err != nil {
		return appErr.Wrap(err, appErr.CommentCreateFailed)
	}
	return nil
}

func (r *MySQLCommentRepository) getOrCreateText(ctx context.Context, text, flakeKey string) (int64, error) {
	var id int64
	err := r.conn.QueryRowCtx(ctx, &id, `
		SELECT id FROM comment_texts WHERE text = ? LIMIT 1
	`, text)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sqlx.ErrNotFound) {
		return 0, appErr.Wrap(err, appErr.DatabaseError)
	}

	var key interface{}
	if flakeKey != "" {
		key = flakeKey
	}
	res, err := r.conn.ExecCtx(ctx, `
		INSERT INTO comment_texts (text, flake8_key) VALUES (?, ?)
	`, text, key)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.DatabaseError)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, appErr.Wrap(err, appErr.DatabaseError)
	}
	return id, nil
}

const commentDetailQuery = `
	SELECT c.id, c.file_id, c.commenter_id, c.line_number, c.is_auto, t.text
	FROM comments c
	JOIN comment_texts t ON t.id = c.comment_id
	JOIN solution_files f ON f.id = c.file_id
`

// ListBySolution returns all comments attached to any of the solution's files.
func (r *MySQLCommentRepository) ListBySolution(ctx context.Context, solutionID int64) ([]*model.CommentDetail, error) {
	var comments []*model.CommentDetail
	err := r.conn.QueryRowsCtx(ctx, &comments, commentDetailQuery+`
		WHERE f.solution_id = ? ORDER BY c.timestamp ASC
	`, solutionID)
	if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return comments, nil
}

// ListByFile returns the comments of one file ordered by creation time.
func (r *MySQLCommentRepository) ListByFile(ctx context.Context, fileID int64) ([]*model.CommentDetail, error) {
	var comments []*model.CommentDetail
	err := r.conn.QueryRowsCtx(ctx, &comments, commentDetailQuery+`
		WHERE c.file_id = ? ORDER BY c.timestamp ASC
	`, fileID)
	if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return comments, nil
}

// ListNonAutoBySolution returns human review comments only; these are the
// ones cloned onto identical solutions during deduplication.
func (r *MySQLCommentRepository) ListNonAutoBySolution(ctx context.Context, solutionID int64) ([]*model.CommentDetail, error) {
	var comments []*model.CommentDetail
	err := r.conn.QueryRowsCtx(ctx, &comments, commentDetailQuery+`
		WHERE f.solution_id = ? AND c.is_auto = 0 ORDER BY c.timestamp ASC
	`, solutionID)
	if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return comments, nil
}
