// Package controller exposes the checking pipeline to the web tier.
package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"checkhub/internal/checker/model"
	"checkhub/internal/checker/repository"
	"checkhub/internal/checker/service"
	"checkhub/pkg/utils/response"
)

// SolutionController handles solution lifecycle HTTP endpoints.
type SolutionController struct {
	solutionService *service.SolutionService
	comments        repository.CommentRepository
}

// NewSolutionController creates a new SolutionController.
func NewSolutionController(solutionService *service.SolutionService, comments repository.CommentRepository) *SolutionController {
	return &SolutionController{solutionService: solutionService, comments: comments}
}

// RegisterRoutes mounts the controller on a router group.
func (h *SolutionController) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/solutions", h.Submit)
	r.GET("/solutions/next", h.NextUnchecked)
	r.POST("/solutions/:id/start-checking", h.StartChecking)
	r.POST("/solutions/:id/checked", h.MarkAsChecked)
	r.GET("/solutions/:id/comments", h.SolutionComments)
	r.GET("/files/:id/comments", h.FileComments)
	r.GET("/exercises/:id/progress", h.Progress)
}

// Submit accepts a new solution from the upload collaborator.
func (h *SolutionController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	files := make([]model.NewFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = model.NewFile{Path: f.Path, Code: f.Code}
	}
	solution, err := h.solutionService.Submit(c.Request.Context(), req.ExerciseID, req.SolverID, files)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newSolutionResponse(solution))
}

// NextUnchecked returns the solution a reviewer should take next.
func (h *SolutionController) NextUnchecked(c *gin.Context) {
	var exerciseID int64
	if raw := c.Query("exercise_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			response.BadRequest(c, "Invalid exercise id")
			return
		}
		exerciseID = parsed
	}

	solution, err := h.solutionService.GetNextUnchecked(c.Request.Context(), exerciseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if solution == nil {
		response.NotFound(c, "No solutions await checking")
		return
	}
	response.Success(c, newSolutionResponse(solution))
}

// StartChecking claims a solution for review.
func (h *SolutionController) StartChecking(c *gin.Context) {
	solutionID, ok := pathID(c)
	if !ok {
		return
	}
	started, err := h.solutionService.StartChecking(c.Request.Context(), solutionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StateChangeResponse{SolutionID: solutionID, Changed: started})
}

// MarkAsChecked finishes a review.
func (h *SolutionController) MarkAsChecked(c *gin.Context) {
	solutionID, ok := pathID(c)
	if !ok {
		return
	}
	var req MarkAsCheckedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	changed, err := h.solutionService.MarkAsChecked(c.Request.Context(), solutionID, req.CheckerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StateChangeResponse{SolutionID: solutionID, Changed: changed})
}

// SolutionComments lists every comment on a solution's files.
func (h *SolutionController) SolutionComments(c *gin.Context) {
	solutionID, ok := pathID(c)
	if !ok {
		return
	}
	comments, err := h.comments.ListBySolution(c.Request.Context(), solutionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newCommentsResponse(comments))
}

// FileComments lists the comments of one solution file.
func (h *SolutionController) FileComments(c *gin.Context) {
	fileID, ok := pathID(c)
	if !ok {
		return
	}
	comments, err := h.comments.ListByFile(c.Request.Context(), fileID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newCommentsResponse(comments))
}

// Progress returns submitted/checked counts for an exercise.
func (h *SolutionController) Progress(c *gin.Context) {
	exerciseID, ok := pathID(c)
	if !ok {
		return
	}
	progress, err := h.solutionService.Progress(c.Request.Context(), exerciseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ProgressResponse{
		ExerciseID: progress.ExerciseID,
		Submitted:  progress.Submitted,
		Checked:    progress.Checked,
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid id")
		return 0, false
	}
	return id, true
}

// SubmitRequest defines the submission payload.
type SubmitRequest struct {
	ExerciseID int64         `json:"exercise_id" binding:"required"`
	SolverID   int64         `json:"solver_id" binding:"required"`
	Files      []FilePayload `json:"files" binding:"required,min=1"`
}

// FilePayload is one submitted file.
type FilePayload struct {
	Path string `json:"path" binding:"required"`
	Code string `json:"code"`
}

// MarkAsCheckedRequest identifies the reviewer finishing a check.
type MarkAsCheckedRequest struct {
	CheckerID int64 `json:"checker_id" binding:"required"`
}

// SolutionResponse is the wire form of a solution.
type SolutionResponse struct {
	ID                  int64  `json:"id"`
	ExerciseID          int64  `json:"exercise_id"`
	SolverID            int64  `json:"solver_id"`
	CheckerID           *int64 `json:"checker_id,omitempty"`
	State               string `json:"state"`
	SubmissionTimestamp string `json:"submission_timestamp"`
}

func newSolutionResponse(s *model.Solution) SolutionResponse {
	return SolutionResponse{
		ID:                  s.ID,
		ExerciseID:          s.ExerciseID,
		SolverID:            s.SolverID,
		CheckerID:           s.CheckerID,
		State:               string(s.State),
		SubmissionTimestamp: s.SubmissionTimestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// StateChangeResponse reports the outcome of a state transition request.
type StateChangeResponse struct {
	SolutionID int64 `json:"solution_id"`
	Changed    bool  `json:"changed"`
}

// CommentResponse is the wire form of one comment.
type CommentResponse struct {
	ID          int64  `json:"id"`
	FileID      int64  `json:"file_id"`
	CommenterID int64  `json:"commenter_id"`
	LineNumber  int    `json:"line_number"`
	IsAuto      bool   `json:"is_auto"`
	Text        string `json:"text"`
}

func newCommentsResponse(comments []*model.CommentDetail) []CommentResponse {
	out := make([]CommentResponse, len(comments))
	for i, comment := range comments {
		out[i] = CommentResponse{
			ID:          comment.ID,
			FileID:      comment.FileID,
			CommenterID: comment.CommenterID,
			LineNumber:  comment.LineNumber,
			IsAuto:      comment.IsAuto,
			Text:        comment.Text,
		}
	}
	return out
}

// ProgressResponse summarizes exercise checking progress.
type ProgressResponse struct {
	ExerciseID int64 `json:"exercise_id"`
	Submitted  int64 `json:"submitted"`
	Checked    int64 `json:"checked"`
}
