package control

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/rovas-connector/internal/session"
	"github.com/goodtune/rovas-connector/internal/submit"
	"github.com/goodtune/rovas-connector/internal/timetrack"
)

const defaultSubmissionListLimit = 20

type activityRequest struct {
	Timestamp *int64 `json:"timestamp"` // unix seconds
}

type referenceRequest struct {
	ID        int64 `json:"id" binding:"required"`
	CreatedAt int64 `json:"created_at"` // unix seconds
}

type submitRequest struct {
	Reference *referenceRequest `json:"reference"`
}

type resetRequest struct {
	Minutes *int64 `json:"minutes" binding:"required"`
}

type previousRequest struct {
	Add *bool `json:"add" binding:"required"`
}

type errorResponse struct {
	Code    *int64 `json:"code,omitempty"`
	Message string `json:"message"`
	Defect  bool   `json:"report_as_bug,omitempty"`
}

type resultResponse struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	Minutes       int64           `json:"minutes"`
	Completed     bool            `json:"completed"`
	WorkRecordID  int64           `json:"work_record_id,omitempty"`
	UsageRecordID int64           `json:"usage_record_id,omitempty"`
	WorkRecordURL string          `json:"work_record_url,omitempty"`
	ReferenceID   int64           `json:"reference_id,omitempty"`
	Retries       int             `json:"retries"`
	Errors        []errorResponse `json:"errors,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

func newResultResponse(res submit.Result) resultResponse {
	resp := resultResponse{
		ID:            res.ID,
		State:         res.State.String(),
		Minutes:       res.Minutes,
		Completed:     res.Completed,
		WorkRecordID:  res.WorkRecordID,
		UsageRecordID: res.UsageRecordID,
		WorkRecordURL: res.WorkRecordURL,
		ReferenceID:   res.ReferenceID,
		Retries:       res.RetryDepth,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}
	for _, e := range res.Errors {
		resp.Errors = append(resp.Errors, errorResponse{Code: e.Code, Message: e.Message, Defect: e.ReportAsDefect})
	}
	return resp
}

func (s *Server) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleActivity(ctx *gin.Context) {
	var req activityRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			badRequest(ctx, err)
			return
		}
	}

	acc := s.session.Accumulator()
	if req.Timestamp != nil {
		acc.TrackChangeAt(time.Unix(*req.Timestamp, 0))
	} else {
		acc.TrackChangeNow()
	}

	total := acc.Total()
	ctx.JSON(http.StatusOK, gin.H{
		"total_seconds": total,
		"minutes":       timetrack.SecondsToMinutes(total),
	})
}

func (s *Server) handleStatus(ctx *gin.Context) {
	st := s.session.Status()

	resp := gin.H{
		"committed_seconds":  st.Tracking.CommittedSeconds,
		"total_seconds":      st.Tracking.TotalSeconds,
		"minutes":            st.Minutes,
		"interval_open":      st.Tracking.IntervalOpen,
		"tolerance_seconds":  int64(st.Tracking.Tolerance / time.Second),
		"previous_minutes":   st.PreviousMinutes,
		"unpaid_editor":      st.UnpaidEditor,
		"submission_running": st.SubmissionRunning,
	}
	if st.Tracking.IntervalOpen {
		resp["interval_start"] = st.Tracking.IntervalStart.Unix()
		resp["interval_end"] = st.Tracking.IntervalEnd.Unix()
	}
	if st.SubmissionID != "" {
		resp["submission_id"] = st.SubmissionID
	}
	if st.LastResult != nil {
		resp["last_result"] = newResultResponse(*st.LastResult)
	}
	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) handleSubmit(ctx *gin.Context) {
	var req submitRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			badRequest(ctx, err)
			return
		}
	}

	var ref *submit.ExternalReference
	if req.Reference != nil {
		if id, ok := s.reported.Get(req.Reference.ID); ok {
			ctx.JSON(http.StatusConflict, gin.H{
				"error":         "already_reported",
				"message":       "This reference has already been reported",
				"submission_id": id,
			})
			return
		}
		ref = &submit.ExternalReference{ID: req.Reference.ID}
		if req.Reference.CreatedAt > 0 {
			ref.CreatedAt = time.Unix(req.Reference.CreatedAt, 0)
		}
	}

	sub, err := s.session.Submit(s.baseCtx, ref)
	switch {
	case errors.Is(err, session.ErrPaidEditor):
		ctx.JSON(http.StatusOK, gin.H{
			"reported": false,
			"message":  "Reporting is disabled for paid editors; tracked time was reset",
		})
		return
	case errors.Is(err, session.ErrNothingToReport):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "nothing_to_report",
			"message": "Less than one minute has been tracked",
		})
		return
	case errors.Is(err, session.ErrSubmissionInProgress):
		ctx.JSON(http.StatusConflict, gin.H{
			"error":   "submission_in_progress",
			"message": "A submission is already running",
		})
		return
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"error":   "server_error",
			"message": err.Error(),
		})
		return
	}

	if ref != nil {
		go s.rememberReference(ref.ID, sub)
	}

	if ctx.Query("wait") == "false" {
		ctx.JSON(http.StatusAccepted, gin.H{"submission_id": sub.ID()})
		return
	}

	select {
	case <-sub.Done():
	case <-ctx.Request.Context().Done():
		// The submission keeps running; its result is available from /api/status.
		return
	}

	res := sub.Result()
	if ref != nil && res.State == submit.StateDone {
		s.reported.Add(ref.ID, res.ID)
	}
	ctx.JSON(http.StatusOK, newResultResponse(res))
}

// rememberReference marks a reference as reported once its submission has passed the
// work report step, whether or not anyone waited for the response.
func (s *Server) rememberReference(id int64, sub *submit.Submission) {
	if res := sub.Result(); res.State == submit.StateDone {
		s.reported.Add(id, res.ID)
	}
}

func (s *Server) handleReset(ctx *gin.Context) {
	var req resetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	s.session.Reset(*req.Minutes)
	ctx.JSON(http.StatusOK, gin.H{"total_seconds": s.session.Accumulator().Total()})
}

func (s *Server) handleGetPrevious(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"minutes": s.session.PreviousMinutes()})
}

func (s *Server) handlePrevious(ctx *gin.Context) {
	var req previousRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	s.session.RestorePrevious(*req.Add)
	ctx.JSON(http.StatusOK, gin.H{"total_seconds": s.session.Accumulator().Total()})
}

func (s *Server) handleSubmissions(ctx *gin.Context) {
	if s.history == nil {
		ctx.JSON(http.StatusOK, gin.H{"submissions": []any{}})
		return
	}

	limit := defaultSubmissionListLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	records, err := s.history.List(ctx.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list submissions")
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"error":   "server_error",
			"message": "Failed to list submissions",
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"submissions": records})
}

func badRequest(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": err.Error(),
	})
}
