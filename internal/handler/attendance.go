package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/attendance"
	"github.com/devparmar15199/qr-student-app-backend/internal/audit"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
	"github.com/devparmar15199/qr-student-app-backend/internal/queue"
)

// submissionRequest is one scan. Token is the raw QR payload; clients
// that already resolved it may send sessionId instead. Coordinates are
// pointers so a legitimate 0 binds; range checking is
// geo.Point.Validate's job. AttendedAt only matters for sync items.
type submissionRequest struct {
	Token          string    `json:"token"`
	SessionID      string    `json:"sessionId"`
	ClassID        string    `json:"classId" binding:"required"`
	ScheduleID     string    `json:"scheduleId"`
	Latitude       *float64  `json:"latitude" binding:"required"`
	Longitude      *float64  `json:"longitude" binding:"required"`
	FaceImageURL   string    `json:"faceImageUrl"`
	LivenessPassed *bool     `json:"livenessPassed"`
	SyncVersion    int64     `json:"syncVersion"`
	AttendedAt     time.Time `json:"attendedAt"`
}

func (h *Handler) toSubmission(req submissionRequest) (attendance.Submission, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return attendance.Submission{}, apperr.Validation("latitude and longitude are required")
	}
	sessionID := req.SessionID
	if req.Token != "" {
		resolved, err := h.Sessions.Resolve(req.Token)
		if err != nil {
			return attendance.Submission{}, err
		}
		sessionID = resolved
	}
	return attendance.Submission{
		SessionID:      sessionID,
		ClassID:        req.ClassID,
		ScheduleID:     req.ScheduleID,
		Coordinates:    geo.Point{Lat: *req.Latitude, Lon: *req.Longitude},
		LivenessPassed: req.LivenessPassed,
		FaceImageURL:   req.FaceImageURL,
		SyncVersion:    req.SyncVersion,
		AttendedAt:     req.AttendedAt,
	}, nil
}

// faceVerifyJob is the queue payload the worker consumes.
type faceVerifyJob struct {
	RecordID  string `json:"recordId"`
	StudentID string `json:"studentId"`
	ImageURL  string `json:"imageUrl"`
}

func (h *Handler) enqueueFaceVerify(c *gin.Context, rec attendance.Record) {
	if rec.FaceImageURL == "" {
		return
	}
	msg, err := queue.NewMessage(queue.TypeFaceVerify, faceVerifyJob{
		RecordID:  rec.ID,
		StudentID: rec.StudentID,
		ImageURL:  rec.FaceImageURL,
	})
	if err == nil {
		err = h.Queue.Publish(c.Request.Context(), msg)
	}
	if err != nil {
		log.Printf("face verify enqueue failed for record %s: %v", rec.ID, err)
	}
}

func (h *Handler) submitAttendance(c *gin.Context) {
	var req submissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.toSubmission(req)
	if err != nil {
		writeError(c, err)
		return
	}

	act := actor(c)
	rec, err := h.Attendance.Submit(c.Request.Context(), act.ID, sub)
	if err != nil {
		writeError(c, err)
		return
	}

	h.enqueueFaceVerify(c, rec)
	h.Audit.Record(c.Request.Context(), act.ID, "attendance.submit",
		map[string]any{"recordId": rec.ID, "sessionId": rec.SessionID, "status": rec.Status}, audit.StatusOK)
	c.JSON(http.StatusCreated, rec)
}

type syncRequest struct {
	Items []submissionRequest `json:"items" binding:"required,min=1"`
}

// buildSyncBatch converts the batch, preserving item order. An item
// whose token cannot be resolved fails in place with the resolution
// error; the rest of the batch still reaches the service. positions
// maps service results back onto their original slots.
func (h *Handler) buildSyncBatch(items []submissionRequest) (results []attendance.SyncResult, subs []attendance.Submission, positions []int) {
	results = make([]attendance.SyncResult, len(items))
	subs = make([]attendance.Submission, 0, len(items))
	positions = make([]int, 0, len(items))
	for i, item := range items {
		sub, err := h.toSubmission(item)
		if err != nil {
			results[i] = attendance.SyncResult{
				SessionID: item.SessionID,
				Outcome:   attendance.SyncFailed,
				Error:     err.Error(),
			}
			continue
		}
		subs = append(subs, sub)
		positions = append(positions, i)
	}
	return results, subs, positions
}

// syncAttendance reconciles an offline batch. Items succeed or fail
// independently; the response carries one result per item, in order.
func (h *Handler) syncAttendance(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	act := actor(c)
	results, subs, positions := h.buildSyncBatch(req.Items)

	for j, res := range h.Attendance.Sync(c.Request.Context(), act.ID, subs) {
		results[positions[j]] = res
		if res.Outcome == attendance.SyncSuccess && res.Record != nil {
			h.enqueueFaceVerify(c, *res.Record)
		}
	}

	h.Audit.Record(c.Request.Context(), act.ID, "attendance.sync",
		map[string]any{"items": len(results)}, audit.StatusOK)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type manualRequest struct {
	StudentID  string    `json:"studentId" binding:"required"`
	ClassID    string    `json:"classId" binding:"required"`
	ScheduleID string    `json:"scheduleId" binding:"required"`
	Status     string    `json:"status" binding:"required"`
	AttendedAt time.Time `json:"attendedAt"`
}

func (h *Handler) manualAttendance(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	act := actor(c)
	rec, err := h.Attendance.ManualEntry(c.Request.Context(), act, attendance.ManualInput{
		StudentID:  req.StudentID,
		ClassID:    req.ClassID,
		ScheduleID: req.ScheduleID,
		Status:     attendance.Status(req.Status),
		AttendedAt: req.AttendedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), act.ID, "attendance.manual",
		map[string]any{"recordId": rec.ID, "studentId": rec.StudentID}, audit.StatusOK)
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) listAttendance(c *gin.Context) {
	classID := c.Query("classId")
	if classID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "classId query parameter required"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.Attendance.ListByClass(c.Request.Context(), actor(c), classID, c.Query("sessionId"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
