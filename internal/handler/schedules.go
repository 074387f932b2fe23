package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devparmar15199/qr-student-app-backend/internal/audit"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
	"github.com/devparmar15199/qr-student-app-backend/internal/schedule"
)

// scheduleView renders a block with its times as "HH:mm" strings.
type scheduleView struct {
	schedule.Schedule
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func scheduleJSON(sc schedule.Schedule) scheduleView {
	return scheduleView{Schedule: sc, StartTime: sc.StartTime(), EndTime: sc.EndTime()}
}

func scheduleListJSON(scs []schedule.Schedule) []scheduleView {
	out := make([]scheduleView, len(scs))
	for i, sc := range scs {
		out[i] = scheduleJSON(sc)
	}
	return out
}

type createScheduleRequest struct {
	ClassID      string   `json:"classId" binding:"required"`
	TeacherID    string   `json:"teacherId"`
	DayOfWeek    int      `json:"dayOfWeek" binding:"required"`
	StartTime    string   `json:"startTime" binding:"required"`
	EndTime      string   `json:"endTime" binding:"required"`
	RoomNumber   string   `json:"roomNumber"`
	SessionType  string   `json:"sessionType"`
	Semester     string   `json:"semester"`
	AcademicYear string   `json:"academicYear"`
	Latitude     *float64 `json:"latitude" binding:"required"`
	Longitude    *float64 `json:"longitude" binding:"required"`
}

func (h *Handler) createSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	startMin, err := schedule.ParseMinutes(req.StartTime)
	if err != nil {
		writeError(c, err)
		return
	}
	endMin, err := schedule.ParseMinutes(req.EndTime)
	if err != nil {
		writeError(c, err)
		return
	}

	act := actor(c)
	teacherID := req.TeacherID
	if teacherID == "" {
		teacherID = act.ID
	}

	sc, err := h.Schedules.Create(c.Request.Context(), act, schedule.Schedule{
		ClassID:      req.ClassID,
		TeacherID:    teacherID,
		Day:          schedule.Day(req.DayOfWeek),
		StartMin:     startMin,
		EndMin:       endMin,
		RoomNumber:   req.RoomNumber,
		SessionType:  req.SessionType,
		Semester:     req.Semester,
		AcademicYear: req.AcademicYear,
		Location:     geo.Point{Lat: *req.Latitude, Lon: *req.Longitude},
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), act.ID, "schedule.create",
		map[string]any{"scheduleId": sc.ID, "classId": sc.ClassID}, audit.StatusOK)
	c.JSON(http.StatusCreated, scheduleJSON(sc))
}

type updateScheduleRequest struct {
	DayOfWeek    *int     `json:"dayOfWeek"`
	StartTime    *string  `json:"startTime"`
	EndTime      *string  `json:"endTime"`
	RoomNumber   *string  `json:"roomNumber"`
	SessionType  *string  `json:"sessionType"`
	Semester     *string  `json:"semester"`
	AcademicYear *string  `json:"academicYear"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

func (h *Handler) updateSchedule(c *gin.Context) {
	var req updateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var upd schedule.Update
	if req.DayOfWeek != nil {
		d := schedule.Day(*req.DayOfWeek)
		upd.Day = &d
	}
	if req.StartTime != nil {
		min, err := schedule.ParseMinutes(*req.StartTime)
		if err != nil {
			writeError(c, err)
			return
		}
		upd.StartMin = &min
	}
	if req.EndTime != nil {
		min, err := schedule.ParseMinutes(*req.EndTime)
		if err != nil {
			writeError(c, err)
			return
		}
		upd.EndMin = &min
	}
	upd.RoomNumber = req.RoomNumber
	upd.SessionType = req.SessionType
	upd.Semester = req.Semester
	upd.AcademicYear = req.AcademicYear
	if req.Latitude != nil && req.Longitude != nil {
		upd.Location = &geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
	}

	act := actor(c)
	sc, err := h.Schedules.Patch(c.Request.Context(), act, c.Param("id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), act.ID, "schedule.update",
		map[string]any{"scheduleId": sc.ID}, audit.StatusOK)
	c.JSON(http.StatusOK, scheduleJSON(sc))
}

func (h *Handler) deleteSchedule(c *gin.Context) {
	act := actor(c)
	id := c.Param("id")
	if err := h.Schedules.Delete(c.Request.Context(), act, id); err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), act.ID, "schedule.delete",
		map[string]any{"scheduleId": id}, audit.StatusOK)
	c.Status(http.StatusNoContent)
}

type mergeRequest struct {
	ScheduleIDs []string `json:"scheduleIds" binding:"required,min=2"`
}

func (h *Handler) mergeSchedules(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	act := actor(c)
	merged, err := h.Schedules.Merge(c.Request.Context(), act, req.ScheduleIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), act.ID, "schedule.merge",
		map[string]any{"merged": req.ScheduleIDs, "into": merged.ID}, audit.StatusOK)
	c.JSON(http.StatusOK, scheduleJSON(merged))
}

type splitRequest struct {
	SplitPoints []string `json:"splitPoints" binding:"required,min=1"`
}

func (h *Handler) splitSchedule(c *gin.Context) {
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points := make([]int, len(req.SplitPoints))
	for i, p := range req.SplitPoints {
		min, err := schedule.ParseMinutes(p)
		if err != nil {
			writeError(c, err)
			return
		}
		points[i] = min
	}

	act := actor(c)
	id := c.Param("id")
	parts, err := h.Schedules.Split(c.Request.Context(), act, id, points)
	if err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), act.ID, "schedule.split",
		map[string]any{"scheduleId": id, "parts": len(parts)}, audit.StatusOK)
	c.JSON(http.StatusOK, gin.H{"schedules": scheduleListJSON(parts)})
}

// checkScheduleConflict is a dry-run probe: it reports what Create
// would collide with, without writing anything.
func (h *Handler) checkScheduleConflict(c *gin.Context) {
	startMin, err := schedule.ParseMinutes(c.Query("startTime"))
	if err != nil {
		writeError(c, err)
		return
	}
	endMin, err := schedule.ParseMinutes(c.Query("endTime"))
	if err != nil {
		writeError(c, err)
		return
	}
	var day int
	if _, err := fmt.Sscanf(c.Query("dayOfWeek"), "%d", &day); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dayOfWeek must be 1-6"})
		return
	}

	act := actor(c)
	teacherID := act.ID
	if act.IsAdmin() && c.Query("teacherId") != "" {
		teacherID = c.Query("teacherId")
	}

	colliding, err := h.Schedules.CheckConflict(c.Request.Context(), teacherID, schedule.Day(day), startMin, endMin)
	if err != nil {
		writeError(c, err)
		return
	}
	if colliding == nil {
		c.JSON(http.StatusOK, gin.H{"conflict": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflict": true, "with": scheduleJSON(*colliding)})
}

func (h *Handler) listSchedules(c *gin.Context) {
	act := actor(c)
	teacherID := act.ID
	if act.IsAdmin() && c.Query("teacherId") != "" {
		teacherID = c.Query("teacherId")
	}

	scs, err := h.Schedules.ListActive(c.Request.Context(), teacherID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": scheduleListJSON(scs)})
}
