package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gymaccess/internal/livecount"
	"gymaccess/internal/occupancy"
)

// snapshot returns the current snapshot, refreshing first when the client
// asks for it with ?refresh=true. The refresh outlives a client that hangs
// up so its result is still stored.
func (h *Handler) snapshot(c *gin.Context) occupancy.Snapshot {
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		return h.Occupancy.Refresh(context.WithoutCancel(c.Request.Context()))
	}
	return h.Occupancy.Snapshot()
}

// GetOccupancy returns the resolved occupancy and the counts behind it.
func (h *Handler) GetOccupancy(c *gin.Context) {
	s := h.snapshot(c)
	c.JSON(http.StatusOK, gin.H{
		"id":               s.ID,
		"occupancy":        s.Occupancy,
		"source":           s.Source,
		"live_state":       s.LiveState,
		"total_registered": s.TotalRegistered,
		"present_today":    s.PresentToday,
		"registered":       s.Registered,
		"attendance":       s.Attendance,
		"directory":        s.Directory,
		"refreshed_at":     s.RefreshedAt,
	})
}

// TodayAttendance returns the merged present-today list.
func (h *Handler) TodayAttendance(c *gin.Context) {
	s := h.snapshot(c)
	c.JSON(http.StatusOK, gin.H{
		"present":       s.Present,
		"present_today": s.PresentToday,
		"attendance":    s.Attendance,
		"directory":     s.Directory,
		"refreshed_at":  s.RefreshedAt,
	})
}

// LiveState reports the device connection and its latest frame.
func (h *Handler) LiveState(c *gin.Context) {
	body := gin.H{"state": h.Live.State().String(), "latest": nil, "kind": nil}
	if msg, ok := h.Live.Latest(); ok {
		body["latest"] = string(msg.Raw())
		switch m := msg.(type) {
		case livecount.CountMessage:
			body["kind"] = "count"
			body["count"] = m.Count
		case livecount.ScanEvent:
			body["kind"] = "scan"
			body["dni"] = m.NationalID
		default:
			body["kind"] = "unknown"
		}
	}
	c.JSON(http.StatusOK, body)
}

// ListHistory returns recorded samples, newest first.
// Query: from, to (RFC 3339), limit.
func (h *Handler) ListHistory(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history not configured"})
		return
	}
	var from, to time.Time
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + p.name + ": expected RFC 3339"})
			return
		}
		*p.dst = t
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	samples, err := h.History.ListSamples(c.Request.Context(), from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

// WeeklyHistory returns per-day peaks for the last seven days.
func (h *Handler) WeeklyHistory(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history not configured"})
		return
	}
	days, err := h.History.Weekly(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}
