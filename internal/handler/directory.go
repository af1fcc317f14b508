package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gymaccess/internal/gymapi"
	"gymaccess/internal/model"
)

const maxUsersPageSize = 500

// listable categories; the gym API files administrative staff separately
// from other staff when filtering.
var userCategories = map[string]bool{
	string(model.CategoryStudent): true,
	string(model.CategoryStaff):   true,
	"administrativo":              true,
}

// ListUsers returns one page of registered users.
// Query: page (from 1), limit (up to 500), tipo.
func (h *Handler) ListUsers(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxUsersPageSize {
		limit = maxUsersPageSize
	}
	category := c.Query("tipo")
	if category != "" && !userCategories[category] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tipo " + strconv.Quote(category)})
		return
	}

	res, err := h.Gym.Users(c.Request.Context(), page, limit, category)
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// UpdateUser changes the fields present in the body. A "photo_data" image
// is uploaded first and replaces foto_url.
func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req struct {
		gymapi.UserUpdate
		PhotoData string `json:"photo_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PhotoData != "" {
		url, ok := h.photo(c, personForm{PhotoData: req.PhotoData})
		if !ok {
			return
		}
		req.PhotoURL = &url
	}
	if req.UserUpdate.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no field to update"})
		return
	}

	out, err := h.Gym.UpdateUser(c.Request.Context(), id, req.UserUpdate)
	if err != nil {
		if errors.Is(err, gymapi.ErrEmptyUpdate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no field to update"})
			return
		}
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "data": out})
}

// DeleteUser removes a registered user.
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	if err := h.Gym.DeleteUser(c.Request.Context(), id); err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// GymEvenAttendance returns the accesses recorded through the entry/exit
// endpoint today.
func (h *Handler) GymEvenAttendance(c *gin.Context) {
	records, err := h.Gym.GymEvenAttendance(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

// WeeklyAttendance passes through the gym API's weekly summary.
func (h *Handler) WeeklyAttendance(c *gin.Context) {
	out, err := h.Gym.WeeklyAttendance(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

// Logout ends the upstream gym API session. Operator tokens are stateless
// and simply expire, so this always succeeds.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.Gym.Logout(c.Request.Context()); err != nil {
		log.Printf("warning: upstream logout failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}
