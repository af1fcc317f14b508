package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gymaccess/internal/auth"
	"gymaccess/internal/cloudinary"
	"gymaccess/internal/gymapi"
	"gymaccess/internal/history"
	"gymaccess/internal/livecount"
	"gymaccess/internal/model"
	"gymaccess/internal/occupancy"
)

// GymAPI is the upstream REST surface the handlers call.
type GymAPI interface {
	Login(ctx context.Context, dni, password string) (gymapi.LoginResult, error)
	RegisterAccess(ctx context.Context, dni string) (gymapi.AccessResult, error)
	RegisterStudent(ctx context.Context, f gymapi.StudentForm) (json.RawMessage, error)
	RegisterStaff(ctx context.Context, f gymapi.StaffForm) (json.RawMessage, error)
	Careers(ctx context.Context) ([]model.Career, error)
	Positions(ctx context.Context) ([]model.Position, error)
	Users(ctx context.Context, page, limit int, category string) (gymapi.UsersPage, error)
	UpdateUser(ctx context.Context, id int64, u gymapi.UserUpdate) (json.RawMessage, error)
	DeleteUser(ctx context.Context, id int64) error
	GymEvenAttendance(ctx context.Context) ([]model.AttendanceRecord, error)
	WeeklyAttendance(ctx context.Context) (json.RawMessage, error)
	Logout(ctx context.Context) error
}

// Occupancy serves snapshots. Implemented by *occupancy.Monitor.
type Occupancy interface {
	Snapshot() occupancy.Snapshot
	Refresh(ctx context.Context) occupancy.Snapshot
}

// Live exposes the live-count connection. Implemented by *livecount.Manager.
type Live interface {
	State() livecount.State
	Latest() (livecount.Message, bool)
}

// History reads recorded samples. Implemented by *history.Repository.
type History interface {
	ListSamples(ctx context.Context, from, to time.Time, limit int) ([]history.Sample, error)
	Weekly(ctx context.Context, now time.Time) ([]history.Day, error)
}

// Photos uploads registration photos. Implemented by *cloudinary.Client.
type Photos interface {
	UploadFile(ctx context.Context, r io.Reader, filename string) (*cloudinary.UploadResult, error)
	UploadDataURL(ctx context.Context, data string) (*cloudinary.UploadResult, error)
}

// TokenConfig controls the operator tokens this service issues.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Deps wires a Handler. History and Photos may be nil when their backing
// service is not configured.
type Deps struct {
	Gym       GymAPI
	Occupancy Occupancy
	Live      Live
	History   History
	Photos    Photos
	Tokens    TokenConfig

	// Checks are reported by /healthz; any false makes it 503.
	Checks map[string]func(ctx context.Context) bool
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
}

// New creates a handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

// Register mounts all routes. loginLimit guards the login endpoint and
// accessLimit the access registration endpoint; either may be nil.
func (h *Handler) Register(r gin.IRouter, loginLimit, accessLimit gin.HandlerFunc) {
	if loginLimit == nil {
		loginLimit = passThrough
	}
	if accessLimit == nil {
		accessLimit = passThrough
	}

	r.GET("/healthz", h.Healthz)

	r.POST("/v1/login", loginLimit, h.Login)
	r.POST("/v1/refresh", loginLimit, h.RefreshToken)

	v1 := r.Group("/v1", auth.OperatorAuth(h.Tokens.SigningKey, h.Tokens.Issuer))
	{
		v1.GET("/occupancy", h.GetOccupancy)
		v1.GET("/attendance/today", h.TodayAttendance)
		v1.GET("/live/state", h.LiveState)

		v1.POST("/access", accessLimit, h.RegisterAccess)
		v1.POST("/students", h.RegisterStudent)
		v1.POST("/staff", h.RegisterStaff)
		v1.GET("/careers", h.ListCareers)
		v1.GET("/positions", h.ListPositions)

		v1.GET("/users", h.ListUsers)
		v1.PUT("/users/:id", h.UpdateUser)
		v1.DELETE("/users/:id", h.DeleteUser)
		v1.GET("/attendance/gym-even", h.GymEvenAttendance)
		v1.GET("/attendance/weekly", h.WeeklyAttendance)
		v1.POST("/logout", h.Logout)

		v1.GET("/history", h.ListHistory)
		v1.GET("/history/weekly", h.WeeklyHistory)
	}
}

func passThrough(c *gin.Context) { c.Next() }

// Healthz reports each configured check.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if h.Live != nil {
		body["live"] = h.Live.State().String()
	}
	c.JSON(status, body)
}

// upstreamError maps a gym API failure onto a response. Client errors are
// passed through; an upstream 401 means our own session was rejected and
// is reported as a gateway failure.
func upstreamError(c *gin.Context, err error) {
	var apiErr *gymapi.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusUnauthorized {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Message})
		return
	}
	log.Printf("gym api call failed: %v", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "gym api unavailable"})
}
