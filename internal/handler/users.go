package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gymaccess/internal/gymapi"
	"gymaccess/internal/model"
)

var errPhotosDisabled = errors.New("photo storage not configured")

// RegisterAccess records an entry or exit swipe for a national ID.
func (h *Handler) RegisterAccess(c *gin.Context) {
	var req struct {
		DNI string `json:"dni"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dni := strings.TrimSpace(req.DNI)
	if dni == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dni required"})
		return
	}

	res, err := h.Gym.RegisterAccess(c.Request.Context(), dni)
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dni": dni, "message": res.Message, "data": res.Data})
}

type personForm struct {
	FirstName  string `form:"nombre" json:"nombre" binding:"required"`
	Surname1   string `form:"apellido1" json:"apellido1" binding:"required"`
	Surname2   string `form:"apellido2" json:"apellido2"`
	NationalID string `form:"dni" json:"dni" binding:"required"`
	PhotoData  string `form:"photo_data" json:"photo_data"`
	PhotoURL   string `form:"foto_url" json:"foto_url"`
}

// RegisterStudent registers a student. Accepts JSON or a multipart form
// with an optional "photo" file; photos are uploaded before the student
// is registered upstream.
func (h *Handler) RegisterStudent(c *gin.Context) {
	var req struct {
		personForm
		CareerID int64 `form:"id_carrera" json:"id_carrera" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	photoURL, ok := h.photo(c, req.personForm)
	if !ok {
		return
	}

	out, err := h.Gym.RegisterStudent(c.Request.Context(), gymapi.StudentForm{
		FirstName:  req.FirstName,
		Surname1:   req.Surname1,
		Surname2:   req.Surname2,
		NationalID: strings.TrimSpace(req.NationalID),
		CareerID:   req.CareerID,
		PhotoURL:   photoURL,
	})
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"category": model.CategoryStudent, "photo_url": photoURL, "data": out})
}

// RegisterStaff registers a staff member. Same input rules as students.
func (h *Handler) RegisterStaff(c *gin.Context) {
	var req struct {
		personForm
		PositionID int64 `form:"id_puesto" json:"id_puesto" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	photoURL, ok := h.photo(c, req.personForm)
	if !ok {
		return
	}

	out, err := h.Gym.RegisterStaff(c.Request.Context(), gymapi.StaffForm{
		FirstName:  req.FirstName,
		Surname1:   req.Surname1,
		Surname2:   req.Surname2,
		NationalID: strings.TrimSpace(req.NationalID),
		PositionID: req.PositionID,
		PhotoURL:   photoURL,
	})
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"category": model.CategoryStaff, "photo_url": photoURL, "data": out})
}

// photo resolves the registration photo: an uploaded file first, then
// inline data, then an already hosted URL. It writes the error response
// itself and reports false when the request should stop.
func (h *Handler) photo(c *gin.Context, f personForm) (string, bool) {
	file, header, err := c.Request.FormFile("photo")
	hasFile := err == nil
	if hasFile {
		defer file.Close()
	}
	if !hasFile && f.PhotoData == "" {
		return strings.TrimSpace(f.PhotoURL), true
	}
	if h.Photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errPhotosDisabled.Error()})
		return "", false
	}

	ctx := c.Request.Context()
	var url string
	if hasFile {
		res, uerr := h.Photos.UploadFile(ctx, file, header.Filename)
		if uerr == nil {
			url = res.SecureURL
		}
		err = uerr
	} else {
		res, uerr := h.Photos.UploadDataURL(ctx, f.PhotoData)
		if uerr == nil {
			url = res.SecureURL
		}
		err = uerr
	}
	if err != nil {
		log.Printf("cloudinary upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return "", false
	}
	return url, true
}

// ListCareers returns the study programs.
func (h *Handler) ListCareers(c *gin.Context) {
	careers, err := h.Gym.Careers(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, careers)
}

// ListPositions returns the staff job titles.
func (h *Handler) ListPositions(c *gin.Context) {
	positions, err := h.Gym.Positions(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}
