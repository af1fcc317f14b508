package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"gymaccess/internal/auth"
	"gymaccess/internal/gymapi"
	"gymaccess/internal/model"
)

type loginRequest struct {
	DNI      string `json:"dni" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks the operator's credentials against the gym API, then issues
// this service's own tokens. The upstream token stays in the gym client's
// session and is used for every later upstream call.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Gym.Login(c.Request.Context(), req.DNI, req.Password)
	if err != nil {
		var apiErr *gymapi.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			msg := apiErr.Message
			if msg == "" {
				msg = "invalid credentials"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		log.Printf("upstream login failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "gym api unavailable"})
		return
	}

	var user *model.Person
	name := ""
	if res.User != nil {
		user = res.User
		name = res.User.FullName()
	}
	h.issue(c, req.DNI, name, user)
}

// RefreshToken exchanges a refresh token for a new pair.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.ParseAs(req.RefreshToken, h.Tokens.SigningKey, h.Tokens.Issuer, auth.TypeRefresh)
	if err != nil || claims.Role != auth.RoleOperator {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	h.issue(c, claims.Subject, claims.Name, nil)
}

func (h *Handler) issue(c *gin.Context, subject, name string, user *model.Person) {
	tokens, err := auth.Issue(subject, name, auth.RoleOperator, h.Tokens.Issuer, h.Tokens.SigningKey, h.Tokens.AccessTTL, h.Tokens.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	body := gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	}
	if user != nil {
		body["user"] = user
	}
	c.JSON(http.StatusOK, body)
}
