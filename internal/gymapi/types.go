package gymapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gymaccess/internal/model"
)

// ErrNoToken is returned when a login response carries no access token.
var ErrNoToken = errors.New("gymapi: no access token in login response")

// APIError is a non-2xx response from the gym API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gym api error %d", e.Status)
	}
	return fmt.Sprintf("gym api error %d: %s", e.Status, e.Message)
}

// StudentForm registers a student. PhotoURL must already be hosted.
type StudentForm struct {
	FirstName  string `json:"nombre"`
	Surname1   string `json:"apellido1"`
	Surname2   string `json:"apellido2,omitempty"`
	NationalID string `json:"dni"`
	CareerID   int64  `json:"id_carrera"`
	PhotoURL   string `json:"foto_url,omitempty"`
}

// StaffForm registers a staff member.
type StaffForm struct {
	FirstName  string `json:"nombre"`
	Surname1   string `json:"apellido1"`
	Surname2   string `json:"apellido2,omitempty"`
	NationalID string `json:"dni"`
	PositionID int64  `json:"id_puesto"`
	PhotoURL   string `json:"foto_url,omitempty"`
}

// Validate checks the fields the gym API rejects when missing.
func (f StudentForm) Validate() error {
	return requireFields(f.FirstName, f.Surname1, f.NationalID, f.CareerID)
}

// Validate checks the fields the gym API rejects when missing.
func (f StaffForm) Validate() error {
	return requireFields(f.FirstName, f.Surname1, f.NationalID, f.PositionID)
}

func requireFields(first, surname, dni string, ref int64) error {
	switch {
	case strings.TrimSpace(first) == "":
		return errors.New("nombre required")
	case strings.TrimSpace(surname) == "":
		return errors.New("apellido1 required")
	case strings.TrimSpace(dni) == "":
		return errors.New("dni required")
	case ref <= 0:
		return errors.New("career or position required")
	}
	return nil
}

// LoginResult is what the gym API returned for a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         *model.Person // nil when the response omits the user
}

// AccessResult is the gym API's answer to an entry/exit registration.
type AccessResult struct {
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrEmptyUpdate is returned when a user update sets no field.
var ErrEmptyUpdate = errors.New("gymapi: update sets no field")

// Pagination describes one page of the user listing.
type Pagination struct {
	CurrentPage int `json:"currentPage"`
	Limit       int `json:"limit"`
	TotalCount  int `json:"totalCount"`
	TotalPages  int `json:"totalPages"`
}

// UsersPage is one page of registered users.
type UsersPage struct {
	Users      []model.DirectoryRecord `json:"users"`
	Pagination Pagination              `json:"pagination"`
}

// UserUpdate changes some fields of a registered user. Nil fields are left
// as they are.
type UserUpdate struct {
	FirstName  *string `json:"nombre,omitempty"`
	Surname1   *string `json:"apellido1,omitempty"`
	Surname2   *string `json:"apellido2,omitempty"`
	NationalID *string `json:"dni,omitempty"`
	CareerID   *int64  `json:"id_carrera,omitempty"`
	PositionID *int64  `json:"id_puesto,omitempty"`
	PhotoURL   *string `json:"foto_url,omitempty"`
}

// Empty reports whether the update sets nothing.
func (u UserUpdate) Empty() bool {
	return u.FirstName == nil && u.Surname1 == nil && u.Surname2 == nil && u.NationalID == nil &&
		u.CareerID == nil && u.PositionID == nil && u.PhotoURL == nil
}
