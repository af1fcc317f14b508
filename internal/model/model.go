package model

import "strings"

// Category tags a registered person.
type Category string

const (
	CategoryStudent Category = "estudiante"
	CategoryStaff   Category = "funcionario"
)

// Photo references a person's picture either by URL or as inline base64 image data.
type Photo struct {
	URL  string `json:"foto_url,omitempty"`
	Data string `json:"foto,omitempty"`
}

// Empty reports whether neither a URL nor inline data is set.
func (p Photo) Empty() bool { return p.URL == "" && p.Data == "" }

// Person is the identity shared by attendance and directory records.
// Field names follow the gym API's JSON.
type Person struct {
	ID         int64    `json:"id"`
	FirstName  string   `json:"nombre"`
	Surname1   string   `json:"apellido1"`
	Surname2   string   `json:"apellido2,omitempty"`
	NationalID string   `json:"dni"`
	Category   Category `json:"tipo"`
	Detail     string   `json:"detalle,omitempty"` // career or position name
	Photo
}

// FullName joins first name and surnames, skipping empty parts.
func (p Person) FullName() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.FirstName, p.Surname1, p.Surname2} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Key is the national-ID used to correlate records across sources.
func (p Person) Key() string { return strings.TrimSpace(p.NationalID) }

// AttendanceRecord is one person recorded today by the access endpoint.
type AttendanceRecord struct {
	Person
	CheckedInAt string `json:"fecha_hora,omitempty"`
}

// DirectoryRecord is the fuller profile of a registered person.
type DirectoryRecord struct {
	Person
	PersonID  int64  `json:"id_persona,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Career is a study program a student can be enrolled in.
type Career struct {
	ID    int64  `json:"id"`
	Title string `json:"titulo"`
}

// Position is a staff job title.
type Position struct {
	ID   int64  `json:"id"`
	Name string `json:"nombre_puesto"`
}
