package model

import (
	"strings"
	"time"
)

// Paper is the container record created before its questions are saved.
// The ID is assigned by the backend.
type Paper struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Subject         string    `json:"subject"`
	Year            int       `json:"year,omitempty"`
	TotalMarks      int       `json:"totalMarks,omitempty"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	PaperType       string    `json:"paperType,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

// PaperMeta is the editable part of a Paper held in a draft before the
// container exists.
type PaperMeta struct {
	Title           string `json:"title"`
	Subject         string `json:"subject"`
	Year            int    `json:"year,omitempty"`
	TotalMarks      int    `json:"totalMarks,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	PaperType       string `json:"paperType,omitempty"`
}

// Paper converts the metadata to a container record without an ID.
func (m PaperMeta) Paper() Paper {
	return Paper{
		Title:           m.Title,
		Subject:         m.Subject,
		Year:            m.Year,
		TotalMarks:      m.TotalMarks,
		DurationMinutes: m.DurationMinutes,
		PaperType:       m.PaperType,
	}
}

// FillFrom copies every field of other that is still empty in m.
func (m *PaperMeta) FillFrom(other PaperMeta) {
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Subject == "" {
		m.Subject = other.Subject
	}
	if m.Year == 0 {
		m.Year = other.Year
	}
	if m.TotalMarks == 0 {
		m.TotalMarks = other.TotalMarks
	}
	if m.DurationMinutes == 0 {
		m.DurationMinutes = other.DurationMinutes
	}
	if m.PaperType == "" {
		m.PaperType = other.PaperType
	}
}

// Subjects lists the subject catalogue accepted for container records.
var Subjects = map[string]string{
	"mathematics": "Mathematics",
	"english":     "English",
	"physics":     "Physics",
}

// NormalizeSubject lower-cases a subject and reports whether it is known.
// An empty subject is allowed and reported as known.
func NormalizeSubject(subject string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(subject))
	if s == "" {
		return "", true
	}
	_, ok := Subjects[s]
	return s, ok
}
