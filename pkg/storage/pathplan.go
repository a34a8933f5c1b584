package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OwnerKind selects the storage root for a document owner.
type OwnerKind string

const (
	OwnerStudent   OwnerKind = "student"
	OwnerTeacher   OwnerKind = "teacher"
	OwnerAlumni    OwnerKind = "alumni"
	OwnerAdmission OwnerKind = "admission"
	OwnerGeneric   OwnerKind = "generic"
)

// PathRequest carries the owner attributes that determine a canonical path.
type PathRequest struct {
	OwnerKind OwnerKind
	OwnerName string
	OwnerID   string
	DeptCode  string
	Session   string
	Shift     string
	Category  string
	Ext       string
}

// canonicalNames maps single-slot categories to their fixed file stems.
var canonicalNames = map[string]string{
	"photo":               "photo",
	"nid":                 "nid",
	"birth_certificate":   "birth_certificate",
	"ssc_marksheet":       "ssc_marksheet",
	"ssc_certificate":     "ssc_certificate",
	"transcript":          "transcript",
	"medical_certificate": "medical_certificate",
	"quota_document":      "quota_document",
}

// SingleSlot reports whether a category allows only one active document per
// owner.
func SingleSlot(category string) bool {
	_, ok := canonicalNames[strings.ToLower(category)]
	return ok
}

// DocumentPath computes the deterministic relative path for an upload. Two
// calls with identical inputs produce the same path, except for the "other"
// category whose filename embeds a fresh UUID.
func DocumentPath(req PathRequest) string {
	root := rootFor(req.OwnerKind)
	ownerDir := fmt.Sprintf("%s_%s", sanitizeName(req.OwnerName), strings.TrimSpace(req.OwnerID))

	category := strings.ToLower(strings.TrimSpace(req.Category))
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Ext), "."))

	segments := []string{
		root,
		segment(req.DeptCode),
		segment(req.Session),
		segment(req.Shift),
		ownerDir,
	}

	if stem, ok := canonicalNames[category]; ok {
		segments = append(segments, stem+"."+ext)
	} else {
		name := fmt.Sprintf("%s_%s.%s", category, uuid.NewString(), ext)
		segments = append(segments, "other_documents", name)
	}

	return strings.Join(segments, "/")
}

func rootFor(kind OwnerKind) string {
	switch kind {
	case OwnerTeacher:
		return "Teacher_Documents"
	case OwnerAlumni:
		return "Alumni_Documents"
	case OwnerAdmission:
		return "Admission_Documents"
	case OwnerGeneric:
		return "General_Documents"
	default:
		return "Student_Documents"
	}
}

// sanitizeName strips whitespace, restricts to [A-Za-z0-9_-] and truncates
// to 50 characters.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		s = "unknown"
	}
	return s
}

// segment lowercases a path component and replaces spaces with dashes.
func segment(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "-")
	if s == "" {
		s = "na"
	}
	return s
}
