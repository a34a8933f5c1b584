package service

import (
	"fmt"
	"path/filepath"
	"strings"

	appErrors "github.com/edupoint/slms-api/pkg/errors"
)

// DocumentPolicy enforces per-category upload rules: allowed extensions,
// size ceilings, filename hygiene and extension/MIME consistency.
type DocumentPolicy struct {
	MaxImageBytes    int64
	MaxDocumentBytes int64
	MaxBatchBytes    int64
	MaxBatchFiles    int
}

// categoryClass groups categories sharing one rule set.
type categoryClass int

const (
	classImage categoryClass = iota
	classCertificate
	classDocument
)

var certificateCategories = map[string]bool{
	"birth_certificate":   true,
	"ssc_certificate":     true,
	"ssc_marksheet":       true,
	"medical_certificate": true,
	"quota_document":      true,
	"transcript":          true,
}

var allowedExtensions = map[categoryClass]map[string]bool{
	classImage:       {"jpg": true, "jpeg": true, "png": true},
	classCertificate: {"pdf": true, "jpg": true, "jpeg": true, "png": true},
	classDocument:    {"pdf": true, "jpg": true, "jpeg": true, "png": true, "doc": true, "docx": true},
}

// extensionMimes lists the sniffed MIME types accepted per extension.
// DOC/DOCX arrive as zip or plain octet streams depending on the producer.
var extensionMimes = map[string][]string{
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
	"pdf":  {"application/pdf"},
	"doc":  {"application/msword", "application/octet-stream", "application/zip"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip", "application/octet-stream"},
}

const forbiddenNameChars = `<>:"/\|?*`

func classify(category string) categoryClass {
	c := strings.ToLower(strings.TrimSpace(category))
	switch {
	case c == "photo":
		return classImage
	case certificateCategories[c]:
		return classCertificate
	default:
		return classDocument
	}
}

// Ext extracts the lowercase extension without the leading dot.
func (p DocumentPolicy) Ext(fileName string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
}

// Validate checks one upload against the category rules. sniffedMime may be
// empty when content has not been read yet; the MIME consistency check is
// skipped in that case.
func (p DocumentPolicy) Validate(category, fileName string, size int64, sniffedMime string) error {
	if size == 0 {
		return appErrors.WithField(appErrors.ErrEmptyFile, "file")
	}
	if fileName == "" || len(fileName) > 100 || strings.ContainsAny(fileName, forbiddenNameChars) {
		return appErrors.WithField(appErrors.ErrBadFileName, "file")
	}

	class := classify(category)
	ext := p.Ext(fileName)
	if !allowedExtensions[class][ext] {
		return appErrors.WithField(appErrors.Clone(appErrors.ErrBadFileType,
			fmt.Sprintf("extension .%s is not allowed for category %s", ext, category)), "file")
	}

	limit := p.MaxDocumentBytes
	if class == classImage {
		limit = p.MaxImageBytes
	}
	if limit > 0 && size > limit {
		return appErrors.WithField(appErrors.Clone(appErrors.ErrFileTooLarge,
			fmt.Sprintf("file exceeds the %d MiB limit for category %s", limit/(1<<20), category)), "file")
	}

	if sniffedMime != "" {
		base := sniffedMime
		if i := strings.Index(base, ";"); i >= 0 {
			base = strings.TrimSpace(base[:i])
		}
		ok := false
		for _, allowed := range extensionMimes[ext] {
			if base == allowed {
				ok = true
				break
			}
		}
		if !ok {
			return appErrors.WithField(appErrors.Clone(appErrors.ErrBadFileType,
				fmt.Sprintf("detected content type %s does not match extension .%s", base, ext)), "file")
		}
	}
	return nil
}

// ValidateBatch checks the aggregate limits before per-file validation runs.
func (p DocumentPolicy) ValidateBatch(fileCount int, totalBytes int64) error {
	if fileCount == 0 {
		return appErrors.WithField(appErrors.Clone(appErrors.ErrValidation, "batch contains no files"), "files")
	}
	if p.MaxBatchFiles > 0 && fileCount > p.MaxBatchFiles {
		return appErrors.WithField(appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("batch exceeds the %d file limit", p.MaxBatchFiles)), "files")
	}
	if p.MaxBatchBytes > 0 && totalBytes > p.MaxBatchBytes {
		return appErrors.WithField(appErrors.Clone(appErrors.ErrFileTooLarge,
			fmt.Sprintf("batch exceeds the %d MiB total limit", p.MaxBatchBytes/(1<<20))), "files")
	}
	return nil
}
