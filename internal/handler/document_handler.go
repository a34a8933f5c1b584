package handler

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edupoint/slms-api/internal/models"
	"github.com/edupoint/slms-api/internal/service"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
	"github.com/edupoint/slms-api/pkg/response"
	"github.com/edupoint/slms-api/pkg/storage"
)

// DocumentHandler exposes the document store over HTTP.
type DocumentHandler struct {
	service *service.DocumentService
}

// NewDocumentHandler creates a new handler.
func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{service: svc}
}

func ownerFromForm(c *gin.Context) models.DocumentOwner {
	return models.DocumentOwner{
		Kind:     storage.OwnerKind(c.DefaultPostForm("owner_kind", string(storage.OwnerStudent))),
		ID:       c.PostForm("owner_id"),
		Name:     c.PostForm("owner_name"),
		DeptCode: c.PostForm("dept_code"),
		Session:  c.PostForm("session"),
		Shift:    c.PostForm("shift"),
	}
}

func (h *DocumentHandler) uploadInput(c *gin.Context, owner models.DocumentOwner, category string, file *multipart.FileHeader) (service.UploadInput, func(), error) {
	body, err := file.Open()
	if err != nil {
		return service.UploadInput{}, nil, err
	}
	in := service.UploadInput{
		Owner:       owner,
		Category:    category,
		FileName:    file.Filename,
		Size:        file.Size,
		Body:        body,
		Description: c.PostForm("description"),
		Source:      models.SourceManual,
		IP:          c.ClientIP(),
		UserAgent:   c.GetHeader("User-Agent"),
	}
	if tags := c.PostForm("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				in.Tags = append(in.Tags, tag)
			}
		}
	}
	if source := c.PostForm("source"); source != "" {
		in.Source = models.DocumentSource(source)
	}
	if claims := claimsFromContext(c); claims != nil {
		userID := claims.UserID
		in.UserID = &userID
	}
	return in, func() { body.Close() }, nil //nolint:errcheck
}

// Upload godoc
// @Summary Upload a document
// @Description Store one file for an owner under a category
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File content"
// @Param category formData string true "Document category"
// @Param owner_id formData string true "Owner identifier"
// @Param owner_name formData string true "Owner display name"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	category := c.PostForm("category")
	owner := ownerFromForm(c)
	if owner.ID == "" || owner.Name == "" || category == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "owner_id, owner_name and category are required"))
		return
	}

	in, closeBody, err := h.uploadInput(c, owner, category, file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload"))
		return
	}
	defer closeBody()

	doc, err := h.service.Upload(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, doc)
}

// UploadBatch godoc
// @Summary Upload several documents
// @Description Store up to ten files for one owner, each under its own category
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "File contents"
// @Success 207 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /documents/batch [post]
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart payload"))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at least one file is required"))
		return
	}
	owner := ownerFromForm(c)
	if owner.ID == "" || owner.Name == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "owner_id and owner_name are required"))
		return
	}

	// categories[i] pairs with files[i]; a single category applies to all.
	categories := form.Value["categories"]
	defaultCategory := c.PostForm("category")

	var inputs []service.UploadInput
	var closers []func()
	defer func() {
		for _, closeBody := range closers {
			closeBody()
		}
	}()
	for i, file := range files {
		category := defaultCategory
		if i < len(categories) && categories[i] != "" {
			category = categories[i]
		}
		in, closeBody, err := h.uploadInput(c, owner, category, file)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest,
				fmt.Sprintf("failed to read %s", file.Filename)))
			return
		}
		closers = append(closers, closeBody)
		inputs = append(inputs, in)
	}

	results, err := h.service.UploadBatch(c.Request.Context(), inputs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusMultiStatus, results, nil)
}

// CheckDuplicate godoc
// @Summary Probe for a duplicate
// @Description Report whether identical content is already stored for the owner
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File content"
// @Param owner_id formData string true "Owner identifier"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /documents/duplicate-check [post]
func (h *DocumentHandler) CheckDuplicate(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	ownerID := c.PostForm("owner_id")
	if ownerID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "owner_id is required"))
		return
	}
	body, err := file.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload"))
		return
	}
	defer body.Close() //nolint:errcheck

	existing, duplicate, err := h.service.CheckDuplicate(c.Request.Context(), ownerID, body)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"duplicate": duplicate, "document": existing}, nil)
}

// SignURL godoc
// @Summary Issue a signed download link
// @Description Create a short-lived token for an unauthenticated browser download
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id}/sign [post]
func (h *DocumentHandler) SignURL(c *gin.Context) {
	token, expiresAt, err := h.service.SignDownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"url":        "/api/v1/files/download?token=" + token,
		"token":      token,
		"expires_at": expiresAt,
	}, nil)
}

// Download godoc
// @Summary Download by signed token
// @Description Stream the blob referenced by a signed token
// @Tags Documents
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /files/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	result, err := h.service.Download(c.Request.Context(), token, models.AccessDownload, optionalUserID(c), c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.Stream.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(result.Document)))
	c.DataFromReader(http.StatusOK, result.Size, result.Mime, result.Stream, nil)
}

// Preview godoc
// @Summary Preview a document inline
// @Description Stream the blob for an authenticated viewer
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /documents/{id}/preview [get]
func (h *DocumentHandler) Preview(c *gin.Context) {
	result, err := h.service.Open(c.Request.Context(), c.Param("id"), models.AccessPreview, optionalUserID(c), c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.Stream.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", downloadName(result.Document)))
	c.DataFromReader(http.StatusOK, result.Size, result.Mime, result.Stream, nil)
}

// ListByOwner godoc
// @Summary List an owner's documents
// @Tags Documents
// @Produce json
// @Param owner_id path string true "Owner identifier"
// @Param category query string false "Category filter"
// @Success 200 {object} response.Envelope
// @Router /documents/owner/{owner_id} [get]
func (h *DocumentHandler) ListByOwner(c *gin.Context) {
	docs, err := h.service.ListByOwner(c.Request.Context(), c.Param("owner_id"), c.Query("category"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, docs, nil)
}

// Search godoc
// @Summary Search documents
// @Description Case-insensitive substring search over owner, category, tags and description
// @Tags Documents
// @Produce json
// @Param q query string false "Search term"
// @Param category query string false "Category filter"
// @Param dept query string false "Department filter"
// @Param session query string false "Session filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) Search(c *gin.Context) {
	filter := models.DocumentFilter{
		Query:    c.Query("q"),
		OwnerID:  c.Query("owner_id"),
		Category: c.Query("category"),
		Year:     c.Query("year"),
		Dept:     c.Query("dept"),
		Session:  c.Query("session"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	docs, total, err := h.service.Search(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, docs, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// UpdateMetadata godoc
// @Summary Update tags and description
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [patch]
func (h *DocumentHandler) UpdateMetadata(c *gin.Context) {
	var req struct {
		Tags        []string `json:"tags"`
		Description string   `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	doc, err := h.service.UpdateMetadata(c.Request.Context(), c.Param("id"), req.Tags, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, doc, nil)
}

// Delete godoc
// @Summary Delete a document
// @Description Soft-delete the index entry and unlink the blob
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), optionalUserID(c), c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// IntegrityCheck godoc
// @Summary Verify one document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/integrity [get]
func (h *DocumentHandler) IntegrityCheck(c *gin.Context) {
	report, err := h.service.IntegrityCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, report, nil)
}

// IntegritySweep godoc
// @Summary Verify every active document
// @Tags Documents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /documents/integrity [post]
func (h *DocumentHandler) IntegritySweep(c *gin.Context) {
	reports, err := h.service.IntegritySweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"unhealthy": reports}, nil)
}

// Stats godoc
// @Summary Repository statistics
// @Tags Documents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /documents/stats [get]
func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, stats, nil)
}

// AccessLogs godoc
// @Summary Access history of a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/access-logs [get]
func (h *DocumentHandler) AccessLogs(c *gin.Context) {
	logs, err := h.service.AccessLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, logs, nil)
}

// Cleanup godoc
// @Summary Remove orphaned blobs
// @Description Delete files on disk that no active document references
// @Tags Documents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /documents/cleanup [post]
func (h *DocumentHandler) Cleanup(c *gin.Context) {
	removed, err := h.service.CleanupOrphaned(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}

func optionalUserID(c *gin.Context) *string {
	claims := claimsFromContext(c)
	if claims == nil {
		return nil
	}
	userID := claims.UserID
	return &userID
}

func downloadName(doc *models.Document) string {
	if doc.OriginalFieldName != nil && *doc.OriginalFieldName != "" {
		return *doc.OriginalFieldName
	}
	parts := strings.Split(doc.Path, "/")
	return parts[len(parts)-1]
}
