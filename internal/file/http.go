package file

import (
	"io"
	"mime"
	"net/http"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/auth"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts file operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/buckets/:bucketName/files", handler.uploadFile)
	group.GET("/buckets/:bucketName/files", handler.listFiles)
	group.GET("/buckets/:bucketName/files/:filename", handler.downloadFile)
	group.DELETE("/buckets/:bucketName/files/:filename", handler.deleteFile)
}

type httpHandler struct {
	service *Service
}

func (h *httpHandler) uploadFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	limit := h.service.MaxUploadSize()
	if fileHeader.Size > limit {
		writeError(c, ErrFileTooLarge, "")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file payload"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file payload"})
		return
	}

	meta, err := h.service.Upload(c.Request.Context(), userID, c.Param("bucketName"),
		fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(c, err, "failed to upload file")
		return
	}

	c.JSON(http.StatusCreated, meta)
}

func (h *httpHandler) listFiles(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	list, err := h.service.List(c.Request.Context(), userID, c.Param("bucketName"))
	if err != nil {
		writeError(c, err, "failed to list files")
		return
	}
	if list == nil {
		list = []Metadata{}
	}

	c.JSON(http.StatusOK, gin.H{"files": list})
}

func (h *httpHandler) downloadFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	meta, reader, err := h.service.Download(c.Request.Context(), userID, c.Param("bucketName"), c.Param("filename"))
	if err != nil {
		writeError(c, err, "failed to download file")
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, meta.Size, meta.ContentType, reader, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": meta.Filename}),
	})
}

func (h *httpHandler) deleteFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	filename := c.Param("filename")
	if err := h.service.Delete(c.Request.Context(), userID, c.Param("bucketName"), filename); err != nil {
		writeError(c, err, "failed to delete file")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "file " + filename + " deleted"})
}

func writeError(c *gin.Context, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = fallback
	}
	c.JSON(status, gin.H{"error": msg})
}
