package bucket

import (
	"net/http"
	"sync"

	"github.com/abduss/bucketsvc/internal/apperr"
	"github.com/abduss/bucketsvc/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerRuleOnce sync.Once

// RegisterRoutes mounts bucket endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	registerRuleOnce.Do(registerNameRule)

	handler := &httpHandler{service: service}
	group.POST("/buckets", handler.createBucket)
	group.GET("/buckets", handler.listBuckets)
	group.GET("/buckets/:bucketName", handler.getBucket)
	group.DELETE("/buckets/:bucketName", handler.deleteBucket)
}

// registerNameRule adds the "bucketname" tag to gin's validator engine.
func registerNameRule() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("bucketname", func(fl validator.FieldLevel) bool {
			return ValidName(fl.Field().String())
		})
	}
}

type httpHandler struct {
	service *Service
}

type createBucketRequest struct {
	Name        string  `json:"name" binding:"required,bucketname"`
	Description *string `json:"description" binding:"omitempty,max=255"`
}

func (h *httpHandler) createBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bucket, err := h.service.CreateBucket(c.Request.Context(), userID, req.Name, req.Description)
	if err != nil {
		writeError(c, err, "failed to create bucket")
		return
	}

	c.JSON(http.StatusCreated, bucket)
}

func (h *httpHandler) listBuckets(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	buckets, err := h.service.ListBuckets(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to list buckets")
		return
	}
	if buckets == nil {
		buckets = []Bucket{}
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

func (h *httpHandler) getBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bucket, err := h.service.GetBucket(c.Request.Context(), userID, c.Param("bucketName"))
	if err != nil {
		writeError(c, err, "failed to fetch bucket")
		return
	}

	c.JSON(http.StatusOK, bucket)
}

func (h *httpHandler) deleteBucket(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	name := c.Param("bucketName")
	if err := h.service.DeleteBucket(c.Request.Context(), userID, name); err != nil {
		writeError(c, err, "failed to delete bucket")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "bucket " + name + " deleted"})
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
