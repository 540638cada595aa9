package auth

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voice-transcription-service/internal/datastore"
)

// AdminStore is the slice of the datastore the admin handlers depend on.
type AdminStore interface {
	InsertAPIKey(ctx context.Context, k *datastore.APIKey) error
	DeactivateAPIKey(ctx context.Context, key string) (bool, error)
}

// AdminHandlers exposes the API key lifecycle endpoints.
type AdminHandlers struct {
	store AdminStore
}

// NewAdminHandlers creates the admin handler set.
func NewAdminHandlers(store AdminStore) *AdminHandlers {
	return &AdminHandlers{store: store}
}

// CreateAPIKey handles POST /admin/api-keys. It generates a fresh key for
// the named client and returns the raw token; this is the only time the
// token is ever shown.
func (h *AdminHandlers) CreateAPIKey(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	key, err := GenerateKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
		return
	}

	record := &datastore.APIKey{
		ID:        uuid.New().String(),
		Key:       key,
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		LastUsed:  sql.NullTime{},
	}

	if err := h.store.InsertAPIKey(c.Request.Context(), record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "API key created successfully",
		"api_key": key,
		"name":    name,
	})
}

// DeactivateAPIKey handles POST /admin/api-keys/deactivate.
func (h *AdminHandlers) DeactivateAPIKey(c *gin.Context) {
	key := c.PostForm("api_key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}

	modified, err := h.store.DeactivateAPIKey(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate API key"})
		return
	}
	if !modified {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deactivated successfully"})
}
