package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/uploads"
)

type uploadHandler struct {
	ups *uploads.Service
}

// rawBody reads an upload payload. Raw bytes rather than JSON: bundles and
// snapshots are opaque archives.
func rawBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, common.BadRequestf("unreadable request body")
	}
	return body, nil
}

func (h *uploadHandler) createBundleGrant(c *gin.Context) {
	var body struct {
		ContentType string `json:"contentType"`
		MaxBytes    int64  `json:"maxBytes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	grant, err := h.ups.CreateBundleGrant(c.Request.Context(), bearerToken(c), c.Param("id"), body.ContentType, body.MaxBytes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *uploadHandler) createSnapshotGrant(c *gin.Context) {
	var body struct {
		Label       string `json:"label"`
		ContentType string `json:"contentType"`
		MaxBytes    int64  `json:"maxBytes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	grant, snap, err := h.ups.CreateSnapshotGrant(c.Request.Context(), bearerToken(c), c.Param("id"), body.Label, body.ContentType, body.MaxBytes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grant": grant, "snapshot": snap})
}

func (h *uploadHandler) consumeGrant(c *gin.Context) {
	body, err := rawBody(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.ups.ConsumeGrant(c.Request.Context(), c.Param("id"), body, c.ContentType()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "bytes": len(body)})
}

func (h *uploadHandler) uploadBundle(c *gin.Context) {
	body, err := rawBody(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.ups.UploadBundle(c.Request.Context(), bearerToken(c), c.Param("id"), body, c.ContentType()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "bytes": len(body)})
}

func (h *uploadHandler) createSnapshot(c *gin.Context) {
	body, err := rawBody(c)
	if err != nil {
		fail(c, err)
		return
	}
	snap, err := h.ups.CreateSnapshot(c.Request.Context(), bearerToken(c), c.Param("id"), c.Query("label"), body, c.ContentType())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *uploadHandler) getSnapshot(c *gin.Context) {
	snap, _, err := h.ups.GetSnapshot(c.Request.Context(), bearerToken(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *uploadHandler) getSnapshotContent(c *gin.Context) {
	_, obj, err := h.ups.GetSnapshot(c.Request.Context(), bearerToken(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if obj == nil {
		fail(c, common.NotFoundf("snapshot content not uploaded yet"))
		return
	}
	c.Data(http.StatusOK, obj.ContentType, obj.Body)
}

func (h *uploadHandler) deleteSnapshot(c *gin.Context) {
	if err := h.ups.DeleteSnapshot(c.Request.Context(), bearerToken(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *uploadHandler) restoreSnapshot(c *gin.Context) {
	var body struct {
		SnapshotID string `json:"snapshotId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	if err := h.ups.RestoreSnapshot(c.Request.Context(), bearerToken(c), c.Param("id"), body.SnapshotID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
