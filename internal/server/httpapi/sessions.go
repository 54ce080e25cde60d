package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/sessions"
)

type sessionHandler struct {
	sess  *sessions.Service
	ident *identity.Service
}

func (h *sessionHandler) create(c *gin.Context) {
	var body struct {
		TemplateID string `json:"templateId"`
		Name       string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	sess, err := h.sess.Create(c.Request.Context(), bearerToken(c), body.TemplateID, body.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *sessionHandler) list(c *gin.Context) {
	list, err := h.sess.List(c.Request.Context(), bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *sessionHandler) get(c *gin.Context) {
	detail, err := h.sess.Get(c.Request.Context(), bearerToken(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": detail.Session, "events": detail.Events})
}

func (h *sessionHandler) start(c *gin.Context) {
	sess, err := h.sess.Start(c.Request.Context(), bearerToken(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *sessionHandler) stop(c *gin.Context) {
	if err := h.sess.Stop(c.Request.Context(), bearerToken(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *sessionHandler) delete(c *gin.Context) {
	if err := h.sess.Delete(c.Request.Context(), bearerToken(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *sessionHandler) mintRuntimeToken(c *gin.Context) {
	token, expiresAt, err := h.ident.MintRuntimeToken(c.Request.Context(), bearerToken(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expiresAt})
}
