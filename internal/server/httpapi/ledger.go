package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devplane-io/devplane/internal/server/ledger"
	"github.com/devplane-io/devplane/internal/server/reconcile"
	"github.com/devplane-io/devplane/internal/server/sessions"
	"github.com/devplane-io/devplane/internal/server/templates"
)

type ledgerHandler struct {
	led *ledger.Service
}

func (h *ledgerHandler) getUsage(c *gin.Context) {
	sum, err := h.led.GetUsage(c.Request.Context(), bearerToken(c), c.Query("kind"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *ledgerHandler) listAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.led.ListAudit(c.Request.Context(), bearerToken(c), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type internalHandler struct {
	sess *sessions.Service
	tpls *templates.Service
	rec  *reconcile.Service
}

func (h *internalHandler) markRunning(c *gin.Context) {
	if err := h.sess.MarkRunning(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *internalHandler) markStopped(c *gin.Context) {
	if err := h.sess.MarkStopped(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *internalHandler) processBuild(c *gin.Context) {
	if err := h.tpls.ProcessBuildByID(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *internalHandler) reconcile(c *gin.Context) {
	report, err := h.rec.Run(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
