package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/templates"
)

type templateHandler struct {
	tpls *templates.Service
}

func (h *templateHandler) create(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	tpl, err := h.tpls.Create(c.Request.Context(), bearerToken(c), body.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *templateHandler) list(c *gin.Context) {
	list, err := h.tpls.List(c.Request.Context(), bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list})
}

func (h *templateHandler) get(c *gin.Context) {
	detail, err := h.tpls.Get(c.Request.Context(), bearerToken(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"template": detail.Template,
		"versions": detail.Versions,
		"builds":   detail.Builds,
	})
}

func (h *templateHandler) addVersion(c *gin.Context) {
	var body struct {
		Version  string         `json:"version"`
		Manifest state.Manifest `json:"manifest"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	ver, err := h.tpls.AddVersion(c.Request.Context(), bearerToken(c), c.Param("id"), body.Version, body.Manifest)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ver)
}

func (h *templateHandler) promote(c *gin.Context) {
	rel, err := h.tpls.Promote(c.Request.Context(), bearerToken(c), c.Param("id"), c.Param("versionId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (h *templateHandler) archive(c *gin.Context) {
	if err := h.tpls.Archive(c.Request.Context(), bearerToken(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *templateHandler) delete(c *gin.Context) {
	if err := h.tpls.Delete(c.Request.Context(), bearerToken(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *templateHandler) retryBuild(c *gin.Context) {
	if err := h.tpls.Retry(c.Request.Context(), bearerToken(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *templateHandler) retryDeadLettered(c *gin.Context) {
	reopened, err := h.tpls.RetryDeadLettered(c.Request.Context(), bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reopened": reopened})
}
