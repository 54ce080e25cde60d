// Package httpapi exposes the control plane over HTTP. Handlers stay
// thin: extract the bearer token, bind the payload, call a service, map
// the error kind to a status code.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/ledger"
	"github.com/devplane-io/devplane/internal/server/reconcile"
	"github.com/devplane-io/devplane/internal/server/sessions"
	"github.com/devplane-io/devplane/internal/server/templates"
	"github.com/devplane-io/devplane/internal/server/uploads"
)

type Deps struct {
	Identity  *identity.Service
	Templates *templates.Service
	Sessions  *sessions.Service
	Uploads   *uploads.Service
	Reconcile *reconcile.Service
	Ledger    *ledger.Service
	Log       logging.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	auth := &authHandler{ident: deps.Identity}
	r.POST("/v1/auth/register", auth.register)
	r.POST("/v1/auth/login", auth.login)
	r.POST("/v1/auth/login/passkey", auth.loginPasskey)
	r.POST("/v1/auth/passkeys", auth.registerPasskey)
	r.POST("/v1/auth/logout", auth.logout)
	r.POST("/v1/auth/logout-all", auth.logoutAll)
	r.POST("/v1/auth/recovery-codes", auth.generateRecoveryCodes)
	r.POST("/v1/auth/recover", auth.recover)
	r.POST("/v1/auth/device/start", auth.deviceStart)
	r.POST("/v1/auth/device/approve", auth.deviceApprove)
	r.POST("/v1/auth/device/exchange", auth.deviceExchange)
	r.POST("/v1/invites", auth.createInvite)
	r.POST("/v1/invites/accept", auth.acceptInvite)
	r.GET("/v1/runtime/session", auth.runtimeSession)

	tpl := &templateHandler{tpls: deps.Templates}
	r.POST("/v1/templates", tpl.create)
	r.GET("/v1/templates", tpl.list)
	r.GET("/v1/templates/:id", tpl.get)
	r.POST("/v1/templates/:id/versions", tpl.addVersion)
	r.POST("/v1/templates/:id/versions/:versionId/promote", tpl.promote)
	r.POST("/v1/templates/:id/archive", tpl.archive)
	r.DELETE("/v1/templates/:id", tpl.delete)
	r.POST("/v1/builds/:id/retry", tpl.retryBuild)
	r.POST("/v1/builds/retry-dead-lettered", tpl.retryDeadLettered)

	sess := &sessionHandler{sess: deps.Sessions, ident: deps.Identity}
	r.POST("/v1/sessions", sess.create)
	r.GET("/v1/sessions", sess.list)
	r.GET("/v1/sessions/:id", sess.get)
	r.POST("/v1/sessions/:id/start", sess.start)
	r.POST("/v1/sessions/:id/stop", sess.stop)
	r.DELETE("/v1/sessions/:id", sess.delete)
	r.POST("/v1/sessions/:id/runtime-token", sess.mintRuntimeToken)

	up := &uploadHandler{ups: deps.Uploads}
	r.POST("/v1/versions/:id/bundle-grant", up.createBundleGrant)
	r.PUT("/v1/versions/:id/bundle", up.uploadBundle)
	r.POST("/v1/sessions/:id/snapshot-grant", up.createSnapshotGrant)
	r.PUT("/v1/grants/:id", up.consumeGrant)
	r.POST("/v1/sessions/:id/snapshots", up.createSnapshot)
	r.GET("/v1/snapshots/:id", up.getSnapshot)
	r.GET("/v1/snapshots/:id/content", up.getSnapshotContent)
	r.DELETE("/v1/snapshots/:id", up.deleteSnapshot)
	r.POST("/v1/sessions/:id/restore", up.restoreSnapshot)

	led := &ledgerHandler{led: deps.Ledger}
	r.GET("/v1/usage", led.getUsage)
	r.GET("/v1/audit", led.listAudit)

	// Internal callbacks for the runtime and operational tooling. Exposed
	// on the same listener; deployments fence /internal at the ingress.
	internal := &internalHandler{sess: deps.Sessions, tpls: deps.Templates, rec: deps.Reconcile}
	r.POST("/internal/sessions/:id/running", internal.markRunning)
	r.POST("/internal/sessions/:id/stopped", internal.markStopped)
	r.POST("/internal/builds/:id/process", internal.processBuild)
	r.POST("/internal/reconcile", internal.reconcile)

	return r
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// fail maps a classified error onto an HTTP response.
func fail(c *gin.Context, err error) {
	kind := common.KindOf(err)
	c.JSON(common.HTTPStatus(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}
