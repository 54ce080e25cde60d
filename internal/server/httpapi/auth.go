package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/state"
)

type authHandler struct {
	ident *identity.Service
}

func authResponse(res *identity.AuthResult) gin.H {
	return gin.H{
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
		"user":      res.User,
		"workspace": res.Workspace,
	}
}

func (h *authHandler) register(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	res, err := h.ident.Register(c.Request.Context(), body.Email, body.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(res))
}

func (h *authHandler) login(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	res, err := h.ident.Login(c.Request.Context(), body.Email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(res))
}

func (h *authHandler) loginPasskey(c *gin.Context) {
	var body struct {
		Assertion []byte `json:"assertion"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	res, err := h.ident.LoginWithPasskey(c.Request.Context(), body.Assertion)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(res))
}

func (h *authHandler) registerPasskey(c *gin.Context) {
	var body struct {
		Attestation []byte `json:"attestation"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	if err := h.ident.RegisterPasskey(c.Request.Context(), bearerToken(c), body.Attestation); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *authHandler) logout(c *gin.Context) {
	if err := h.ident.Logout(c.Request.Context(), bearerToken(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *authHandler) logoutAll(c *gin.Context) {
	revoked, err := h.ident.LogoutAll(c.Request.Context(), bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

func (h *authHandler) generateRecoveryCodes(c *gin.Context) {
	codes, err := h.ident.GenerateRecoveryCodes(c.Request.Context(), bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

func (h *authHandler) recover(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	res, err := h.ident.RedeemRecoveryCode(c.Request.Context(), body.Email, body.Code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(res))
}

func (h *authHandler) deviceStart(c *gin.Context) {
	dc, err := h.ident.DeviceStart(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": dc.Code, "expiresAt": dc.ExpiresAt})
}

func (h *authHandler) deviceApprove(c *gin.Context) {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	if err := h.ident.DeviceApprove(c.Request.Context(), bearerToken(c), body.Code); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *authHandler) deviceExchange(c *gin.Context) {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	res, err := h.ident.DeviceExchange(c.Request.Context(), body.Code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(res))
}

func (h *authHandler) createInvite(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	inv, err := h.ident.CreateInvite(c.Request.Context(), bearerToken(c), body.Email, state.Role(body.Role))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *authHandler) acceptInvite(c *gin.Context) {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.BadRequestf("invalid request body"))
		return
	}
	mem, err := h.ident.AcceptInvite(c.Request.Context(), bearerToken(c), body.Code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mem)
}

// runtimeSession resolves the session behind a runtime token. Used by the
// in-container agent to discover what it is serving.
func (h *authHandler) runtimeSession(c *gin.Context) {
	rp, err := h.ident.RequireRuntimeToken(c.Request.Context(), bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": rp.Session, "workspaceId": rp.WorkspaceID})
}
