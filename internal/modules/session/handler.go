package session

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chainpass/core/internal/middleware"
	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/sessions", authMW)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/end", h.end)
	g.POST("/:id/token", h.sessionToken)
	g.POST("/:id/chains", h.seedChain)
	g.POST("/:id/chains/:chainId/reseed", h.reseedChain)
	g.POST("/:id/chains/:chainId/complete", h.completeChain)
	g.POST("/:id/rotation/:flow/start", h.startRotation)
	g.POST("/:id/rotation/:flow/stop", h.stopRotation)
	g.GET("/:id/chains", h.chains)
	g.GET("/:id/records", h.records)
	g.GET("/:id/scans", h.scans)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	session, err := h.svc.Create(c.Request.Context(), ident, &dto)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, session)
}

func (h *Handler) get(c *gin.Context) {
	session, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, session)
}

func (h *Handler) end(c *gin.Context) {
	var dto EndDTO
	if err := c.ShouldBindJSON(&dto); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	records, err := h.svc.End(c.Request.Context(), ident, c.Param("id"), dto.Roster)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, records)
}

func (h *Handler) sessionToken(c *gin.Context) {
	var dto SessionTokenDTO
	if err := c.ShouldBindJSON(&dto); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	tok, err := h.svc.IssueSessionToken(c.Request.Context(), ident, c.Param("id"), dto.TTLSeconds)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, tok)
}

func (h *Handler) seedChain(c *gin.Context) {
	var dto SeedChainDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	seeded, err := h.svc.SeedChain(c.Request.Context(), ident, c.Param("id"), &dto)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, seeded)
}

func (h *Handler) reseedChain(c *gin.Context) {
	var dto ReseedChainDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	seeded, err := h.svc.ReseedChain(c.Request.Context(), ident, c.Param("id"), c.Param("chainId"), &dto)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, seeded)
}

func (h *Handler) completeChain(c *gin.Context) {
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	ch, err := h.svc.CompleteChain(c.Request.Context(), ident, c.Param("id"), c.Param("chainId"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, ch)
}

func (h *Handler) startRotation(c *gin.Context) {
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	flow, err := flowParam(c.Param("flow"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	tok, err := h.svc.StartRotation(c.Request.Context(), ident, c.Param("id"), flow)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, tok)
}

func (h *Handler) stopRotation(c *gin.Context) {
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	flow, err := flowParam(c.Param("flow"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	if err := h.svc.StopRotation(c.Request.Context(), ident, c.Param("id"), flow); err != nil {
		response.Fail(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) chains(c *gin.Context) {
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	chains, err := h.svc.Chains(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, chains)
}

func (h *Handler) records(c *gin.Context) {
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	records, err := h.svc.Records(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, records)
}

func (h *Handler) scans(c *gin.Context) {
	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := h.svc.ScanLogs(c.Request.Context(), ident, c.Param("id"), limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, logs)
}

func flowParam(raw string) (models.TokenType, error) {
	switch strings.ToLower(raw) {
	case "late_entry", "late-entry":
		return models.TokenLateEntry, nil
	case "early_leave", "early-leave":
		return models.TokenEarlyLeave, nil
	default:
		return "", fault.New(fault.KindValidation, fault.CodeBadRequest, "flow must be late_entry or early_leave")
	}
}
