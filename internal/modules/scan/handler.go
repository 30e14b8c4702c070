package scan

import (
	"github.com/gin-gonic/gin"

	"github.com/chainpass/core/internal/middleware"
	"github.com/chainpass/core/internal/modules/anticheat"
	"github.com/chainpass/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.POST("/scan", authMW, h.scan)
}

func (h *Handler) scan(c *gin.Context) {
	var dto RequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ident, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c)
		return
	}

	meta := Metadata{
		Fingerprint: dto.Fingerprint,
		IP:          c.ClientIP(),
	}
	if dto.Latitude != nil && dto.Longitude != nil {
		meta.GPS = &anticheat.GPSFix{Latitude: *dto.Latitude, Longitude: *dto.Longitude}
	}
	if dto.BSSID != "" || dto.SSID != "" {
		meta.Wifi = &anticheat.WifiReading{BSSID: dto.BSSID, SSID: dto.SSID}
	}

	result, err := h.svc.Scan(c.Request.Context(), ident, dto.SessionID, dto.TokenID, dto.Tag, meta)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}
