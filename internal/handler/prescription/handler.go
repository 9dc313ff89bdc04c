package prescription

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/handler"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/service/prescription"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/qrcode"
)

const qrImageSize = 256

type Handler struct {
	service  *prescription.Service
	renderer qrcode.Renderer
	qrCache  *cache.Cache
}

func NewHandler(service *prescription.Service, renderer qrcode.Renderer) *Handler {
	return &Handler{
		service:  service,
		renderer: renderer,
		// Rendered PNGs are immutable per token hash, so a short cache
		// saves re-encoding on repeated downloads.
		qrCache: cache.New(15*time.Minute, 30*time.Minute),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	prescriptions := r.Group("/prescriptions")
	{
		prescriptions.POST("", h.CreatePrescription)
		prescriptions.POST("/:id/cancel", h.CancelPrescription)
		prescriptions.GET("/:id", h.GetPrescription)
		prescriptions.GET("/:id/logs", h.ListLogs)
		prescriptions.GET("/:id/qr", h.GetQRImage)
	}
}

func (h *Handler) CreatePrescription(c *gin.Context) {
	var req model.CreatePrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	doctorID, ok := handler.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing actor identity"))
		return
	}

	p, err := h.service.CreatePrescription(c.Request.Context(), &req, doctorID)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(p))
}

func (h *Handler) CancelPrescription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid prescription ID"))
		return
	}

	actorID, ok := handler.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing actor identity"))
		return
	}

	// The reason is optional, so an empty body is accepted.
	var req model.CancelRequest
	_ = c.ShouldBindJSON(&req)

	p, err := h.service.Cancel(c.Request.Context(), id, actorID, req.Reason)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) GetPrescription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid prescription ID"))
		return
	}

	p, err := h.service.GetPrescription(c.Request.Context(), id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) ListLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid prescription ID"))
		return
	}

	entries, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}

// GetQRImage returns the prescription's scannable code as a PNG. The token
// is re-issued on demand when the stored one has expired.
func (h *Handler) GetQRImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid prescription ID"))
		return
	}

	token, err := h.service.IssueToken(c.Request.Context(), id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	if cached, found := h.qrCache.Get(token.TokenHash); found {
		c.Data(http.StatusOK, "image/png", cached.([]byte))
		return
	}

	png, err := h.renderer.RenderPNG(token.TokenHash, qrImageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to render QR code"))
		return
	}
	h.qrCache.Set(token.TokenHash, png, cache.DefaultExpiration)

	c.Data(http.StatusOK, "image/png", png)
}
