package pharmacy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/handler"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/service/pharmacylog"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/service/prescription"
)

type Handler struct {
	service *prescription.Service
	logs    *pharmacylog.Service
}

func NewHandler(service *prescription.Service, logs *pharmacylog.Service) *Handler {
	return &Handler{service: service, logs: logs}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	pharmacy := r.Group("/pharmacy")
	{
		pharmacy.POST("/scan", h.Scan)
		pharmacy.GET("/lookup/:reference", h.LookupByReference)
		pharmacy.GET("/prescriptions/:id/logs", h.ListLogs)
		pharmacy.POST("/prescriptions/:id/validate", h.Validate)
		pharmacy.POST("/prescriptions/:id/dispense", h.Dispense)
		pharmacy.POST("/prescriptions/:id/reject", h.Reject)
	}
}

// ListLogs returns the audit trail for a prescription the pharmacist is
// handling.
func (h *Handler) ListLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid prescription ID"))
		return
	}

	entries, err := h.logs.ListForPrescription(c.Request.Context(), id)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}

func (h *Handler) Scan(c *gin.Context) {
	var req model.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actorID, ok := handler.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing actor identity"))
		return
	}

	result, err := h.service.Scan(c.Request.Context(), req.TokenHash, actorID)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) LookupByReference(c *gin.Context) {
	actorID, ok := handler.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing actor identity"))
		return
	}

	result, err := h.service.LookupByReference(c.Request.Context(), c.Param("reference"), actorID)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Validate(c *gin.Context) {
	id, actorID, ok := h.idAndActor(c)
	if !ok {
		return
	}

	var req model.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.service.Validate(c.Request.Context(), id, actorID, req.Notes)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) Dispense(c *gin.Context) {
	id, actorID, ok := h.idAndActor(c)
	if !ok {
		return
	}

	var req model.DispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.service.Dispense(c.Request.Context(), id, actorID, &req)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) Reject(c *gin.Context) {
	id, actorID, ok := h.idAndActor(c)
	if !ok {
		return
	}

	var req model.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.service.Reject(c.Request.Context(), id, actorID, req.Reason)
	if err != nil {
		handler.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) idAndActor(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid prescription ID"))
		return uuid.Nil, uuid.Nil, false
	}

	actorID, ok := handler.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing actor identity"))
		return uuid.Nil, uuid.Nil, false
	}
	return id, actorID, true
}
