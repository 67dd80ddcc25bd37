package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-controller/internal/config"
	"gate-controller/internal/domain/gate"
	"gate-controller/internal/service"
)

type Handler struct {
	gateService *service.GateService
	config      *config.Config
	log         zerolog.Logger
}

func NewHandler(
	gateService *service.GateService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		gateService: gateService,
		config:      cfg,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/gate/events", h.createGateEvent)
		public.GET("/log", h.listRecords)
		public.GET("/log/:id", h.getRecord)
		public.GET("/plates", h.findPlate)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/registry/reload", h.reloadRegistry)
	}
}

type gateEventRequest struct {
	ImagePath  string    `json:"image_path"`
	Plate      string    `json:"plate"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"captured_at"`
	ImageRef   string    `json:"image_ref"`
}

func (h *Handler) createGateEvent(c *gin.Context) {
	var req gateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	var (
		verdict *gate.Verdict
		err     error
	)
	if req.ImagePath != "" && req.Plate == "" {
		verdict, err = h.gateService.ProcessImage(c.Request.Context(), req.ImagePath)
	} else {
		ev := gate.RecognitionEvent{
			RawPlate:   req.Plate,
			Confidence: req.Confidence,
			CapturedAt: req.CapturedAt,
			ImageRef:   req.ImageRef,
		}
		verdict, err = h.gateService.ProcessEvent(c.Request.Context(), ev)
	}
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "ok",
		"outcome":     verdict.Outcome,
		"reason":      verdict.Record.Reason,
		"gate_opened": verdict.Record.GateOpened,
		"record_id":   verdict.Record.ID,
		"score":       verdict.Record.Score,
	})
}

func (h *Handler) listRecords(c *gin.Context) {
	var plateQuery *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	records, err := h.gateService.FindRecords(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) getRecord(c *gin.Context) {
	rec, err := h.gateService.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(rec))
}

func (h *Handler) findPlate(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))
	if plateQuery == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}

	activity, err := h.gateService.FindPlate(c.Request.Context(), plateQuery)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(activity))
}

func (h *Handler) reloadRegistry(c *gin.Context) {
	if err := h.gateService.ReloadRegistry(c.Request.Context()); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrSnapshotLoad), errors.Is(err, service.ErrHistoryUnavailable):
		h.log.Error().Err(err).Msg("decision dependency unavailable")
		c.JSON(http.StatusServiceUnavailable, errorResponse("service unavailable"))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
