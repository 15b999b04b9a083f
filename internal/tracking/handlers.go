package tracking

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/session"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Post("/sessions", h.startSession)
	r.Post("/sessions/:id/samples", h.pushSample)
	r.Post("/sessions/:id/errors", h.reportError)
	r.Post("/sessions/:id/pause", h.pauseSession)
	r.Post("/sessions/:id/resume", h.resumeSession)
	r.Post("/sessions/:id/end", h.endSession)
	r.Get("/sessions/:id/summary", h.sessionSummary)
	r.Get("/sessions/:id/samples", h.sessionSamples)
	r.Post("/geofences/validate", h.validateCoordinate)
}

type samplePayload struct {
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	SpeedMps   float64   `json:"speed_mps"`
	HeadingDeg float64   `json:"heading_deg"`
	AltitudeM  float64   `json:"altitude_m"`
}

func (p samplePayload) toSample() position.LocationSample {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return position.LocationSample{
		Timestamp:  ts,
		Lat:        p.Lat,
		Lng:        p.Lng,
		AccuracyM:  p.AccuracyM,
		SpeedMps:   p.SpeedMps,
		HeadingDeg: p.HeadingDeg,
		AltitudeM:  p.AltitudeM,
	}
}

type startSessionRequest struct {
	FirstFix samplePayload `json:"first_fix"`
}

func (h *Handler) startSession(c *fiber.Ctx) error {
	var req startSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	userID, _ := c.Locals("user_id").(string)
	companyID, _ := c.Locals("company_id").(string)

	sess, err := h.svc.Start(c.Context(), userID, companyID, req.FirstFix.toSample())
	if err != nil {
		return trackingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

func (h *Handler) pushSample(c *fiber.Ctx) error {
	var payload samplePayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	if err := h.svc.PushSample(c.Params("id"), payload.toSample()); err != nil {
		return trackingError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

type reportErrorRequest struct {
	Code string `json:"code"`
}

func (h *Handler) reportError(c *fiber.Ctx) error {
	var req reportErrorRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	if err := h.svc.ReportError(c.Params("id"), req.Code); err != nil {
		if errors.Is(err, ErrUnknownErrorCode) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return trackingError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *Handler) pauseSession(c *fiber.Ctx) error {
	if err := h.svc.Pause(c.Context(), c.Params("id")); err != nil {
		return trackingError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) resumeSession(c *fiber.Ctx) error {
	if err := h.svc.Resume(c.Context(), c.Params("id")); err != nil {
		return trackingError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) endSession(c *fiber.Ctx) error {
	sess, err := h.svc.End(c.Context(), c.Params("id"))
	if err != nil {
		return trackingError(c, err)
	}
	return c.JSON(sess)
}

func (h *Handler) sessionSummary(c *fiber.Ctx) error {
	sum, err := h.svc.Summary(c.Context(), c.Params("id"))
	if err != nil {
		return trackingError(c, err)
	}
	return c.JSON(sum)
}

func (h *Handler) sessionSamples(c *fiber.Ctx) error {
	samples, err := h.svc.Samples(c.Context(), c.Params("id"))
	if err != nil {
		return trackingError(c, err)
	}
	return c.JSON(fiber.Map{"samples": samples})
}

type validateRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *Handler) validateCoordinate(c *fiber.Ctx) error {
	var req validateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	companyID, _ := c.Locals("company_id").(string)
	checks, err := h.svc.ValidateCoordinate(c.Context(), companyID, req.Lat, req.Lng)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "geofence lookup failed"})
	}
	return c.JSON(fiber.Map{"fences": checks})
}

func trackingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	case errors.Is(err, session.ErrSessionActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "user already has an active session"})
	case errors.Is(err, session.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "session does not accept this operation"})
	case errors.Is(err, position.ErrPermissionDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "location permission denied"})
	case errors.Is(err, position.ErrInvalidSample):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
