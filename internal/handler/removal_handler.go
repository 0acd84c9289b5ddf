package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type RemovalService interface {
	Create(ctx context.Context, req *domain.RemovalRequest) (*domain.RemovalRequest, error)
	Get(ctx context.Context, id string) (*domain.RemovalRequest, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.RemovalRequest, int64, error)
	Cancel(ctx context.Context, id string, reason string) (*domain.RemovalRequest, error)
}

type AttemptReader interface {
	ListByRemoval(ctx context.Context, removalID string) ([]domain.RemovalAttempt, error)
}

type IntelligenceService interface {
	GetBrokerIntelligence(ctx context.Context, brokerKey string) (*domain.BrokerIntelligence, error)
	AnalyzePatterns(ctx context.Context) ([]domain.Prediction, error)
}

type SuppressionService interface {
	Check(ctx context.Context, email string) (bool, *domain.EmailSuppression, error)
	Unsuppress(ctx context.Context, email string) (*domain.EmailSuppression, error)
}

type RemovalHandler struct {
	service      RemovalService
	attempts     AttemptReader
	intelligence IntelligenceService
	suppressions SuppressionService
}

func NewRemovalHandler(service RemovalService, attempts AttemptReader, intelligence IntelligenceService, suppressions SuppressionService) (*RemovalHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("removal service is required")
	}

	return &RemovalHandler{
		service:      service,
		attempts:     attempts,
		intelligence: intelligence,
		suppressions: suppressions,
	}, nil
}

func RegisterRemovalRoutes(router fiber.Router, service RemovalService, attempts AttemptReader, intelligence IntelligenceService, suppressions SuppressionService) error {
	h, err := NewRemovalHandler(service, attempts, intelligence, suppressions)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/removals", h.CreateRemoval)
	v1.Get("/removals", h.ListRemovals)
	v1.Get("/removals/:id", h.GetRemoval)
	v1.Get("/removals/:id/attempts", h.ListAttempts)
	v1.Post("/removals/:id/cancel", h.CancelRemoval)
	v1.Get("/brokers/:key/intelligence", h.GetBrokerIntelligence)
	v1.Get("/brokers/anomalies", h.ListAnomalies)
	v1.Get("/suppressions/:email", h.GetSuppression)
	v1.Post("/suppressions/:email/unsuppress", h.Unsuppress)

	return nil
}

type createRemovalRequest struct {
	UserID     string `json:"userId"`
	ExposureID string `json:"exposureId"`
	BrokerKey  string `json:"brokerKey"`
	Method     string `json:"method"`
}

type removalResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	ExposureID     string     `json:"exposureId"`
	BrokerKey      string     `json:"brokerKey"`
	Status         string     `json:"status"`
	Method         string     `json:"method"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	LastVerifiedAt *time.Time `json:"lastVerifiedAt,omitempty"`
	VerifyAfter    *time.Time `json:"verifyAfter,omitempty"`
	VerifyCount    int        `json:"verifyCount"`
	AttemptCount   int        `json:"attemptCount"`
	LastError      *string    `json:"lastError,omitempty"`
	NextRetryAt    *time.Time `json:"nextRetryAt,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type listRemovalsResponse struct {
	Data []removalResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type attemptResponse struct {
	ID         string    `json:"id"`
	AttemptNum int       `json:"attemptNum"`
	StatusCode *int      `json:"statusCode,omitempty"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type intelligenceResponse struct {
	BrokerKey   string    `json:"brokerKey"`
	Attempts    int       `json:"attempts"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	SuccessRate float64   `json:"successRate"`
	Risk        string    `json:"risk"`
	WindowFrom  time.Time `json:"windowFrom"`
}

type anomalyResponse struct {
	BrokerKey    string    `json:"brokerKey"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	RecentRate   float64   `json:"recentRate"`
	BaselineRate float64   `json:"baselineRate"`
	ZScore       float64   `json:"zScore"`
	DetectedAt   time.Time `json:"detectedAt"`
}

type suppressionResponse struct {
	Email          string     `json:"email"`
	Suppressed     bool       `json:"suppressed"`
	Reason         *string    `json:"reason,omitempty"`
	BounceCount    int        `json:"bounceCount"`
	FirstBouncedAt *time.Time `json:"firstBouncedAt,omitempty"`
	LastBouncedAt  *time.Time `json:"lastBouncedAt,omitempty"`
}

func (h *RemovalHandler) CreateRemoval(c *fiber.Ctx) error {
	var req createRemovalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	method := domain.MethodAutoEmail
	if strings.TrimSpace(req.Method) != "" {
		parsed, err := domain.ParseRemovalMethod(req.Method)
		if err != nil {
			return toHTTPError(err)
		}
		method = parsed
	}

	removal := domain.RemovalRequest{
		UserID:     strings.TrimSpace(req.UserID),
		ExposureID: strings.TrimSpace(req.ExposureID),
		BrokerKey:  strings.ToUpper(strings.TrimSpace(req.BrokerKey)),
		Status:     domain.RemovalPending,
		Method:     method,
	}

	created, err := h.service.Create(c.Context(), &removal)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toRemovalResponse(created))
}

func (h *RemovalHandler) GetRemoval(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	removal, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRemovalResponse(removal))
}

func (h *RemovalHandler) ListRemovals(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	removals, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]removalResponse, 0, len(removals))
	for i := range removals {
		data = append(data, toRemovalResponse(&removals[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listRemovalsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *RemovalHandler) ListAttempts(c *fiber.Ctx) error {
	if h.attempts == nil {
		return fiber.NewError(fiber.StatusNotFound, "attempt history is not available")
	}

	id := strings.TrimSpace(c.Params("id"))
	if _, err := h.service.Get(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.attempts.ListByRemoval(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:         a.ID,
			AttemptNum: a.AttemptNum,
			StatusCode: a.StatusCode,
			Error:      a.Error,
			CreatedAt:  a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *RemovalHandler) CancelRemoval(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is fine; the reason is optional.
	_ = c.BodyParser(&body)

	removal, err := h.service.Cancel(c.Context(), id, strings.TrimSpace(body.Reason))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRemovalResponse(removal))
}

func (h *RemovalHandler) GetBrokerIntelligence(c *fiber.Ctx) error {
	if h.intelligence == nil {
		return fiber.NewError(fiber.StatusNotFound, "intelligence is not available")
	}

	key := strings.ToUpper(strings.TrimSpace(c.Params("key")))
	intel, err := h.intelligence.GetBrokerIntelligence(c.Context(), key)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(intelligenceResponse{
		BrokerKey:   intel.BrokerKey,
		Attempts:    intel.Attempts,
		Successes:   intel.Successes,
		Failures:    intel.Failures,
		SuccessRate: intel.SuccessRate,
		Risk:        intel.Risk.String(),
		WindowFrom:  intel.WindowFrom,
	})
}

func (h *RemovalHandler) ListAnomalies(c *fiber.Ctx) error {
	if h.intelligence == nil {
		return fiber.NewError(fiber.StatusNotFound, "intelligence is not available")
	}

	predictions, err := h.intelligence.AnalyzePatterns(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]anomalyResponse, 0, len(predictions))
	for _, p := range predictions {
		data = append(data, anomalyResponse{
			BrokerKey:    p.BrokerKey,
			Severity:     string(p.Severity),
			Message:      p.Message,
			RecentRate:   p.RecentRate,
			BaselineRate: p.BaselineRate,
			ZScore:       p.ZScore,
			DetectedAt:   p.DetectedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *RemovalHandler) GetSuppression(c *fiber.Ctx) error {
	if h.suppressions == nil {
		return fiber.NewError(fiber.StatusNotFound, "suppression lookup is not available")
	}

	email := strings.TrimSpace(c.Params("email"))
	allowed, entry, err := h.suppressions.Check(c.Context(), email)
	if err != nil {
		return toHTTPError(err)
	}

	if entry == nil {
		return c.Status(fiber.StatusOK).JSON(suppressionResponse{
			Email:      domain.NormalizeEmail(email),
			Suppressed: !allowed,
		})
	}
	return c.Status(fiber.StatusOK).JSON(toSuppressionResponse(entry))
}

func (h *RemovalHandler) Unsuppress(c *fiber.Ctx) error {
	if h.suppressions == nil {
		return fiber.NewError(fiber.StatusNotFound, "suppression lookup is not available")
	}

	email := strings.TrimSpace(c.Params("email"))
	entry, err := h.suppressions.Unsuppress(c.Context(), email)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSuppressionResponse(entry))
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseRemovalStatus(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		params.UserID = &userID
	}
	if broker := strings.ToUpper(strings.TrimSpace(c.Query("broker"))); broker != "" {
		params.BrokerKey = &broker
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toRemovalResponse(r *domain.RemovalRequest) removalResponse {
	if r == nil {
		return removalResponse{}
	}

	return removalResponse{
		ID:             r.ID,
		UserID:         r.UserID,
		ExposureID:     r.ExposureID,
		BrokerKey:      r.BrokerKey,
		Status:         r.Status.String(),
		Method:         r.Method.String(),
		SubmittedAt:    r.SubmittedAt,
		CompletedAt:    r.CompletedAt,
		LastVerifiedAt: r.LastVerifiedAt,
		VerifyAfter:    r.VerifyAfter,
		VerifyCount:    r.VerifyCount,
		AttemptCount:   r.AttemptCount,
		LastError:      r.LastError,
		NextRetryAt:    r.NextRetryAt,
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toSuppressionResponse(e *domain.EmailSuppression) suppressionResponse {
	resp := suppressionResponse{
		Email:          e.Email,
		Suppressed:     e.Suppressed,
		BounceCount:    e.BounceCount,
		FirstBouncedAt: e.FirstBouncedAt,
		LastBouncedAt:  e.LastBouncedAt,
	}
	if e.Reason != nil {
		reason := e.Reason.String()
		resp.Reason = &reason
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
