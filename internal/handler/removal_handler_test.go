package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/repository"
	"github.com/optoutly/removal-engine/internal/transport"
	"go.uber.org/zap"
)

type fakeRemovalService struct {
	createFn func(ctx context.Context, req *domain.RemovalRequest) (*domain.RemovalRequest, error)
	getFn    func(ctx context.Context, id string) (*domain.RemovalRequest, error)
	listFn   func(ctx context.Context, params repository.ListParams) ([]domain.RemovalRequest, int64, error)
	cancelFn func(ctx context.Context, id, reason string) (*domain.RemovalRequest, error)
}

func (f *fakeRemovalService) Create(ctx context.Context, req *domain.RemovalRequest) (*domain.RemovalRequest, error) {
	return f.createFn(ctx, req)
}

func (f *fakeRemovalService) Get(ctx context.Context, id string) (*domain.RemovalRequest, error) {
	return f.getFn(ctx, id)
}

func (f *fakeRemovalService) List(ctx context.Context, params repository.ListParams) ([]domain.RemovalRequest, int64, error) {
	return f.listFn(ctx, params)
}

func (f *fakeRemovalService) Cancel(ctx context.Context, id, reason string) (*domain.RemovalRequest, error) {
	return f.cancelFn(ctx, id, reason)
}

type fakeAttemptReader struct {
	attempts []domain.RemovalAttempt
}

func (f *fakeAttemptReader) ListByRemoval(ctx context.Context, removalID string) ([]domain.RemovalAttempt, error) {
	return f.attempts, nil
}

func newRemovalApp(t *testing.T, svc RemovalService, attempts AttemptReader) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterRemovalRoutes(app, svc, attempts, nil, nil); err != nil {
		t.Fatalf("RegisterRemovalRoutes: %v", err)
	}
	return app
}

func sampleRemoval(id string) *domain.RemovalRequest {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return &domain.RemovalRequest{
		ID:         id,
		UserID:     "5a0c0c3e-5f9e-4a9e-9d38-8c2a2f1b0001",
		ExposureID: "5a0c0c3e-5f9e-4a9e-9d38-8c2a2f1b0002",
		BrokerKey:  "RADARIS",
		Status:     domain.RemovalPending,
		Method:     domain.MethodAutoEmail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateRemoval(t *testing.T) {
	t.Parallel()

	svc := &fakeRemovalService{
		createFn: func(ctx context.Context, req *domain.RemovalRequest) (*domain.RemovalRequest, error) {
			created := *req
			created.ID = "removal-1"
			return &created, nil
		},
	}
	app := newRemovalApp(t, svc, nil)

	body := `{"userId":"u-1","exposureId":"e-1","brokerKey":"radaris"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/removals", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var got removalResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BrokerKey != "RADARIS" {
		t.Errorf("brokerKey = %q, want upper-cased RADARIS", got.BrokerKey)
	}
	if got.Status != "PENDING" {
		t.Errorf("status = %q, want PENDING", got.Status)
	}
	if got.Method != "AUTO_EMAIL" {
		t.Errorf("method = %q, want default AUTO_EMAIL", got.Method)
	}
}

func TestCreateRemoval_ValidationError(t *testing.T) {
	t.Parallel()

	svc := &fakeRemovalService{
		createFn: func(ctx context.Context, req *domain.RemovalRequest) (*domain.RemovalRequest, error) {
			return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
		},
	}
	app := newRemovalApp(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/removals", strings.NewReader(`{}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetRemoval_NotFound(t *testing.T) {
	t.Parallel()

	svc := &fakeRemovalService{
		getFn: func(ctx context.Context, id string) (*domain.RemovalRequest, error) {
			return nil, domain.ErrNotFound
		},
	}
	app := newRemovalApp(t, svc, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/removals/missing", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelRemoval_InvalidTransition(t *testing.T) {
	t.Parallel()

	svc := &fakeRemovalService{
		cancelFn: func(ctx context.Context, id, reason string) (*domain.RemovalRequest, error) {
			return nil, fmt.Errorf("%w: COMPLETED -> CANCELLED", domain.ErrInvalidTransition)
		},
	}
	app := newRemovalApp(t, svc, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/v1/removals/removal-1/cancel", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCancelRemoval_PassesReason(t *testing.T) {
	t.Parallel()

	var gotReason string
	svc := &fakeRemovalService{
		cancelFn: func(ctx context.Context, id, reason string) (*domain.RemovalRequest, error) {
			gotReason = reason
			r := sampleRemoval(id)
			r.Status = domain.RemovalCancelled
			return r, nil
		},
	}
	app := newRemovalApp(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/removals/removal-1/cancel", strings.NewReader(`{"reason":"user opted out of automation"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if gotReason != "user opted out of automation" {
		t.Errorf("reason = %q", gotReason)
	}
}

func TestListRemovals_Params(t *testing.T) {
	t.Parallel()

	var got repository.ListParams
	svc := &fakeRemovalService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.RemovalRequest, int64, error) {
			got = params
			return []domain.RemovalRequest{*sampleRemoval("removal-1")}, 1, nil
		},
	}
	app := newRemovalApp(t, svc, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/removals?status=PENDING&broker=RADARIS&page=2&pageSize=10", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got.Status == nil || *got.Status != domain.RemovalPending {
		t.Errorf("status filter = %v, want PENDING", got.Status)
	}
	if got.BrokerKey == nil || *got.BrokerKey != "RADARIS" {
		t.Errorf("broker filter = %v, want RADARIS", got.BrokerKey)
	}
	if got.Page != 2 || got.PageSize != 10 {
		t.Errorf("page = %d size = %d, want 2/10", got.Page, got.PageSize)
	}

	var body listRemovalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Meta.Total != 1 || len(body.Data) != 1 {
		t.Errorf("meta.total = %d data = %d, want 1/1", body.Meta.Total, len(body.Data))
	}
}

func TestListRemovals_BadStatus(t *testing.T) {
	t.Parallel()

	app := newRemovalApp(t, &fakeRemovalService{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/removals?status=EXPLODED", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListAttempts(t *testing.T) {
	t.Parallel()

	code := 202
	svc := &fakeRemovalService{
		getFn: func(ctx context.Context, id string) (*domain.RemovalRequest, error) {
			return sampleRemoval(id), nil
		},
	}
	attempts := &fakeAttemptReader{attempts: []domain.RemovalAttempt{
		{ID: "a-1", RemovalID: "removal-1", BrokerKey: "RADARIS", AttemptNum: 1, StatusCode: &code},
	}}
	app := newRemovalApp(t, svc, attempts)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/removals/removal-1/attempts", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Data []attemptResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].AttemptNum != 1 {
		t.Fatalf("unexpected attempts payload: %+v", body.Data)
	}
}

func TestOptionalServicesAnswerNotFound(t *testing.T) {
	t.Parallel()

	app := newRemovalApp(t, &fakeRemovalService{}, nil)

	for _, path := range []string{
		"/v1/brokers/RADARIS/intelligence",
		"/v1/brokers/anomalies",
		"/v1/suppressions/privacy%40radaris.example",
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("app.Test(%s): %v", path, err)
		}
		if resp.StatusCode != fiber.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, resp.StatusCode)
		}
	}
}
