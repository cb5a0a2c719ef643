package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyhaven/keyhaven-backend/internal/fulfillment"
	internalorders "github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/internal/payments"
	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubOrdersService struct{}

func (stubOrdersService) Create(context.Context, internalorders.CreateOrderInput) (*models.Order, error) {
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "not under test")
}

func (stubOrdersService) Get(context.Context, uuid.UUID) (*models.Order, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

type stubPaymentsService struct{}

func (stubPaymentsService) CreateIntent(context.Context, uuid.UUID) (string, error) {
	return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (stubPaymentsService) Capture(context.Context, payments.CaptureInput) (*models.Order, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

type stubFulfillmentService struct{}

func (stubFulfillmentService) Fulfill(context.Context, fulfillment.FulfillInput) (*fulfillment.FulfillResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
}

func newTestRouter(t *testing.T, registry *prometheus.Registry) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	return NewRouter(cfg, logg, stubPinger{}, stubPinger{}, registry,
		stubOrdersService{}, stubPaymentsService{}, stubFulfillmentService{})
}

func TestRouterHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if got := rec.Header().Get("X-KeyHaven-Env"); got != "test" {
			t.Fatalf("%s: missing env header, got %q", path, got)
		}
	}
}

func TestRouterMetricsOnlyWhenRegistered(t *testing.T) {
	withMetrics := newTestRouter(t, prometheus.NewRegistry())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	withMetrics.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}

	withoutMetrics := newTestRouter(t, nil)
	rec = httptest.NewRecorder()
	withoutMetrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a registry, got %d", rec.Code)
	}
}

func TestRouterOrderRoutesWired(t *testing.T) {
	router := newTestRouter(t, nil)

	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/v1/orders/" + uuid.NewString(), "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/orders", `{"customer_id":"` + uuid.NewString() + `","payment_method":"gateway","lines":[{"product_id":"` + uuid.NewString() + `","qty":1}]}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/orders/" + uuid.NewString() + "/intent", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/orders/" + uuid.NewString() + "/capture", `{"gateway_ref":"ref"}`, http.StatusNotFound},
		{http.MethodPost, "/api/v1/admin/order-items/" + uuid.NewString() + "/fulfill", `{"delivered_key":"key"}`, http.StatusNotFound},
	}

	for _, tc := range cases {
		var req *http.Request
		if tc.body != "" {
			req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		} else {
			req = httptest.NewRequest(tc.method, tc.path, nil)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}
}
