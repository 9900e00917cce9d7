package ordergateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/luminstall/fieldops-backend/pkg/config"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	pkgerrors "github.com/luminstall/fieldops-backend/pkg/errors"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(config.OrderGatewayConfig{
		BaseURL: "http://orders.test/",
		APIKey:  "test-key",
	}, WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientGetOrderStatus(t *testing.T) {
	orderID := uuid.New()

	var capturedURL string
	var capturedHeaders http.Header
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"status":"ready_for_scheduling"}`)),
			Header:     http.Header{},
		}, nil
	})

	status, err := client.GetOrderStatus(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order status: %v", err)
	}
	if status != enums.OrderStatusReadyForScheduling {
		t.Fatalf("unexpected status %q", status)
	}
	if capturedURL != "http://orders.test/v1/orders/"+orderID.String()+"/status" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedHeaders.Get("X-Api-Key") != "test-key" {
		t.Fatalf("api key header missing")
	}
}

func TestClientGetOrderStatusNotFound(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader(`{"error":"no such order"}`)),
			Header:     http.Header{},
		}, nil
	})

	_, err := client.GetOrderStatus(context.Background(), uuid.New())
	coded := pkgerrors.As(err)
	if coded == nil || coded.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestClientSetOrderStatus(t *testing.T) {
	orderID := uuid.New()

	var capturedMethod string
	var capturedBody map[string]string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedMethod = req.Method
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(bodyBytes, &capturedBody); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
		}, nil
	})

	if err := client.SetOrderStatus(context.Background(), orderID, enums.OrderStatusScheduled); err != nil {
		t.Fatalf("set order status: %v", err)
	}
	if capturedMethod != http.MethodPut {
		t.Fatalf("unexpected method %q", capturedMethod)
	}
	if capturedBody["status"] != "scheduled" {
		t.Fatalf("unexpected body %+v", capturedBody)
	}
}

func TestClientSetOrderStatusRejectedTransition(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusConflict,
			Body:       io.NopCloser(strings.NewReader(`{"error":"order already cancelled"}`)),
			Header:     http.Header{},
		}, nil
	})

	err := client.SetOrderStatus(context.Background(), uuid.New(), enums.OrderStatusScheduled)
	coded := pkgerrors.As(err)
	if coded == nil || coded.Code() != pkgerrors.CodeOrderState {
		t.Fatalf("expected order state error, got %v", err)
	}
}
