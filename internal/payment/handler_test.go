package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Pay(t *testing.T) {
	tests := []struct {
		name        string
		primaryErr  error
		secondErr   error
		wantStatus  int
		wantMessage string
		wantSuccess bool
	}{
		{
			name:        "primary gateway",
			wantStatus:  http.StatusOK,
			wantMessage: MessagePrimary,
			wantSuccess: true,
		},
		{
			name:        "secondary gateway",
			primaryErr:  errors.New("down"),
			wantStatus:  http.StatusOK,
			wantMessage: MessageSecondary,
			wantSuccess: true,
		},
		{
			name:        "both down",
			primaryErr:  errors.New("down"),
			secondErr:   errors.New("down"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "payment failed through both gateways",
			wantSuccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(
				&countingGateway{err: tt.primaryErr},
				&countingGateway{err: tt.secondErr},
				DefaultBreakerSettings(),
				quietLogger(),
			)
			h := NewHandler(p, quietLogger())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pay", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Equal(t, tt.wantSuccess, resp.Success)
		})
	}
}

func TestHandler_Health(t *testing.T) {
	p := NewProcessor(&countingGateway{}, &countingGateway{}, DefaultBreakerSettings(), quietLogger())
	h := NewHandler(p, quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status BreakerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "PaymentGatewayCircuitBreaker", status.Name)
	assert.Equal(t, "closed", status.State)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := NewProcessor(&countingGateway{}, &countingGateway{}, DefaultBreakerSettings(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, NewHandler(p, quietLogger()), time.Second, quietLogger())
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/pay", ln.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestSimulator(t *testing.T) {
	s := NewSimulator(0, 0, quietLogger())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.FailureRatio = 1
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, int64(2), s.Served())
	assert.Equal(t, int64(1), s.Failed())
}

func TestSimulatorTripsBreaker(t *testing.T) {
	sim := httptest.NewServer(NewSimulator(1, 0, quietLogger()))
	defer sim.Close()

	primary := NewHTTPGateway(sim.URL+"/payment", time.Second, 0, quietLogger())
	p := NewProcessor(primary, NewSecondaryGateway(quietLogger()), DefaultBreakerSettings(), quietLogger())

	for i := 0; i < 3; i++ {
		msg, err := p.Process(context.Background())
		require.NoError(t, err)
		assert.Equal(t, MessageSecondary, msg)
	}
	assert.Equal(t, "open", p.Status().State)
}
