package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaymentService struct {
	t *testing.T

	createStatus int
	createBody   string
	lockedAfter  int32

	checks atomic.Int32
	mu     sync.Mutex
	got    map[string]map[string]any
}

func newFakePaymentService(t *testing.T) *fakePaymentService {
	return &fakePaymentService{
		t:            t,
		createStatus: http.StatusOK,
		createBody: `{"status":"success","data":{"blockchainIdentifier":"bc-1","payByTime":"1700000000000",` +
			`"submitResultTime":"1700000600000","unlockTime":"1700001200000","externalDisputeUnlockTime":"1700001800000"}}`,
		lockedAfter: 2,
		got:         make(map[string]map[string]any),
	}
}

func (f *fakePaymentService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "api-key", r.Header.Get("token"))

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.got[r.URL.Path] = body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/payment/":
		w.WriteHeader(f.createStatus)
		_, _ = io.WriteString(w, f.createBody)
	case "/payment/resolve-blockchain-identifier":
		state := "WaitingForExternalAction"
		if f.checks.Add(1) >= f.lockedAfter {
			state = "FundsLocked"
		}
		_, _ = io.WriteString(w, `{"status":"success","data":{"onChainState":"`+state+`"}}`)
	case "/payment/submit-result":
		_, _ = io.WriteString(w, `{"status":"success"}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakePaymentService) body(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[path]
}

func newTestClient(baseURL string) *Client {
	return NewClient(&Config{
		BaseURL:            baseURL,
		APIKey:             "api-key",
		AgentIdentifier:    "agent-1",
		Network:            "Preprod",
		PayByWindow:        time.Hour,
		SubmitResultWindow: 12 * time.Hour,
		PollInterval:       5 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_CreatePaymentRequest(t *testing.T) {
	svc := newFakePaymentService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	pr, err := newTestClient(srv.URL).CreatePaymentRequest(context.Background(), Request{
		PurchaserID: "u1",
		InputHash:   "hash-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "bc-1", pr.Reference)
	assert.Equal(t, "1700000000000", pr.Window.PayByTime)
	assert.Equal(t, "1700001800000", pr.Window.ExternalDisputeUnlockTime)

	sent := svc.body("/payment/")
	assert.Equal(t, "agent-1", sent["agentIdentifier"])
	assert.Equal(t, "Preprod", sent["network"])
	assert.Equal(t, "hash-1", sent["inputHash"])
	assert.Equal(t, "u1", sent["identifierFromPurchaser"])
}

func TestClient_CreatePaymentRequestFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"status":"error"}`},
		{name: "non-success status field", status: http.StatusOK, body: `{"status":"error","data":{}}`},
		{name: "missing identifier", status: http.StatusOK, body: `{"status":"success","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakePaymentService(t)
			svc.createStatus = tt.status
			svc.createBody = tt.body
			srv := httptest.NewServer(svc)
			defer srv.Close()

			pr, err := newTestClient(srv.URL).CreatePaymentRequest(context.Background(), Request{PurchaserID: "u1"})
			require.ErrorIs(t, err, domain.ErrPaymentRequest)
			assert.Nil(t, pr)
		})
	}
}

func TestClient_MonitoringDeliversOneConfirmation(t *testing.T) {
	svc := newFakePaymentService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	client := newTestClient(srv.URL)
	events := make(chan Confirmation, 4)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, client.StartMonitoring(ctx, "bc-1", events))
	// request contexts end early; the watch must keep running
	cancel()

	select {
	case ev := <-events:
		assert.Equal(t, "bc-1", ev.Reference)
	case <-time.After(2 * time.Second):
		t.Fatal("no confirmation delivered")
	}

	err := client.StartMonitoring(context.Background(), "bc-1", events)
	require.ErrorIs(t, err, ErrAlreadyMonitoring)

	require.NoError(t, client.StopMonitoring("bc-1"))
	assert.Empty(t, events, "only one confirmation per watch")

	require.ErrorIs(t, client.StopMonitoring("bc-1"), ErrNotMonitoring)
}

func TestClient_CloseStopsAllMonitors(t *testing.T) {
	svc := newFakePaymentService(t)
	svc.lockedAfter = 1 << 30
	srv := httptest.NewServer(svc)
	defer srv.Close()

	client := newTestClient(srv.URL)
	events := make(chan Confirmation)
	require.NoError(t, client.StartMonitoring(context.Background(), "bc-1", events))
	require.NoError(t, client.StartMonitoring(context.Background(), "bc-2", events))

	client.Close()

	require.ErrorIs(t, client.StopMonitoring("bc-1"), ErrNotMonitoring)
	require.ErrorIs(t, client.StopMonitoring("bc-2"), ErrNotMonitoring)
}

func TestClient_MarkComplete(t *testing.T) {
	svc := newFakePaymentService(t)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	evidence := []byte(`{"status":"finished"}`)
	require.NoError(t, newTestClient(srv.URL).MarkComplete(context.Background(), "bc-1", evidence))

	sum := sha256.Sum256(evidence)
	sent := svc.body("/payment/submit-result")
	assert.Equal(t, "bc-1", sent["blockchainIdentifier"])
	assert.Equal(t, hex.EncodeToString(sum[:]), sent["submitResultHash"])
}

func TestClient_MarkCompleteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).MarkComplete(context.Background(), "bc-1", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mark payment complete")
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	in := strings.Repeat("a", 199) + "日本"

	got := truncate(in)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 199)+"...", got)
	assert.Equal(t, "short", truncate("short"))
}
