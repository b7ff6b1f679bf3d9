package main

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradepulse/internal/analytics"
	"tradepulse/internal/config"
	"tradepulse/internal/errs"
	"tradepulse/internal/middleware"
	"tradepulse/internal/models"
	"tradepulse/internal/syncer"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type mockSync struct {
	mock.Mock
}

func (m *mockSync) Connect(ctx context.Context, userID string, broker models.Broker, in syncer.ConnectInput) (*models.BrokerAccount, error) {
	args := m.Called(ctx, userID, broker, in)
	account, _ := args.Get(0).(*models.BrokerAccount)
	return account, args.Error(1)
}

func (m *mockSync) TestConnection(ctx context.Context, userID string, broker models.Broker) error {
	return m.Called(ctx, userID, broker).Error(0)
}

func (m *mockSync) Sync(ctx context.Context, userID string, broker models.Broker) (syncer.Result, error) {
	args := m.Called(ctx, userID, broker)
	return args.Get(0).(syncer.Result), args.Error(1)
}

func (m *mockSync) ImportCSV(ctx context.Context, userID string, broker models.Broker, kind syncer.ImportKind, r io.Reader) (syncer.ImportResult, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(ctx, userID, broker, kind, string(body))
	return args.Get(0).(syncer.ImportResult), args.Error(1)
}

type mockSummaries struct {
	mock.Mock
}

func (m *mockSummaries) Summary(ctx context.Context, userID, rangeParam, tz string) (analytics.Summary, error) {
	args := m.Called(ctx, userID, rangeParam, tz)
	return args.Get(0).(analytics.Summary), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) ListExecutions(ctx context.Context, userID string, brokers []models.Broker, limit int) ([]models.Execution, error) {
	args := m.Called(ctx, userID, brokers, limit)
	return args.Get(0).([]models.Execution), args.Error(1)
}

type testServer struct {
	handler   http.Handler
	sync      *mockSync
	summaries *mockSummaries
	ledger    *mockLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{sync: &mockSync{}, summaries: &mockSummaries{}, ledger: &mockLedger{}}
	cfg := config.Config{Auth: config.Auth{JWTSecret: testSecret}, Server: config.Server{AllowedOrigins: "*"}}
	s.handler = NewAPIHandler(zap.NewNop(), s.sync, s.summaries, s.ledger).Routes(cfg)
	t.Cleanup(func() {
		s.sync.AssertExpectations(t)
		s.summaries.AssertExpectations(t)
		s.ledger.AssertExpectations(t)
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	token, err := middleware.GenerateToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthNeedsNoToken(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/me/bybit-futures/sync", "/integrations/bybit-futures/test"} {
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestSyncHandler(t *testing.T) {
	s := newTestServer(t)
	to := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.sync.On("Sync", mock.Anything, "u1", models.BrokerBybitFutures).
		Return(syncer.Result{State: syncer.StateSynced, Imported: 4, To: to, Windows: 2}, nil)

	rec := s.do(t, http.MethodPost, "/me/bybit-futures/sync", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res syncer.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(4), res.Imported)
	assert.Equal(t, syncer.StateSynced, res.State)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   errorResponse
	}{
		{
			name:   "Busy",
			err:    errs.New(errs.KindBusy),
			status: http.StatusConflict,
			body:   errorResponse{Error: "sync already in progress", Kind: errs.KindBusy},
		},
		{
			name:   "ExchangeFailure",
			err:    errs.New(errs.KindExchange, errs.WithExchange("bybit"), errs.WithRawCode("10016"), errs.WithRawMessage("service error"), errs.WithHTTP(200)),
			status: http.StatusBadGateway,
			body:   errorResponse{Error: "sync failed: 10016 service error", Kind: errs.KindExchange, Code: "10016", Status: 200},
		},
		{
			name:   "RegionBlocked",
			err:    errs.New(errs.KindCredential, errs.WithReason(errs.ReasonRegionBlocked), errs.WithHTTP(451)),
			status: http.StatusBadRequest,
			body:   errorResponse{Error: "region blocked", Kind: errs.KindCredential, Status: 451},
		},
		{
			name:   "Timeout",
			err:    context.DeadlineExceeded,
			status: http.StatusGatewayTimeout,
			body:   errorResponse{Error: "sync failed: timed out", Kind: errs.KindTimeout},
		},
		{
			name:   "NotConnected",
			err:    errs.New(errs.KindNotConnected),
			status: http.StatusBadRequest,
			body:   errorResponse{Error: "not connected", Kind: errs.KindNotConnected},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			s.sync.On("Sync", mock.Anything, "u1", models.BrokerBinanceFutures).Return(syncer.Result{State: syncer.StateFailed}, tc.err)

			rec := s.do(t, http.MethodPost, "/me/binance-futures/sync", nil, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.body, decodeError(t, rec))
		})
	}
}

func TestUnknownBroker(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/me/kraken/sync", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported broker kraken", decodeError(t, rec).Error)
}

func TestConnectHandler(t *testing.T) {
	s := newTestServer(t)
	in := syncer.ConnectInput{APIKey: "key", APISecret: "secret", Category: "linear"}
	s.sync.On("Connect", mock.Anything, "u1", models.BrokerBybitFutures, in).
		Return(&models.BrokerAccount{ID: "acc-1", Broker: models.BrokerBybitFutures, APIKeyEnc: "sealed"}, nil)

	rec := s.do(t, http.MethodPost, "/integrations/bybit-futures/connect",
		bytes.NewBufferString(`{"apiKey":"key","apiSecret":"secret","category":"linear"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"acc-1"`)
	assert.NotContains(t, rec.Body.String(), "sealed", "ciphertext is never rendered")
}

func TestConnectHandler_BadBody(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/integrations/bybit-futures/connect", bytes.NewBufferString("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestHandler(t *testing.T) {
	s := newTestServer(t)
	s.sync.On("TestConnection", mock.Anything, "u1", models.BrokerBinanceFutures).
		Return(errs.New(errs.KindCredential, errs.WithReason(errs.ReasonRejected), errs.WithHTTP(401)))

	rec := s.do(t, http.MethodPost, "/integrations/binance-futures/test", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "credentials rejected", decodeError(t, rec).Error)
}

func multipartBody(t *testing.T, field, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "export.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestImportHandler(t *testing.T) {
	s := newTestServer(t)
	csv := "Symbol,Side,Qty,Exit Price\nBTCUSDT,BUY,1,100\n"
	s.sync.On("ImportCSV", mock.Anything, "u1", models.BrokerBybitFutures, syncer.ImportTrades, csv).
		Return(syncer.ImportResult{Imported: 1, Considered: 1, Accepted: 1}, nil)

	body, contentType := multipartBody(t, "file", csv)
	rec := s.do(t, http.MethodPost, "/me/bybit-futures/import?kind=trades", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"imported":1,"considered":1,"accepted":1}`, rec.Body.String())
}

func TestImportHandler_Rejections(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartBody(t, "upload", "x")
	rec := s.do(t, http.MethodPost, "/me/bybit-futures/import", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing file field", decodeError(t, rec).Error)

	body, contentType = multipartBody(t, "file", "x")
	rec = s.do(t, http.MethodPost, "/me/bybit-futures/import?kind=orders", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutionsHandler(t *testing.T) {
	s := newTestServer(t)
	brokers := []models.Broker{models.BrokerBinanceFutures, models.BrokerBinanceFuturesCSV}
	s.ledger.On("ListExecutions", mock.Anything, "u1", brokers, 5).Return([]models.Execution{{ID: "e1", Symbol: "BTCUSDT"}}, nil)

	rec := s.do(t, http.MethodGet, "/me/binance-futures/executions?limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "BTCUSDT", rows[0].Symbol)
}

func TestExecutionsHandler_DefaultLimit(t *testing.T) {
	s := newTestServer(t)
	brokers := []models.Broker{models.BrokerBybitFutures, models.BrokerBybitFuturesCSV}
	s.ledger.On("ListExecutions", mock.Anything, "u1", brokers, 200).Return([]models.Execution{}, nil)

	rec := s.do(t, http.MethodGet, "/me/bybit-futures/executions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/me/bybit-futures/executions?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryHandler(t *testing.T) {
	s := newTestServer(t)
	s.summaries.On("Summary", mock.Anything, "u1", "7d", "Europe/Berlin").
		Return(analytics.Summary{Range: analytics.Range7d, KPIs: analytics.KPIs{TradeCount: 3}}, nil)

	rec := s.do(t, http.MethodGet, "/me/summary?range=7d&tz=Europe/Berlin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary analytics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.KPIs.TradeCount)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(errs.KindNoValidRows))
	assert.Equal(t, http.StatusBadGateway, statusFor(errs.KindTransport))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errs.KindConfig))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errs.KindStorage))
}
