package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
)

type fakeStatusSource struct {
	watermark *extension.TransactionSummary
	recent    []TransactionSummary
	err       error
	limit     uint64
}

func (s *fakeStatusSource) Watermark(context.Context) (*extension.TransactionSummary, error) {
	return s.watermark, s.err
}

func (s *fakeStatusSource) RecentTransactions(_ context.Context, limit uint64) ([]TransactionSummary, error) {
	s.limit = limit
	return s.recent, s.err
}

func serve(t *testing.T, source StatusSource, target string) *httptest.ResponseRecorder {
	a := NewStatusAPI(source, nil, metrics.NewDefaultRequestMetrics("api_test"), log.NewDiscardLogger())
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Origin", "https://explorer.example")
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := serve(t, &fakeStatusSource{}, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok\n", w.Body.String())
}

func TestStatusOnEmptyLedger(t *testing.T) {
	w := serve(t, &fakeStatusSource{}, "/v1/status")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"ledger_state": null, "recent_transactions": []}`, w.Body.String())
}

func TestStatus(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeStatusSource{
		watermark: &extension.TransactionSummary{StateVersion: 42, Epoch: 3, RoundInEpoch: 7, IndexInRound: 2, NormalizedRoundTimestamp: ts},
		recent: []TransactionSummary{
			{StateVersion: 42, Kind: "user", Epoch: 3, RoundInEpoch: 7, NormalizedRoundTimestamp: ts, ReceiptStatus: "succeeded", FeePaid: common.NewTokenAmountFromInt64(5)},
		},
	}
	w := serve(t, source, "/v1/status?limit=1000")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, maxRecentLimit, source.limit)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, int64(42), status.LedgerState.StateVersion)
	require.Equal(t, int64(2), status.LedgerState.IndexInRound)
	require.Len(t, status.RecentTransactions, 1)
	require.Equal(t, "user", status.RecentTransactions[0].Kind)
	require.Equal(t, "5", status.RecentTransactions[0].FeePaid.String())
}

func TestStatusErrors(t *testing.T) {
	w := serve(t, &fakeStatusSource{}, "/v1/status?limit=many")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, &fakeStatusSource{err: errors.New("connection reset")}, "/v1/status")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body HumanReadableError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "storage error: connection reset", body.Msg)
}

func TestNormalizeEndpoint(t *testing.T) {
	require.Equal(t, "/v1/status", normalizeEndpoint("/v1/status"))
	require.Equal(t, "/v1/transactions/*", normalizeEndpoint("/v1/transactions/12345"))
	require.Equal(t, "/v1/entities/*", normalizeEndpoint("/v1/entities/account_tdx_2_12y0nsx972ueel0args3jnapz9qsexyj9h7sh2rnhe9gwpc9kk6q8vl"))
}
