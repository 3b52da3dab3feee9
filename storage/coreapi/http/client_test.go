package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

func newTestServer(t *testing.T, firstStateVersion int64) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(streamTransactionsPath, func(w http.ResponseWriter, r *http.Request) {
		var req streamTransactionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Network != "stokenet" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(errorResponse{Code: 400, Message: "wrong network"})
			return
		}
		resp := streamTransactionsResponse{FromStateVersion: req.FromStateVersion, MaxLedgerStateVersion: 10}
		for v := firstStateVersion; v < firstStateVersion+int64(req.Limit) && v <= 10; v++ {
			tx := coreapi.CommittedTransaction{}
			tx.ResultantStateIdentifiers.StateVersion = v
			tx.LedgerTransaction.Type = coreapi.KindRoundUpdate
			resp.Transactions = append(resp.Transactions, tx)
		}
		resp.Count = len(resp.Transactions)
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc(networkStatusPath, func(w http.ResponseWriter, r *http.Request) {
		var resp networkStatusResponse
		resp.CurrentStateIdentifier.StateVersion = 10
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTransactions(t *testing.T) {
	srv := newTestServer(t, 3)
	client, err := NewClient(srv.URL+"/", "stokenet", time.Second, log.NewDiscardLogger())
	require.NoError(t, err)
	defer client.Close()

	txs, err := client.Transactions(context.Background(), 3, 4)
	require.NoError(t, err)
	require.Len(t, txs, 4)
	require.Equal(t, int64(6), txs[3].StateVersion())

	latest, err := client.LatestStateVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), latest)
}

func TestTransactionsRejectsGap(t *testing.T) {
	srv := newTestServer(t, 5)
	client, err := NewClient(srv.URL, "stokenet", time.Second, log.NewDiscardLogger())
	require.NoError(t, err)

	_, err = client.Transactions(context.Background(), 3, 2)
	require.ErrorContains(t, err, "requested 3")
}

func TestAPIErrorIsReported(t *testing.T) {
	srv := newTestServer(t, 1)
	client, err := NewClient(srv.URL, "mainnet", time.Second, log.NewDiscardLogger())
	require.NoError(t, err)

	_, err = client.Transactions(context.Background(), 1, 1)
	require.ErrorContains(t, err, "wrong network")
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient("", "stokenet", time.Second, log.NewDiscardLogger())
	require.Error(t, err)
	_, err = NewClient("http://localhost", "", time.Second, log.NewDiscardLogger())
	require.Error(t, err)
}
