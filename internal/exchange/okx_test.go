package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestOKX(t *testing.T, handler http.HandlerFunc) *okxGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newOKX(srv.URL, Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"}, "")
}

func TestSign(t *testing.T) {
	g := newOKX(okxBaseURL, Credentials{SecretKey: "secret"}, "")
	// Known vector: hmac-sha256("secret", "2024-01-01T00:00:00.000ZGET/api/v5/asset/currencies")
	got := g.sign("2024-01-01T00:00:00.000Z", "GET", "/api/v5/asset/currencies", "")
	require.Equal(t, "ZRTILNFu0Hqu9raQkeVSIlViSfER700TtEGJIgXApJY=", got)
}

func TestFetchNetworkInfo(t *testing.T) {
	g := newTestOKX(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/asset/currencies", r.URL.Path)
		require.Equal(t, "ETH", r.URL.Query().Get("ccy"))
		require.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "0", "msg": "",
			"data": []map[string]any{
				{"ccy": "ETH", "chain": "ETH-Arbitrum One", "canWd": true, "minFee": "0.0001", "minWd": "0.001"},
				{"ccy": "ETH", "chain": "ETH-Base", "canWd": false, "minFee": "0.00004", "minWd": "0.001"},
				{"ccy": "USDT", "chain": "USDT-TRC20", "canWd": true, "minFee": "1", "minWd": "2"},
			},
		})
	})

	info, err := g.FetchNetworkInfo(context.Background(), "eth")
	require.NoError(t, err)
	require.Len(t, info, 2) // USDT row filtered out

	arb := info["Arbitrum One"]
	require.True(t, arb.WithdrawEnabled)
	require.True(t, arb.Fee.Equal(decimal.RequireFromString("0.0001")))
	require.True(t, arb.MinWithdrawal.Equal(decimal.RequireFromString("0.001")))
	require.False(t, info["Base"].WithdrawEnabled)
}

func TestFetchNetworkInfoUnknownCurrency(t *testing.T) {
	g := newTestOKX(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "0", "msg": "", "data": []any{}})
	})

	info, err := g.FetchNetworkInfo(context.Background(), "NOPE")
	require.NoError(t, err)
	require.Empty(t, info)
}

func TestSubmitWithdrawal(t *testing.T) {
	var gotBody map[string]string
	g := newTestOKX(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v5/asset/withdrawal", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "0", "msg": "",
			"data": []map[string]any{
				{"wdId": "67485", "clientId": "cid-1", "ccy": "ETH", "chain": "ETH-Base", "amt": "0.0123"},
			},
		})
	})

	wd, err := g.SubmitWithdrawal(context.Background(), WithdrawalRequest{
		Currency:  "ETH",
		Amount:    decimal.RequireFromString("0.0123"),
		Address:   "0xabc",
		NetworkID: "Base",
		Fee:       decimal.RequireFromString("0.00004"),
		ClientID:  "cid-1",
	})
	require.NoError(t, err)
	require.Equal(t, "67485", wd.ID)

	require.Equal(t, "ETH-Base", gotBody["chain"])
	require.Equal(t, okxDestOnChain, gotBody["dest"])
	require.Equal(t, "0xabc", gotBody["toAddr"])
	require.Equal(t, "0.0123", gotBody["amt"])
	require.Equal(t, "cid-1", gotBody["clientId"])
}

func TestAuthErrorClassification(t *testing.T) {
	g := newTestOKX(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "50111", "msg": "Invalid OK-ACCESS-KEY", "data": []any{}})
	})

	err := g.Authenticate(context.Background())
	require.ErrorIs(t, err, ErrAuth)
}

func TestAPIErrorClassification(t *testing.T) {
	g := newTestOKX(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "58207", "msg": "Withdrawal address is not in the whitelist", "data": []any{}})
	})

	_, err := g.SubmitWithdrawal(context.Background(), WithdrawalRequest{Currency: "ETH", Amount: decimal.New(1, -2)})
	ae, ok := AsAPIError(err)
	require.True(t, ok)
	require.False(t, ae.Retryable())
}

func TestServerErrorIsConn(t *testing.T) {
	g := newTestOKX(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := g.Authenticate(context.Background())
	require.True(t, IsConn(err))
}

func TestPendingWithdrawal(t *testing.T) {
	g := newTestOKX(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/asset/withdrawal-history", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "0", "msg": "",
			"data": []map[string]any{
				{"wdId": "1", "clientId": "other", "state": "1", "ccy": "ETH", "chain": "ETH-Base", "amt": "0.1"},
				{"wdId": "2", "clientId": "mine", "state": "2", "ccy": "ETH", "chain": "ETH-Base", "amt": "0.2"},
				{"wdId": "3", "clientId": "mine", "state": "1", "ccy": "ETH", "chain": "ETH-Base", "amt": "0.3"},
			},
		})
	})

	wd, pending, err := g.PendingWithdrawal(context.Background(), "ETH", "mine")
	require.NoError(t, err)
	require.True(t, pending)
	require.Equal(t, "3", wd.ID) // state 2 is final, state 1 is in flight
}

func TestCloseIdempotent(t *testing.T) {
	g := newOKX(okxBaseURL, Credentials{}, "")
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		msg       string
		retryable bool
	}{
		{"Insufficient balance", false},
		{"Withdrawal address is not in the whitelist", false},
		{"Requests too frequent", true},
		{"Service temporarily unavailable", true},
	}
	for _, tc := range cases {
		ae := &APIError{Code: "x", Msg: tc.msg}
		if ae.Retryable() != tc.retryable {
			t.Fatalf("Retryable(%q) = %v, want %v", tc.msg, ae.Retryable(), tc.retryable)
		}
	}
}

func TestNewUnsupportedExchange(t *testing.T) {
	_, err := New("bitfinex", Credentials{}, "")
	require.Error(t, err)

	gw, err := New("OKX", Credentials{APIKey: "k"}, "")
	require.NoError(t, err)
	require.NoError(t, gw.Close())
}

func TestNetworkID(t *testing.T) {
	g := newOKX(okxBaseURL, Credentials{}, "")
	id, ok := g.NetworkID(NetworkArbitrum)
	require.True(t, ok)
	require.Equal(t, "Arbitrum One", id)

	_, ok = g.NetworkID("Solana")
	require.False(t, ok)
}
