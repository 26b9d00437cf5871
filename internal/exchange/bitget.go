package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/unwinned/optisoft/pkg/ratelimit"
)

const (
	bitgetBaseURL      = "https://api.bitget.com"
	bitgetTransferType = "on_chain"
)

func init() {
	registry["bitget"] = func(creds Credentials, proxyURL string) (Gateway, error) {
		return newBitget(bitgetBaseURL, creds, proxyURL), nil
	}
}

// bitgetGateway talks to the Bitget v2 spot REST API. Same single-owner
// contract as the OKX gateway: one instance per account run.
type bitgetGateway struct {
	client    *resty.Client
	creds     Credentials
	limits    *ratelimit.Manager
	closeOnce sync.Once
}

func newBitget(baseURL string, creds Credentials, proxyURL string) *bitgetGateway {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &bitgetGateway{client: client, creds: creds, limits: ratelimit.NewBitgetManager()}
}

// bitgetEnvelope is the uniform v2 response wrapper.
type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type bitgetCoin struct {
	Coin   string `json:"coin"`
	Chains []struct {
		Chain             string `json:"chain"`
		Withdrawable      string `json:"withdrawable"` // "true" / "false"
		WithdrawFee       string `json:"withdrawFee"`
		MinWithdrawAmount string `json:"minWithdrawAmount"`
	} `json:"chains"`
}

type bitgetAsset struct {
	Coin      string `json:"coin"`
	Available string `json:"available"`
}

type bitgetWithdrawResult struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientOid"`
}

type bitgetWithdrawRecord struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientOid"`
	Coin     string `json:"coin"`
	Chain    string `json:"chain"`
	Size     string `json:"size"`
	Status   string `json:"status"`
}

func (g *bitgetGateway) Authenticate(ctx context.Context) error {
	var out []bitgetAsset
	return g.call(ctx, http.MethodGet, "/api/v2/spot/account/assets", nil, nil, &out)
}

func (g *bitgetGateway) FetchNetworkInfo(ctx context.Context, currency string) (map[string]NetworkInfo, error) {
	coin := strings.ToUpper(currency)
	query := url.Values{}
	query.Set("coin", coin)

	var out []bitgetCoin
	if err := g.call(ctx, http.MethodGet, "/api/v2/spot/public/coins", query, nil, &out); err != nil {
		return nil, err
	}

	info := map[string]NetworkInfo{}
	for _, c := range out {
		if !strings.EqualFold(c.Coin, coin) {
			continue
		}
		for _, ch := range c.Chains {
			info[ch.Chain] = NetworkInfo{
				ExchangeID:      ch.Chain,
				WithdrawEnabled: ch.Withdrawable == "true",
				Fee:             parseDecimal(ch.WithdrawFee),
				MinWithdrawal:   parseDecimal(ch.MinWithdrawAmount),
			}
		}
	}
	return info, nil
}

func (g *bitgetGateway) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("coin", strings.ToUpper(currency))

	var out []bitgetAsset
	if err := g.call(ctx, http.MethodGet, "/api/v2/spot/account/assets", query, nil, &out); err != nil {
		return decimal.Zero, err
	}
	if len(out) == 0 {
		return decimal.Zero, nil
	}
	return parseDecimal(out[0].Available), nil
}

func (g *bitgetGateway) SubmitWithdrawal(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error) {
	body := map[string]string{
		"coin":         strings.ToUpper(req.Currency),
		"transferType": bitgetTransferType,
		"address":      req.Address,
		"chain":        req.NetworkID,
		"size":         req.Amount.String(),
	}
	if req.ClientID != "" {
		body["clientOid"] = req.ClientID
	}

	var out bitgetWithdrawResult
	if err := g.call(ctx, http.MethodPost, "/api/v2/spot/wallet/withdrawal", nil, body, &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		return nil, &APIError{Code: "0", Msg: "withdrawal accepted but no reference returned"}
	}
	return &Withdrawal{
		ID:       out.OrderID,
		ClientID: out.ClientID,
		Currency: strings.ToUpper(req.Currency),
		Chain:    req.NetworkID,
		Amount:   req.Amount,
	}, nil
}

// bitget withdrawal statuses that are still in flight; "success" and "fail"
// are final.
var bitgetPendingStates = map[string]bool{
	"pending": true, "processing": true, "broadcasting": true,
}

func (g *bitgetGateway) PendingWithdrawal(ctx context.Context, currency, clientID string) (*Withdrawal, bool, error) {
	query := url.Values{}
	query.Set("coin", strings.ToUpper(currency))
	// the records endpoint requires a time window
	now := time.Now().UnixMilli()
	query.Set("startTime", strconv.FormatInt(now-24*int64(time.Hour/time.Millisecond), 10))
	query.Set("endTime", strconv.FormatInt(now, 10))
	if clientID != "" {
		query.Set("clientOid", clientID)
	}

	var out []bitgetWithdrawRecord
	if err := g.call(ctx, http.MethodGet, "/api/v2/spot/wallet/withdrawal-records", query, nil, &out); err != nil {
		return nil, false, err
	}
	for _, item := range out {
		if clientID != "" && item.ClientID != clientID {
			continue
		}
		if bitgetPendingStates[item.Status] {
			return &Withdrawal{
				ID:       item.OrderID,
				ClientID: item.ClientID,
				Currency: item.Coin,
				Chain:    item.Chain,
				Amount:   parseDecimal(item.Size),
			}, true, nil
		}
	}
	return nil, false, nil
}

func (g *bitgetGateway) NetworkID(internalName string) (string, bool) {
	id, ok := bitgetNetworkIDs[internalName]
	return id, ok
}

func (g *bitgetGateway) Close() error {
	g.closeOnce.Do(func() {
		g.client.GetClient().CloseIdleConnections()
	})
	return nil
}

// call signs and executes one v2 request, unwrapping the response envelope
// into out and translating failures into the package error taxonomy.
func (g *bitgetGateway) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := g.limits.Wait(ctx, strings.TrimPrefix(path, "/api/v2/")); err != nil {
		return err
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	payload := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "bitget: marshal request")
		}
		payload = string(raw)
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req := g.client.R().
		SetContext(ctx).
		SetHeader("ACCESS-KEY", g.creds.APIKey).
		SetHeader("ACCESS-SIGN", g.sign(ts, method, requestPath, payload)).
		SetHeader("ACCESS-TIMESTAMP", ts).
		SetHeader("ACCESS-PASSPHRASE", g.creds.Passphrase)
	if payload != "" {
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, requestPath)
	if err != nil {
		return &ConnError{Err: err}
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized, resp.StatusCode() == http.StatusForbidden:
		return errors.Wrapf(ErrAuth, "http %d", resp.StatusCode())
	case resp.StatusCode() == http.StatusTooManyRequests, resp.StatusCode() >= 500:
		return &ConnError{Err: fmt.Errorf("http %d: %s", resp.StatusCode(), resp.Status())}
	}

	var env bitgetEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &ConnError{Err: errors.Wrap(err, "bitget: decode response")}
	}
	if env.Code != "00000" {
		if bitgetAuthCodes[env.Code] {
			return errors.Wrapf(ErrAuth, "code %s: %s", env.Code, env.Msg)
		}
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "bitget: decode data")
		}
	}
	return nil
}

// sign builds the ACCESS-SIGN header: base64(hmac-sha256(ts+method+path+body)),
// timestamp in unix milliseconds.
func (g *bitgetGateway) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(g.creds.SecretKey))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Credential-related v2 error codes. Treated as fatal authentication failures.
var bitgetAuthCodes = map[string]bool{
	"40001": true, "40002": true, "40003": true, "40006": true,
	"40007": true, "40008": true, "40009": true, "40011": true,
	"40012": true, "40037": true,
}
