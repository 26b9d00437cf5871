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
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/unwinned/optisoft/pkg/ratelimit"
)

const (
	okxBaseURL     = "https://www.okx.com"
	okxTimeFormat  = "2006-01-02T15:04:05.000Z"
	okxDestOnChain = "4"
)

func init() {
	registry["okx"] = func(creds Credentials, proxyURL string) (Gateway, error) {
		return newOKX(okxBaseURL, creds, proxyURL), nil
	}
}

// okxGateway talks to the OKX v5 REST API. One instance per account run; it
// is not safe for concurrent use, which matches the strictly sequential
// withdrawal flow.
type okxGateway struct {
	client    *resty.Client
	creds     Credentials
	limits    *ratelimit.Manager
	closeOnce sync.Once
}

func newOKX(baseURL string, creds Credentials, proxyURL string) *okxGateway {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &okxGateway{client: client, creds: creds, limits: ratelimit.NewOKXManager()}
}

// okxEnvelope is the uniform v5 response wrapper.
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type okxCurrency struct {
	Currency      string `json:"ccy"`
	Chain         string `json:"chain"` // e.g. "ETH-Arbitrum One"
	CanWithdraw   bool   `json:"canWd"`
	MinFee        string `json:"minFee"`
	MinWithdrawal string `json:"minWd"`
}

type okxAssetBalance struct {
	Currency  string `json:"ccy"`
	Available string `json:"availBal"`
}

type okxWithdrawResult struct {
	WithdrawalID string `json:"wdId"`
	ClientID     string `json:"clientId"`
	Currency     string `json:"ccy"`
	Chain        string `json:"chain"`
	Amount       string `json:"amt"`
}

type okxWithdrawHistoryItem struct {
	WithdrawalID string `json:"wdId"`
	ClientID     string `json:"clientId"`
	Currency     string `json:"ccy"`
	Chain        string `json:"chain"`
	Amount       string `json:"amt"`
	State        string `json:"state"`
}

func (g *okxGateway) Authenticate(ctx context.Context) error {
	// Read-only authenticated call; proves the credential triple before any
	// state-changing request is attempted.
	var out []okxCurrency
	if err := g.call(ctx, http.MethodGet, "/api/v5/asset/currencies", nil, nil, &out); err != nil {
		return err
	}
	return nil
}

func (g *okxGateway) FetchNetworkInfo(ctx context.Context, currency string) (map[string]NetworkInfo, error) {
	ccy := strings.ToUpper(currency)
	query := url.Values{}
	query.Set("ccy", ccy)

	var out []okxCurrency
	if err := g.call(ctx, http.MethodGet, "/api/v5/asset/currencies", query, nil, &out); err != nil {
		return nil, err
	}

	// OKX reports chains as "<ccy>-<network>"; key the map by the network
	// part, which is what the selector matches against.
	info := make(map[string]NetworkInfo, len(out))
	for _, c := range out {
		if !strings.EqualFold(c.Currency, ccy) {
			continue
		}
		id := strings.TrimPrefix(c.Chain, ccy+"-")
		info[id] = NetworkInfo{
			ExchangeID:      id,
			WithdrawEnabled: c.CanWithdraw,
			Fee:             parseDecimal(c.MinFee),
			MinWithdrawal:   parseDecimal(c.MinWithdrawal),
		}
	}
	return info, nil
}

func (g *okxGateway) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ccy", strings.ToUpper(currency))

	var out []okxAssetBalance
	if err := g.call(ctx, http.MethodGet, "/api/v5/asset/balances", query, nil, &out); err != nil {
		return decimal.Zero, err
	}
	if len(out) == 0 {
		return decimal.Zero, nil
	}
	return parseDecimal(out[0].Available), nil
}

func (g *okxGateway) SubmitWithdrawal(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error) {
	ccy := strings.ToUpper(req.Currency)
	body := map[string]string{
		"ccy":    ccy,
		"amt":    req.Amount.String(),
		"dest":   okxDestOnChain,
		"toAddr": req.Address,
		"fee":    req.Fee.String(),
		"chain":  ccy + "-" + req.NetworkID,
	}
	if req.ClientID != "" {
		body["clientId"] = req.ClientID
	}
	for k, v := range g.withdrawExtras() {
		body[k] = v
	}

	var out []okxWithdrawResult
	if err := g.call(ctx, http.MethodPost, "/api/v5/asset/withdrawal", nil, body, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &APIError{Code: "0", Msg: "withdrawal accepted but no reference returned"}
	}
	return &Withdrawal{
		ID:       out[0].WithdrawalID,
		ClientID: out[0].ClientID,
		Currency: out[0].Currency,
		Chain:    out[0].Chain,
		Amount:   parseDecimal(out[0].Amount),
	}, nil
}

// okx withdrawal states that are still in flight. Everything else (success,
// failed, canceled) is final.
var okxPendingStates = map[string]bool{
	"0": true, "1": true, "4": true, "5": true, "6": true,
	"7": true, "8": true, "9": true, "10": true, "12": true,
}

func (g *okxGateway) PendingWithdrawal(ctx context.Context, currency, clientID string) (*Withdrawal, bool, error) {
	query := url.Values{}
	query.Set("ccy", strings.ToUpper(currency))
	if clientID != "" {
		query.Set("clientId", clientID)
	}

	var out []okxWithdrawHistoryItem
	if err := g.call(ctx, http.MethodGet, "/api/v5/asset/withdrawal-history", query, nil, &out); err != nil {
		return nil, false, err
	}
	for _, item := range out {
		if clientID != "" && item.ClientID != clientID {
			continue
		}
		if okxPendingStates[item.State] {
			return &Withdrawal{
				ID:       item.WithdrawalID,
				ClientID: item.ClientID,
				Currency: item.Currency,
				Chain:    item.Chain,
				Amount:   parseDecimal(item.Amount),
			}, true, nil
		}
	}
	return nil, false, nil
}

func (g *okxGateway) NetworkID(internalName string) (string, bool) {
	id, ok := okxNetworkIDs[internalName]
	return id, ok
}

// withdrawExtras supplies exchange-specific withdrawal parameters. OKX v5
// needs none beyond the standard fields; other adapters override this.
func (g *okxGateway) withdrawExtras() map[string]string {
	return nil
}

func (g *okxGateway) Close() error {
	g.closeOnce.Do(func() {
		g.client.GetClient().CloseIdleConnections()
	})
	return nil
}

// call signs and executes one v5 request, unwrapping the response envelope
// into out and translating failures into the package error taxonomy.
func (g *okxGateway) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := g.limits.Wait(ctx, strings.TrimPrefix(path, "/api/v5/")); err != nil {
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
			return errors.Wrap(err, "okx: marshal request")
		}
		payload = string(raw)
	}

	ts := time.Now().UTC().Format(okxTimeFormat)
	req := g.client.R().
		SetContext(ctx).
		SetHeader("OK-ACCESS-KEY", g.creds.APIKey).
		SetHeader("OK-ACCESS-SIGN", g.sign(ts, method, requestPath, payload)).
		SetHeader("OK-ACCESS-TIMESTAMP", ts).
		SetHeader("OK-ACCESS-PASSPHRASE", g.creds.Passphrase)
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

	var env okxEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &ConnError{Err: errors.Wrap(err, "okx: decode response")}
	}
	if env.Code != "0" {
		if okxAuthCodes[env.Code] {
			return errors.Wrapf(ErrAuth, "code %s: %s", env.Code, env.Msg)
		}
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "okx: decode data")
		}
	}
	return nil
}

// sign builds the OK-ACCESS-SIGN header: base64(hmac-sha256(ts+method+path+body)).
func (g *okxGateway) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(g.creds.SecretKey))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Credential-related v5 error codes. Treated as fatal authentication failures.
var okxAuthCodes = map[string]bool{
	"50100": true, "50101": true, "50102": true, "50103": true,
	"50104": true, "50105": true, "50106": true, "50107": true,
	"50111": true, "50112": true, "50113": true, "50114": true,
	"50115": true, "50119": true,
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
