// Package hub is the HTTP client for the liquidity hub's quote and swap
// submission endpoints.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/httpx"
	"github.com/ggonzalez94/hubroute/internal/registry"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrTradeNotSupported is the hub's "tns" answer: no route for the pair.
var ErrTradeNotSupported = errors.New("tns")

const (
	tradeNotSupportedCode = "tns"
	noLiquidityMessage    = "no liquidity"
)

// Quote is a short-lived hub offer. Fields other than OutAmount are opaque
// and echoed back on submission.
type Quote struct {
	OutAmount       string          `json:"outAmount"`
	PermitData      json.RawMessage `json:"permitData,omitempty"`
	SerializedOrder string          `json:"serializedOrder,omitempty"`
	CallData        string          `json:"callData,omitempty"`
	RawData         json.RawMessage `json:"rawData,omitempty"`
	SessionID       string          `json:"sessionId,omitempty"`
}

// IsZero reports the synthetic zero quote used for unsupported pairs.
func (q *Quote) IsZero() bool {
	if q == nil {
		return true
	}
	d, err := decimal.NewFromString(strings.TrimSpace(q.OutAmount))
	return err != nil || !d.IsPositive()
}

type QuoteRequest struct {
	ChainID   int64   `json:"-"`
	InToken   string  `json:"inToken"`
	OutToken  string  `json:"outToken"`
	InAmount  string  `json:"inAmount"`
	OutAmount string  `json:"outAmount"`
	User      string  `json:"user"`
	Slippage  float64 `json:"slippage"`
	QS        string  `json:"qs"`
	Partner   string  `json:"partner"`
	SessionID string  `json:"sessionId,omitempty"`
}

type SubmitRequest struct {
	ChainID   int64
	InToken   string
	OutToken  string
	InAmount  string
	User      string
	Signature string
	Quote     *Quote
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	// Retries applies to quotes only; submissions are never replayed.
	Retries int
}

type Client struct {
	baseURL string
	quotes  *httpx.Client
	submits *httpx.Client
	log     zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: opts.BaseURL,
		quotes:  httpx.New(opts.Timeout, opts.Retries).WithLogger(log).WithFinal(isTradeNotSupported),
		submits: httpx.New(opts.Timeout, 0).WithLogger(log),
		log:     log,
	}
}

// CompetingOutAmount encodes the DEX amount sent with a quote request:
// "-1" when unknown, "0" when not positive, the amount otherwise.
func CompetingOutAmount(dexOut string) string {
	clean := strings.TrimSpace(dexOut)
	if clean == "" {
		return "-1"
	}
	d, err := decimal.NewFromString(clean)
	if err != nil || !d.IsPositive() {
		return "0"
	}
	return clean
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type quoteResponse struct {
	Quote
	errorBody
}

// Quote requests an offer. A "tns" answer returns an error wrapping
// ErrTradeNotSupported; a missing or zero outAmount is a no-liquidity error.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	req.InToken = token.ProtocolAddress(req.InToken)
	req.OutToken = token.ProtocolAddress(req.OutToken)
	req.Partner = strings.ToLower(strings.TrimSpace(req.Partner))
	req.OutAmount = CompetingOutAmount(req.OutAmount)

	var resp quoteResponse
	_, err := httpx.PostJSON(ctx, c.quotes, registry.QuoteURL(c.baseURL, req.ChainID), req, &resp)
	if err != nil {
		if body, ok := statusErrorBody(err); ok {
			return nil, quoteError(body, err)
		}
		return nil, err
	}
	if resp.Error != "" || (resp.Message != "" && resp.OutAmount == "") {
		return nil, quoteError(resp.errorBody, nil)
	}
	q := resp.Quote
	if q.IsZero() {
		return nil, clierr.New(clierr.CodeNoLiquidity, noLiquidityMessage)
	}
	return &q, nil
}

func quoteError(body errorBody, cause error) error {
	msg := firstNonEmpty(body.Error, body.Message)
	if msg == tradeNotSupportedCode {
		return clierr.Wrap(clierr.CodeNoLiquidity, "trade not supported", ErrTradeNotSupported)
	}
	if msg == "" {
		return cause
	}
	if cause == nil {
		return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("quote failed: %s", msg))
	}
	return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("quote failed: %s", msg), cause)
}

// submitBody flattens the quote into the request, matching the hub's
// expectation that every quote field is echoed back.
type submitBody struct {
	InToken   string `json:"inToken"`
	OutToken  string `json:"outToken"`
	InAmount  string `json:"inAmount"`
	User      string `json:"user"`
	Signature string `json:"signature"`
	Quote
}

type submitResponse struct {
	TxHash string `json:"txHash"`
	errorBody
}

// Submit posts a signed order and returns the relayed transaction hash.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Quote == nil {
		return "", clierr.New(clierr.CodeUsage, "missing quote")
	}
	if strings.TrimSpace(req.Signature) == "" {
		return "", clierr.New(clierr.CodeUsage, "missing signature")
	}
	body := submitBody{
		InToken:   req.InToken,
		OutToken:  req.OutToken,
		InAmount:  req.InAmount,
		User:      req.User,
		Signature: req.Signature,
		Quote:     *req.Quote,
	}
	var resp submitResponse
	_, err := httpx.PostJSON(ctx, c.submits, registry.SubmitURL(c.baseURL, req.ChainID), body, &resp)
	if err != nil {
		if eb, ok := statusErrorBody(err); ok {
			if msg := firstNonEmpty(eb.Error, eb.Message); msg != "" {
				return "", clierr.Wrap(clierr.CodeHubRejected, fmt.Sprintf("hub rejected swap: %s", msg), err)
			}
		}
		return "", err
	}
	if resp.Error != "" || (resp.Message != "" && resp.TxHash == "") {
		return "", clierr.New(clierr.CodeHubRejected, fmt.Sprintf("hub rejected swap: %s", firstNonEmpty(resp.Error, resp.Message)))
	}
	if resp.TxHash == "" {
		return "", clierr.New(clierr.CodeHubRejected, "missing txHash")
	}
	c.log.Debug().Str("tx_hash", resp.TxHash).Int64("chain_id", req.ChainID).Msg("swap submitted")
	return resp.TxHash, nil
}

func statusErrorBody(err error) (errorBody, bool) {
	var statusErr *httpx.StatusError
	if !errors.As(err, &statusErr) {
		return errorBody{}, false
	}
	var body errorBody
	if jsonErr := json.Unmarshal(statusErr.Body, &body); jsonErr != nil {
		return errorBody{}, false
	}
	return body, true
}

// isTradeNotSupported reports a "tns" answer, which no retry can change.
func isTradeNotSupported(e *httpx.StatusError) bool {
	var body errorBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return false
	}
	return firstNonEmpty(body.Error, body.Message) == tradeNotSupportedCode
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
