package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/rs/zerolog"
)

func newTestClient(url string) *Client {
	return New(Options{BaseURL: url, Timeout: 2 * time.Second, Retries: 2}, zerolog.Nop())
}

func TestQuoteSendsProtocolBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" || r.URL.Query().Get("chainId") != "137" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"outAmount":"500","permitData":{"domain":{}},"serializedOrder":"0xorder","sessionId":"s-1"}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv.URL).Quote(context.Background(), QuoteRequest{
		ChainID:   137,
		InToken:   "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		OutToken:  "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359",
		InAmount:  "1000",
		OutAmount: "",
		User:      "0x00000000000000000000000000000000000000aa",
		Slippage:  0.5,
		Partner:   "QuickSwap",
	})
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.OutAmount != "500" || q.SessionID != "s-1" || q.SerializedOrder != "0xorder" {
		t.Fatalf("unexpected quote %+v", q)
	}
	if body["inToken"] != token.ZeroAddress {
		t.Fatalf("expected native sentinel, got %v", body["inToken"])
	}
	if body["outAmount"] != "-1" {
		t.Fatalf("expected unknown competing amount, got %v", body["outAmount"])
	}
	if body["partner"] != "quickswap" {
		t.Fatalf("expected lower-cased partner, got %v", body["partner"])
	}
}

func TestQuoteTradeNotSupportedIsNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusInternalServerError} {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"tns"}`))
		}))

		_, err := newTestClient(srv.URL).Quote(context.Background(), QuoteRequest{ChainID: 137, InAmount: "1"})
		srv.Close()
		if !errors.Is(err, ErrTradeNotSupported) {
			t.Fatalf("status %d: expected trade-not-supported, got %v", status, err)
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Fatalf("status %d: expected a single attempt, got %d", status, got)
		}
	}
}

func TestQuoteZeroOutAmountIsNoLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outAmount":"0"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Quote(context.Background(), QuoteRequest{ChainID: 137, InAmount: "1"})
	if !clierr.HasCode(err, clierr.CodeNoLiquidity) || errors.Is(err, ErrTradeNotSupported) {
		t.Fatalf("expected plain no-liquidity error, got %v", err)
	}
}

func TestQuoteRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"outAmount":"42"}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv.URL).Quote(context.Background(), QuoteRequest{ChainID: 1, InAmount: "1"})
	if err != nil || q.OutAmount != "42" {
		t.Fatalf("expected success on third attempt, got %+v %v", q, err)
	}
}

func TestSubmitEchoesQuoteAndReturnsHash(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swapx" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"txHash":"0xfeed"}`))
	}))
	defer srv.Close()

	hash, err := newTestClient(srv.URL).Submit(context.Background(), SubmitRequest{
		ChainID:   137,
		InToken:   "0xa",
		OutToken:  "0xb",
		InAmount:  "1000",
		User:      "0xuser",
		Signature: "0xsig",
		Quote:     &Quote{OutAmount: "500", SerializedOrder: "0xorder", SessionID: "s-1"},
	})
	if err != nil || hash != "0xfeed" {
		t.Fatalf("unexpected submit result %s %v", hash, err)
	}
	if body["signature"] != "0xsig" || body["serializedOrder"] != "0xorder" || body["outAmount"] != "500" {
		t.Fatalf("unexpected submit body %#v", body)
	}
}

func TestSubmitFailureShapes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"error field", http.StatusOK, `{"error":"expired"}`},
		{"message without hash", http.StatusOK, `{"message":"bad signature"}`},
		{"missing hash", http.StatusOK, `{}`},
		{"client error body", http.StatusBadRequest, `{"message":"invalid order"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Submit(context.Background(), SubmitRequest{ChainID: 1, Signature: "0x1", Quote: &Quote{OutAmount: "1"}})
			if !clierr.HasCode(err, clierr.CodeHubRejected) {
				t.Fatalf("expected hub rejected error, got %v", err)
			}
			if atomic.LoadInt32(&calls) != 1 {
				t.Fatal("submissions must not be retried")
			}
		})
	}
}

func TestCompetingOutAmount(t *testing.T) {
	cases := map[string]string{"": "-1", "0": "0", "-5": "0", "400": "400"}
	for in, want := range cases {
		if got := CompetingOutAmount(in); got != want {
			t.Fatalf("CompetingOutAmount(%q) = %q, want %q", in, got, want)
		}
	}
}
