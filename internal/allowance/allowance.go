// Package allowance answers "is the hub's spender already approved for this
// amount?" for the connected account. Reads are debounced, cached until
// explicitly invalidated and fail closed.
package allowance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/hubroute/internal/chain"
	"github.com/ggonzalez94/hubroute/internal/registry"
	"github.com/ggonzalez94/hubroute/internal/token"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const DefaultDebounce = 400 * time.Millisecond

type Options struct {
	Debounce time.Duration
	// Spender defaults to the permit2 contract.
	Spender string
}

type cacheKey struct {
	account string
	chainID int64
	token   string
	amount  string
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s|%d|%s|%s", k.account, k.chainID, k.token, k.amount)
}

// debounceKey groups calls that supersede each other while the user types.
type debounceKey struct {
	account string
	chainID int64
	token   string
}

type pendingCheck struct {
	ctx    context.Context
	token  token.Token
	amount string
	timer  *time.Timer
	done   chan struct{}
	result bool
}

// Checker methods are safe on a nil *Checker, which reports nothing approved.
type Checker struct {
	client   chain.Client
	spender  string
	debounce time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cache   map[cacheKey]bool
	pending map[debounceKey]*pendingCheck
	reads   singleflight.Group
}

func New(client chain.Client, opts Options, log zerolog.Logger) *Checker {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Spender == "" {
		opts.Spender = registry.Permit2Address
	}
	return &Checker{
		client:   client,
		spender:  opts.Spender,
		debounce: opts.Debounce,
		log:      log,
		cache:    map[cacheKey]bool{},
		pending:  map[debounceKey]*pendingCheck{},
	}
}

// Check waits out the debounce window and reports whether the allowance
// covers amountBase. A newer call for the same token replaces the pending
// amount, and every waiter receives the newer answer. Cached answers return
// immediately.
func (c *Checker) Check(ctx context.Context, tok token.Token, amountBase string) bool {
	key, ok := c.key(tok, amountBase)
	if !ok {
		return false
	}
	dk := debounceKey{account: key.account, chainID: key.chainID, token: key.token}

	c.mu.Lock()
	if approved, hit := c.cache[key]; hit {
		c.mu.Unlock()
		return approved
	}
	p, exists := c.pending[dk]
	if exists && p.timer.Stop() {
		p.ctx, p.token, p.amount = ctx, tok, amountBase
		p.timer.Reset(c.debounce)
	} else {
		p = &pendingCheck{ctx: ctx, token: tok, amount: amountBase, done: make(chan struct{})}
		c.pending[dk] = p
		p.timer = time.AfterFunc(c.debounce, func() { c.fire(dk, p) })
	}
	c.mu.Unlock()

	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		return false
	}
}

func (c *Checker) fire(dk debounceKey, p *pendingCheck) {
	c.mu.Lock()
	if c.pending[dk] == p {
		delete(c.pending, dk)
	}
	ctx, tok, amountBase := p.ctx, p.token, p.amount
	c.mu.Unlock()

	p.result = c.CheckNow(ctx, tok, amountBase)
	close(p.done)
}

// CheckNow skips the debounce window. The orchestrator uses it when the user
// has already confirmed the amount.
func (c *Checker) CheckNow(ctx context.Context, tok token.Token, amountBase string) bool {
	key, ok := c.key(tok, amountBase)
	if !ok {
		return false
	}
	c.mu.Lock()
	if approved, hit := c.cache[key]; hit {
		c.mu.Unlock()
		return approved
	}
	c.mu.Unlock()

	v, err, _ := c.reads.Do(key.String(), func() (any, error) {
		return c.read(ctx, key)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("token", key.token).Msg("allowance read failed, assuming not approved")
		return false
	}
	approved := v.(bool)
	c.mu.Lock()
	c.cache[key] = approved
	c.mu.Unlock()
	return approved
}

func (c *Checker) read(ctx context.Context, key cacheKey) (bool, error) {
	want, ok := new(big.Int).SetString(key.amount, 10)
	if !ok {
		return false, fmt.Errorf("invalid base amount %q", key.amount)
	}
	current, err := c.client.Allowance(ctx, key.token, key.account, c.spender)
	if err != nil {
		return false, err
	}
	return current.Cmp(want) >= 0, nil
}

// key resolves the spend token: native assets are checked against the
// chain's wrapped contract.
func (c *Checker) key(tok token.Token, amountBase string) (cacheKey, bool) {
	if c == nil || c.client == nil {
		return cacheKey{}, false
	}
	account := strings.ToLower(c.client.Account())
	amountBase = strings.TrimSpace(amountBase)
	if account == "" || amountBase == "" {
		return cacheKey{}, false
	}
	address := tok.Address
	if tok.IsNative() {
		wrapped, ok := registry.WrappedNative(c.client.ChainID())
		if !ok {
			return cacheKey{}, false
		}
		address = wrapped
	}
	if address == "" {
		return cacheKey{}, false
	}
	return cacheKey{account: account, chainID: c.client.ChainID(), token: strings.ToLower(address), amount: amountBase}, true
}

// Invalidate drops every cached answer.
func (c *Checker) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = map[cacheKey]bool{}
}

// InvalidateToken drops cached answers for one token after an approval.
func (c *Checker) InvalidateToken(tok token.Token) {
	if c == nil {
		return
	}
	address := tok.Address
	if tok.IsNative() && c.client != nil {
		if wrapped, ok := registry.WrappedNative(c.client.ChainID()); ok {
			address = wrapped
		}
	}
	address = strings.ToLower(address)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cache {
		if k.token == address {
			delete(c.cache, k)
		}
	}
}
