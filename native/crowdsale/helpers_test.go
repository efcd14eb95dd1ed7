package crowdsale

import (
	"bytes"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/core/events"
)

var errInjected = errors.New("injected failure")

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, common.AddressLength))
	return addr
}

type payment struct {
	to     common.Address
	amount *big.Int
}

type recordingSink struct {
	payments []payment
	fail     error
	onSend   func(to common.Address, amount *big.Int)
}

func (s *recordingSink) Send(to common.Address, amount *big.Int) error {
	if s.onSend != nil {
		s.onSend(to, amount)
	}
	if s.fail != nil {
		return s.fail
	}
	s.payments = append(s.payments, payment{to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (s *recordingSink) paidTo(addr common.Address) *big.Int {
	total := big.NewInt(0)
	for _, p := range s.payments {
		if p.to == addr {
			total.Add(total, p.amount)
		}
	}
	return total
}

func (s *recordingSink) total() *big.Int {
	total := big.NewInt(0)
	for _, p := range s.payments {
		total.Add(total, p.amount)
	}
	return total
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

// manualClock is a settable clock for driving the sale window.
type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

var (
	testController = newTestAddress(0xC0)
	testWallet     = newTestAddress(0xEE)
	testOpening    = time.Unix(1_700_000_000, 0)
	testClosing    = testOpening.Add(24 * time.Hour)
)

type fixture struct {
	ledger  *Ledger
	tokens  *TokenBalances
	sink    *recordingSink
	emitter *capturingEmitter
	clock   *manualClock
	minter  TokenMinter
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	params Params
	minter TokenMinter
	extra  []Option
}

func withParams(mutate func(*Params)) fixtureOption {
	return func(c *fixtureConfig) { mutate(&c.params) }
}

func withMinter(m TokenMinter) fixtureOption {
	return func(c *fixtureConfig) { c.minter = m }
}

func withOptions(opts ...Option) fixtureOption {
	return func(c *fixtureConfig) { c.extra = append(c.extra, opts...) }
}

// defaultParams sells units at 10 wei with cap 1000 cents and goal 100 cents
// at one wei per cent.
func defaultParams() Params {
	return Params{
		UnitPrice:         big.NewInt(10),
		CapUsdCents:       big.NewInt(1_000),
		GoalUsdCents:      big.NewInt(100),
		RateWeiPerUsdCent: big.NewInt(1),
		Wallet:            testWallet,
	}
}

func newFixture(opts ...fixtureOption) (*fixture, error) {
	cfg := fixtureConfig{params: defaultParams()}
	for _, opt := range opts {
		opt(&cfg)
	}
	tokens := NewTokenBalances(nil)
	minter := cfg.minter
	if minter == nil {
		minter = tokens
	}
	sink := &recordingSink{}
	emitter := &capturingEmitter{}
	clock := &manualClock{now: testOpening.Add(time.Hour)}
	window, err := NewWindow(testOpening, testClosing)
	if err != nil {
		return nil, err
	}
	ledgerOpts := append([]Option{
		WithWindow(window),
		WithAuthorizer(NewControllers(testController)),
		WithEmitter(emitter),
		WithClock(clock.Now),
	}, cfg.extra...)
	ledger, err := NewLedger(cfg.params, minter, sink, ledgerOpts...)
	if err != nil {
		return nil, err
	}
	return &fixture{ledger: ledger, tokens: tokens, sink: sink, emitter: emitter, clock: clock, minter: minter}, nil
}

func (f *fixture) closeWindow() {
	f.clock.now = testClosing.Add(time.Second)
}
