package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Transaction stream — transactionSubscribe over WebSocket
// Persistent subscription filtered by account list, reconnect with backoff.
// ---------------------------------------------------------------------------

// ErrReconnectsExhausted is returned by Run once the reconnect policy is used up.
var ErrReconnectsExhausted = errors.New("stream: reconnect attempts exhausted")

// StreamConfig configures a transaction stream.
type StreamConfig struct {
	Name           string        `yaml:"name"`
	WSEndpoint     string        `yaml:"ws_endpoint"`
	Accounts       []string      `yaml:"accounts"` // program ids or wallet addresses
	Commitment     string        `yaml:"commitment"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	BufferSize     int           `yaml:"buffer_size"`
}

// DefaultStreamConfig returns mainnet defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:           "launch",
		WSEndpoint:     "wss://atlas-mainnet.helius-rpc.com",
		Commitment:     CommitmentConfirmed,
		ConnectTimeout: 30 * time.Second,
		PingInterval:   30 * time.Second,
		ReconnectDelay: time.Second,
		MaxReconnects:  10,
		BufferSize:     1024,
	}
}

// StreamEvent is one transaction delivered by the stream.
type StreamEvent struct {
	Signature         Signature      `json:"signature"`
	Slot              uint64         `json:"slot"`
	AccountKeys       []Pubkey       `json:"account_keys"`
	Logs              []string       `json:"logs"`
	PreTokenBalances  []TokenBalance `json:"pre_token_balances"`
	PostTokenBalances []TokenBalance `json:"post_token_balances"`
	ReceivedAt        time.Time      `json:"received_at"`
}

// StreamClient maintains the subscription and forwards transactions.
type StreamClient struct {
	config StreamConfig
	policy resilience.Policy
	logger zerolog.Logger

	events   chan StreamEvent
	stopCh   chan struct{}
	stopOnce sync.Once

	nextID atomic.Int64
	subID  atomic.Int64

	messagesRecv atomic.Int64
	eventsOut    atomic.Int64
	reconnects   atomic.Int64
	connected    atomic.Bool
}

// NewStreamClient creates a stream client. Nothing is dialed until Run.
func NewStreamClient(config StreamConfig, logger zerolog.Logger) *StreamClient {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.Commitment == "" {
		config.Commitment = CommitmentConfirmed
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	return &StreamClient{
		config: config,
		policy: resilience.Policy{
			MaxAttempts: config.MaxReconnects,
			BaseDelay:   config.ReconnectDelay,
		},
		logger: logger.With().Str("component", "stream").Str("stream", config.Name).Logger(),
		events: make(chan StreamEvent, config.BufferSize),
		stopCh: make(chan struct{}),
	}
}

// Events returns the channel of received transactions. It is closed when Run returns.
func (c *StreamClient) Events() <-chan StreamEvent { return c.events }

// Stop ends Run without surfacing an error.
func (c *StreamClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *StreamClient) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// Run connects and reads until ctx is cancelled or Stop is called (nil), or
// until consecutive connection failures exhaust the reconnect policy
// (ErrReconnectsExhausted). Only a connection whose subscription was
// confirmed resets the failure count; an endpoint that accepts the upgrade
// but never confirms, or rejects the subscription, counts as a failure.
func (c *StreamClient) Run(ctx context.Context) error {
	defer close(c.events)

	failures := 0
	for {
		if c.stopped(ctx) {
			return nil
		}

		conn, err := c.Connect(ctx)
		if err == nil {
			var subscribed bool
			subscribed, err = c.readLoop(ctx, conn)
			conn.Close()
			c.connected.Store(false)
			if c.stopped(ctx) {
				return nil
			}
			if subscribed {
				failures = 0
			}
			c.logger.Warn().Err(err).Bool("subscribed", subscribed).Msg("stream: connection lost")
		} else {
			c.logger.Warn().Err(err).Int("failures", failures+1).Msg("stream: connect failed")
		}

		failures++
		c.reconnects.Add(1)
		if c.policy.Exhausted(failures) {
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectsExhausted, failures, err)
		}

		delay := c.policy.Delay(failures)
		c.logger.Info().Dur("delay", delay).Int("attempt", failures).Msg("stream: reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		}
	}
}

// Connect dials the endpoint and sends the subscription request. Both steps
// share the connect timeout; the confirmation is awaited by the read loop
// under the same timeout.
func (c *StreamClient) Connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, c.config.WSEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: dial: %w", err)
	}

	deadline, _ := dialCtx.Deadline()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(c.subscribeRequest()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: write subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	c.logger.Info().
		Str("endpoint", c.config.WSEndpoint).
		Int("accounts", len(c.config.Accounts)).
		Msg("stream: connected, subscription sent")
	return conn, nil
}

func (c *StreamClient) subscribeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  "transactionSubscribe",
		"params": []any{
			map[string]any{
				"accountInclude": c.config.Accounts,
				"failed":         false,
			},
			map[string]any{
				"commitment":                     c.config.Commitment,
				"encoding":                       "jsonParsed",
				"transactionDetails":             "full",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}
}

// readLoop reads until the transport fails or the client is stopped, and
// reports whether the subscription was confirmed on this connection. The
// confirmation must arrive within the connect timeout. Missing pongs are not
// tracked; only close/read errors end the loop.
func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) (subscribed bool, err error) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-c.stopCh:
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					c.logger.Debug().Err(err).Msg("stream: ping failed")
				}
			}
		}
	}()

	confirmed := func() {
		if !subscribed {
			subscribed = true
			c.connected.Store(true)
			conn.SetReadDeadline(time.Time{})
		}
	}
	conn.SetReadDeadline(time.Now().Add(c.config.ConnectTimeout))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !subscribed {
				return false, fmt.Errorf("stream: awaiting subscription confirmation: %w", err)
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, fmt.Errorf("stream: closed by server: %w", err)
			}
			return true, fmt.Errorf("stream: read: %w", err)
		}
		c.messagesRecv.Add(1)

		event, kind := c.handleMessage(message)
		switch kind {
		case messageRejected:
			return subscribed, errors.New("stream: subscription rejected")
		case messageConfirmed:
			confirmed()
			continue
		case messageEvent:
			// A notification proves the subscription even if the
			// confirmation was lost.
			confirmed()
		default:
			continue
		}
		select {
		case c.events <- event:
			c.eventsOut.Add(1)
		case <-ctx.Done():
			return subscribed, ctx.Err()
		case <-c.stopCh:
			return subscribed, nil
		}
	}
}

type messageKind int

const (
	messageIgnored messageKind = iota
	messageConfirmed
	messageRejected
	messageEvent
)

// handleMessage classifies one frame and returns the decoded transaction for
// notifications; a subscription confirmation records the subscription id.
func (c *StreamClient) handleMessage(data []byte) (StreamEvent, messageKind) {
	var envelope struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Debug().Err(err).Msg("stream: unparseable message")
		return StreamEvent{}, messageIgnored
	}

	switch {
	case envelope.Error != nil:
		c.logger.Error().Int("code", envelope.Error.Code).Str("msg", envelope.Error.Message).
			Msg("stream: subscription error")
		return StreamEvent{}, messageRejected
	case envelope.Method == "" && len(envelope.Result) > 0:
		var subID int64
		if err := json.Unmarshal(envelope.Result, &subID); err != nil {
			c.logger.Debug().RawJSON("result", envelope.Result).Msg("stream: unexpected reply")
			return StreamEvent{}, messageIgnored
		}
		c.subID.Store(subID)
		c.logger.Info().Int64("sub_id", subID).Msg("stream: subscription confirmed")
		return StreamEvent{}, messageConfirmed
	case envelope.Method == "transactionNotification":
		event, err := decodeTransactionNotification(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("stream: bad transaction notification")
			return StreamEvent{}, messageIgnored
		}
		return event, messageEvent
	default:
		return StreamEvent{}, messageIgnored
	}
}

// accountKey accepts both the jsonParsed object form and a bare string.
type accountKey string

func (k *accountKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*k = accountKey(s)
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*k = accountKey(obj.Pubkey)
	return nil
}

type rawTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals uint8  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

func (r rawTokenBalance) toBalance() TokenBalance {
	amount, err := decimal.NewFromString(r.UITokenAmount.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	return TokenBalance{
		AccountIndex: r.AccountIndex,
		Mint:         Pubkey(r.Mint),
		Owner:        Pubkey(r.Owner),
		Amount:       amount,
		Decimals:     r.UITokenAmount.Decimals,
	}
}

func decodeTransactionNotification(data []byte) (StreamEvent, error) {
	var n struct {
		Params struct {
			Subscription int64 `json:"subscription"`
			Result       struct {
				Signature   string `json:"signature"`
				Slot        uint64 `json:"slot"`
				Transaction struct {
					Meta struct {
						LogMessages       []string          `json:"logMessages"`
						PreTokenBalances  []rawTokenBalance `json:"preTokenBalances"`
						PostTokenBalances []rawTokenBalance `json:"postTokenBalances"`
					} `json:"meta"`
					Transaction struct {
						Signatures []string `json:"signatures"`
						Message    struct {
							AccountKeys []accountKey `json:"accountKeys"`
						} `json:"message"`
					} `json:"transaction"`
				} `json:"transaction"`
			} `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return StreamEvent{}, fmt.Errorf("stream: decode notification: %w", err)
	}

	res := n.Params.Result
	sig := res.Signature
	if sig == "" && len(res.Transaction.Transaction.Signatures) > 0 {
		sig = res.Transaction.Transaction.Signatures[0]
	}
	if sig == "" {
		return StreamEvent{}, errors.New("stream: notification without signature")
	}

	keys := make([]Pubkey, len(res.Transaction.Transaction.Message.AccountKeys))
	for i, k := range res.Transaction.Transaction.Message.AccountKeys {
		keys[i] = Pubkey(k)
	}
	pre := make([]TokenBalance, len(res.Transaction.Meta.PreTokenBalances))
	for i, b := range res.Transaction.Meta.PreTokenBalances {
		pre[i] = b.toBalance()
	}
	post := make([]TokenBalance, len(res.Transaction.Meta.PostTokenBalances))
	for i, b := range res.Transaction.Meta.PostTokenBalances {
		post[i] = b.toBalance()
	}

	return StreamEvent{
		Signature:         Signature(sig),
		Slot:              res.Slot,
		AccountKeys:       keys,
		Logs:              res.Transaction.Meta.LogMessages,
		PreTokenBalances:  pre,
		PostTokenBalances: post,
		ReceivedAt:        time.Now(),
	}, nil
}

// StreamStats returns stream statistics.
type StreamStats struct {
	Connected      bool  `json:"connected"`
	SubscriptionID int64 `json:"subscription_id"`
	MessagesRecv   int64 `json:"messages_recv"`
	EventsOut      int64 `json:"events_out"`
	Reconnects     int64 `json:"reconnects"`
}

func (c *StreamClient) Stats() StreamStats {
	return StreamStats{
		Connected:      c.connected.Load(),
		SubscriptionID: c.subID.Load(),
		MessagesRecv:   c.messagesRecv.Load(),
		EventsOut:      c.eventsOut.Load(),
		Reconnects:     c.reconnects.Load(),
	}
}
