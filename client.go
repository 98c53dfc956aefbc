// Package signal provides a client that keeps the emoji reactions of group
// conversations in sync, whether a reaction arrives from the reacting peer
// or is reflected by another of the user's own devices.
package signal

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/emoji"
	"github.com/gwillem/signal-reactions/internal/groups"
	"github.com/gwillem/signal-reactions/internal/messages"
	"github.com/gwillem/signal-reactions/internal/metrics"
	"github.com/gwillem/signal-reactions/internal/notify"
	"github.com/gwillem/signal-reactions/internal/reaction"
	"github.com/gwillem/signal-reactions/internal/scheduler"
	"github.com/gwillem/signal-reactions/internal/signalservice"
	"github.com/gwillem/signal-reactions/internal/signalws"
	"github.com/gwillem/signal-reactions/internal/store"
	"github.com/gwillem/signal-reactions/internal/wire"
)

type (
	// Account identifies the local user and this device.
	Account = store.Account
	// Group is a group stored locally.
	Group = store.Group
	// Reaction is one stored reaction record.
	Reaction = store.Reaction
	// Result describes one handled envelope.
	Result = signalservice.Result
	// Event is emitted whenever a reaction set changes.
	Event = reaction.Event
	// Payload is a parsed reaction.
	Payload = reaction.Payload
	// GroupRef is the group context of a payload.
	GroupRef = reaction.GroupRef
	// MessageRef addresses the reacted-to message.
	MessageRef = reaction.MessageRef
)

// Origins, actions and outcomes of HandleReaction.
const (
	FromNetwork    = reaction.FromNetwork
	FromReflection = reaction.FromReflection
	Apply          = reaction.Apply
	Withdraw       = reaction.Withdraw
	Success        = reaction.Success
	Discard        = reaction.Discard
)

const (
	defaultAPIURL = "https://chat.signal.org"
	defaultWSURL  = "wss://chat.signal.org"
)

// ErrNoAccount is returned by Load when the database holds no account.
var ErrNoAccount = errors.New("client: no account found in database")

// Client is the main entry point.
type Client struct {
	apiURL          string
	wsURL           string
	tlsConfig       *tls.Config
	dbPath          string
	logger          zerolog.Logger
	resolveTimeout  time.Duration
	retryMaxElapsed time.Duration
	registerer      prometheus.Registerer

	store   *store.Store
	account *store.Account
	service *signalservice.Service
	bus     *notify.Bus
	metrics *metrics.Metrics
	task    *reaction.Task
	handler *signalservice.Handler
	sched   *scheduler.Scheduler
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL overrides the default REST API URL.
func WithAPIURL(url string) Option {
	return func(c *Client) { c.apiURL = url }
}

// WithWSURL overrides the default WebSocket URL.
func WithWSURL(url string) Option {
	return func(c *Client) { c.wsURL = url }
}

// WithTLSConfig overrides the TLS configuration used for connections.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = tc }
}

// WithDBPath sets the database path. If not set, Load looks for a single
// account database in the default data directory.
func WithDBPath(path string) Option {
	return func(c *Client) { c.dbPath = path }
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithResolveTimeout bounds network group resolution. A timeout makes the
// group unknown and the reaction is discarded.
func WithResolveTimeout(d time.Duration) Option {
	return func(c *Client) { c.resolveTimeout = d }
}

// WithRetryMaxElapsed bounds how long a storage failure is retried.
func WithRetryMaxElapsed(d time.Duration) Option {
	return func(c *Client) { c.retryMaxElapsed = d }
}

// WithRegisterer registers the client's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// NewClient creates a Client. Call Load or SetAccount before use.
func NewClient(opts ...Option) *Client {
	c := &Client{
		apiURL:         defaultAPIURL,
		wsURL:          defaultWSURL,
		logger:         zerolog.Nop(),
		resolveTimeout: groups.DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open opens the account database for number (e.g. "+31647272794") in the
// default data directory.
func Open(number string, opts ...Option) (*Client, error) {
	dbPath, err := DiscoverDBByNumber(number)
	if err != nil {
		return nil, err
	}
	c := NewClient(append(opts, WithDBPath(dbPath))...)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load opens the database and loads the stored account.
func (c *Client) Load() error {
	if c.dbPath == "" {
		discovered, err := discoverDB()
		if err != nil {
			return fmt.Errorf("client: %w", err)
		}
		c.dbPath = discovered
	}
	c.logger.Debug().Str("path", c.dbPath).Msg("opening database")
	if err := c.openStore(); err != nil {
		return err
	}
	acct, err := c.store.LoadAccount()
	if err != nil {
		return fmt.Errorf("client: load account: %w", err)
	}
	if acct == nil {
		return ErrNoAccount
	}
	c.setup(acct)
	return nil
}

// SetAccount stores acct and prepares the client for it. Without an explicit
// database path the database is named after the account ACI.
func (c *Client) SetAccount(acct Account) error {
	aci, err := wire.CanonicalACI(acct.ACI)
	if err != nil {
		return fmt.Errorf("client: account ACI: %w", err)
	}
	acct.ACI = aci
	if c.dbPath == "" {
		c.dbPath = filepath.Join(store.DefaultDataDir(), acct.ACI+".db")
	}
	if err := c.openStore(); err != nil {
		return err
	}
	if err := c.store.SaveAccount(&acct); err != nil {
		return fmt.Errorf("client: save account: %w", err)
	}
	c.setup(&acct)
	return nil
}

func (c *Client) openStore() error {
	if c.store != nil {
		return nil
	}
	st, err := store.Open(c.dbPath)
	if err != nil {
		return fmt.Errorf("client: open store: %w", err)
	}
	c.store = st
	return nil
}

// setup wires the reaction pipeline for acct.
func (c *Client) setup(acct *store.Account) {
	c.account = acct
	c.service = signalservice.NewService(signalservice.ServiceConfig{
		APIURL:    c.apiURL,
		TLSConfig: c.tlsConfig,
		Store:     c.store,
		Auth:      c.auth(),
		LocalACI:  acct.ACI,
		Logger:    c.logger.With().Str("component", "service").Logger(),
	})
	if c.bus == nil {
		c.bus = notify.NewBus()
	}
	if c.metrics == nil {
		c.metrics = metrics.New(c.registerer)
	}
	groupResolver := groups.NewResolver(groups.Config{
		Store:    c.store,
		Control:  c.service,
		LocalACI: acct.ACI,
		Timeout:  c.resolveTimeout,
		Logger:   c.logger.With().Str("component", "groups").Logger(),
	})
	c.task = reaction.NewTask(reaction.TaskConfig{
		Groups:   groupResolver,
		Messages: messages.NewResolver(c.store, acct.ACI),
		Emoji:    emoji.Validator{},
		Applier:  reaction.NewApplier(c.store, c.bus, c.logger.With().Str("component", "applier").Logger()),
		Recorder: c.metrics,
		Logger:   c.logger.With().Str("component", "reaction").Logger(),
	})
	c.handler = signalservice.NewHandler(c.store, groupResolver, c.task, c.logger.With().Str("component", "handler").Logger())
	if c.sched == nil {
		c.sched = scheduler.New(scheduler.Config{
			MaxElapsed: c.retryMaxElapsed,
			Logger:     c.logger.With().Str("component", "scheduler").Logger(),
		})
	}
}

func (c *Client) auth() signalservice.BasicAuth {
	return signalservice.BasicAuth{
		Username: fmt.Sprintf("%s.%d", c.account.ACI, c.account.DeviceID),
		Password: c.account.Password,
	}
}

func (c *Client) ready() error {
	if c.task == nil {
		return fmt.Errorf("client: not loaded")
	}
	return nil
}

// Close waits for scheduled work, then closes subscriptions and the database.
func (c *Client) Close() error {
	if c.sched != nil {
		c.sched.Close()
	}
	if c.bus != nil {
		c.bus.Close()
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// ACI returns the local account's ACI.
func (c *Client) ACI() string {
	if c.account == nil {
		return ""
	}
	return c.account.ACI
}

// Number returns the local account's phone number.
func (c *Client) Number() string {
	if c.account == nil {
		return ""
	}
	return c.account.Number
}

// DeviceID returns this device's ID.
func (c *Client) DeviceID() int {
	if c.account == nil {
		return 0
	}
	return c.account.DeviceID
}

// Receive connects to the authenticated WebSocket and yields a Result for
// every handled group envelope until ctx is cancelled or the caller stops.
func (c *Client) Receive(ctx context.Context) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		if err := c.ready(); err != nil {
			yield(Result{}, err)
			return
		}
		log := c.logger.With().Str("component", "receiver").Logger()
		endpoint := c.wsURL + "/v1/websocket/"
		log.Info().Str("url", endpoint).Str("user", c.auth().Username).Msg("connecting")
		conn, err := signalws.DialPersistent(ctx, endpoint, c.tlsConfig,
			signalws.WithHeaders(signalservice.WebSocketHeaders(c.auth())),
			signalws.WithLogger(log),
			signalws.WithKeepAliveCallback(func(rtt time.Duration) {
				log.Debug().Dur("rtt", rtt).Msg("keep-alive")
			}),
		)
		if err != nil {
			yield(Result{}, fmt.Errorf("client: dial: %w", err))
			return
		}
		defer conn.Close()

		r := signalservice.NewReceiver(signalservice.ReceiverConfig{
			Conn:    conn,
			Handler: c.handler,
			Queue:   c.sched,
			Logger:  log,
		})
		for res, err := range r.Receive(ctx) {
			if !yield(res, err) {
				return
			}
		}
	}
}

// HandleEnvelope processes one encoded envelope as if it had been received,
// serialized with all other work for its group.
func (c *Client) HandleEnvelope(ctx context.Context, data []byte) (Result, error) {
	if err := c.ready(); err != nil {
		return Result{}, err
	}
	env, key, err := c.handler.Decode(data)
	if err != nil {
		return Result{}, fmt.Errorf("client: %w", err)
	}
	return c.schedule(ctx, key, func(ctx context.Context) (Result, error) {
		return c.handler.Handle(ctx, env, key)
	})
}

// HandleReaction runs the reaction task for p with the given origin.
func (c *Client) HandleReaction(ctx context.Context, origin reaction.Origin, p Payload) (reaction.Outcome, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	key, err := groups.ID(p.Group.MasterKey)
	if err != nil {
		key = "" // the task discards it
	}
	res, err := c.schedule(ctx, key, func(ctx context.Context) (Result, error) {
		outcome, err := c.task.Process(ctx, origin, p)
		return Result{Kind: signalservice.ResultReaction, GroupID: key, Origin: origin, Payload: p, Outcome: outcome}, err
	})
	return res.Outcome, err
}

func (c *Client) schedule(ctx context.Context, key string, fn func(context.Context) (Result, error)) (Result, error) {
	var (
		res    Result
		runErr error
		done   = make(chan struct{})
	)
	err := c.sched.Submit(ctx, scheduler.Job{
		Key: key,
		Run: func(ctx context.Context) (reaction.Outcome, error) {
			var err error
			res, err = fn(ctx)
			return res.Outcome, err
		},
		Done: func(_ reaction.Outcome, err error) {
			runErr = err
			close(done)
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("client: %w", err)
	}
	<-done
	return res, runErr
}

// Subscribe returns a channel of reaction change events. Events are dropped
// for subscribers that fall behind.
func (c *Client) Subscribe(name string) <-chan Event {
	if c.bus == nil {
		c.bus = notify.NewBus()
	}
	return c.bus.Subscribe(name)
}

// Unsubscribe closes the named subscription.
func (c *Client) Unsubscribe(name string) {
	if c.bus != nil {
		c.bus.Unsubscribe(name)
	}
}

// Groups returns all locally stored groups.
func (c *Client) Groups(ctx context.Context) ([]*Group, error) {
	if c.store == nil {
		return nil, fmt.Errorf("client: not loaded")
	}
	return c.store.GetAllGroups(ctx)
}

// SyncGroups fetches the account's groups from the server and stores them.
func (c *Client) SyncGroups(ctx context.Context) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.service.SyncGroups(ctx)
}

// Reactions lists the reactions to the message sent by author at sentAt in
// groupID. An unknown message has no reactions.
func (c *Client) Reactions(ctx context.Context, groupID, author string, sentAt uint64) ([]Reaction, error) {
	if c.store == nil {
		return nil, fmt.Errorf("client: not loaded")
	}
	msg, err := c.store.GetGroupMessage(ctx, groupID, author, sentAt)
	if err != nil || msg == nil {
		return nil, err
	}
	return c.store.GetReactions(ctx, msg.ID)
}

// DisplayName returns a contact's name, number or ACI.
func (c *Client) DisplayName(aci string) string {
	if c.store == nil {
		return aci
	}
	return c.store.DisplayName(aci)
}

func discoverDB() (string, error) {
	dbFiles, err := listDBFiles()
	if err != nil {
		return "", err
	}
	switch len(dbFiles) {
	case 0:
		return "", fmt.Errorf("no account database found in %s (run 'sgnl account' first)", store.DefaultDataDir())
	case 1:
		return dbFiles[0], nil
	}
	var lines []string
	for _, path := range dbFiles {
		if number := accountNumber(path); number != "" {
			lines = append(lines, fmt.Sprintf("%s (%s)", number, filepath.Base(path)))
		} else {
			lines = append(lines, filepath.Base(path))
		}
	}
	return "", fmt.Errorf("multiple accounts found, specify one with --account <number> or --db <path>:\n  %s",
		strings.Join(lines, "\n  "))
}

// DiscoverDBByNumber finds the account database for number in the default
// data directory.
func DiscoverDBByNumber(number string) (string, error) {
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	dbFiles, err := listDBFiles()
	if err != nil {
		return "", err
	}
	for _, path := range dbFiles {
		if accountNumber(path) == number {
			return path, nil
		}
	}
	return "", fmt.Errorf("no account found for number %s", number)
}

func listDBFiles() ([]string, error) {
	dir := store.DefaultDataDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data dir %s: %w", dir, err)
	}
	var dbFiles []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		dbFiles = append(dbFiles, filepath.Join(dir, e.Name()))
	}
	return dbFiles, nil
}

func accountNumber(dbPath string) string {
	s, err := store.Open(dbPath)
	if err != nil {
		return ""
	}
	defer s.Close()
	acct, err := s.LoadAccount()
	if err != nil || acct == nil {
		return ""
	}
	return acct.Number
}
