// Package session keeps the single POP3 connection used by the command
// layer. Every operation runs under the session lock, so commands issued by
// concurrent callers are serialized.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/migadu/popclient/config"
	"github.com/migadu/popclient/consts"
	"github.com/migadu/popclient/email"
	"github.com/migadu/popclient/logger"
	"github.com/migadu/popclient/pkg/metrics"
	"github.com/migadu/popclient/pkg/retry"
	"github.com/migadu/popclient/pop3"
)

// quitTimeout bounds the QUIT sent to a connection being replaced.
const quitTimeout = 5 * time.Second

type Session struct {
	cfg config.POP3Config

	mutex  sync.Mutex
	client *pop3.Client
	addr   string
}

func New(cfg config.POP3Config) *Session {
	return &Session{cfg: cfg}
}

// Options builds the client options for the configured POP3 account.
func Options(cfg config.POP3Config) (*pop3.Options, error) {
	maxSize, err := cfg.GetMaxResponseSize()
	if err != nil {
		return nil, fmt.Errorf("invalid max_response_size: %w", err)
	}
	options := &pop3.Options{
		MaxResponseSize: maxSize,
		StrictState:     cfg.StrictState,
	}
	if cfg.InsecureSkipVerify || cfg.ServerName != "" {
		options.TLSConfig = &tls.Config{
			ServerName:         cfg.ServerName,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
	}
	if cfg.Debug {
		options.DebugWriter = os.Stderr
	}
	return options, nil
}

// BackoffConfig returns the reconnect policy. MaxRetries is zero unless
// connect_retries is set.
func BackoffConfig(cfg config.POP3Config) retry.BackoffConfig {
	backoff := retry.DefaultBackoffConfig()
	backoff.MaxRetries = cfg.ConnectRetries
	if d, err := cfg.GetRetryInitial(); err == nil {
		backoff.InitialInterval = d
	}
	if d, err := cfg.GetRetryMax(); err == nil {
		backoff.MaxInterval = d
	}
	return backoff
}

// Connect replaces the current connection, if any, with a new one to addr
// and returns the server greeting. An empty addr uses the configured one.
// The old connection is sent QUIT; its failure is ignored.
func (s *Session) Connect(ctx context.Context, addr string, useTLS bool) (string, error) {
	if addr == "" {
		addr = s.cfg.Addr
	}
	options, err := Options(s.cfg)
	if err != nil {
		return "", err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client != nil {
		qctx, cancel := context.WithTimeout(ctx, quitTimeout)
		if _, err := s.client.Quit(qctx); err != nil {
			logger.Debug("Session: QUIT of previous connection failed", "addr", s.addr, "error", err)
		}
		cancel()
		s.release()
	}

	dial := pop3.Dial
	if useTLS {
		dial = pop3.DialTLS
	}
	transport := metrics.Transport(useTLS)
	timeout := s.cfg.GetConnectTimeoutWithDefault()

	var client *pop3.Client
	err = retry.WithRetry(ctx, func() error {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c, err := dial(dctx, addr, options)
		if err != nil {
			metrics.ConnectionsTotal.WithLabelValues(transport, metrics.ResultFailure).Inc()
			var protoErr *pop3.Error
			if errors.As(err, &protoErr) {
				return retry.Stop(err)
			}
			return err
		}
		client = c
		return nil
	}, BackoffConfig(s.cfg))
	if err != nil {
		logger.Warn("Session: connection failed", "addr", addr, "tls", useTLS, "error", err)
		return "", err
	}

	metrics.ConnectionsTotal.WithLabelValues(transport, metrics.ResultOK).Inc()
	metrics.ConnectionsCurrent.Inc()
	s.client = client
	s.addr = addr
	logger.Info("Session: connected", "addr", addr, "tls", useTLS)
	return client.Greeting(), nil
}

// Status returns the address of the current connection and whether one is
// installed, read under a single lock.
func (s *Session) Status() (addr string, connected bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.client == nil {
		return "", false
	}
	return s.addr, true
}

// Connected reports whether a connection is installed.
func (s *Session) Connected() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.client != nil
}

// Addr returns the address of the current connection.
func (s *Session) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.client == nil {
		return ""
	}
	return s.addr
}

func (s *Session) User(ctx context.Context, name string) (string, error) {
	var text string
	err := s.run(ctx, pop3.VerbUser, func(ctx context.Context, c *pop3.Client) (int, error) {
		var err error
		text, err = c.User(ctx, name)
		return 0, err
	})
	return text, err
}

func (s *Session) Pass(ctx context.Context, secret string) (string, error) {
	var text string
	err := s.run(ctx, pop3.VerbPass, func(ctx context.Context, c *pop3.Client) (int, error) {
		var err error
		text, err = c.Pass(ctx, secret)
		return 0, err
	})
	return text, err
}

func (s *Session) Stat(ctx context.Context) (*pop3.MaildropStat, error) {
	var stat *pop3.MaildropStat
	err := s.run(ctx, pop3.VerbStat, func(ctx context.Context, c *pop3.Client) (int, error) {
		var err error
		stat, err = c.Stat(ctx)
		return 0, err
	})
	return stat, err
}

func (s *Session) List(ctx context.Context) (*pop3.ListResult, error) {
	var list *pop3.ListResult
	err := s.run(ctx, pop3.VerbList, func(ctx context.Context, c *pop3.Client) (int, error) {
		var err error
		list, err = c.List(ctx)
		return 0, err
	})
	return list, err
}

func (s *Session) ListMessage(ctx context.Context, id uint64) (*pop3.ListResult, error) {
	var list *pop3.ListResult
	err := s.run(ctx, pop3.VerbList, func(ctx context.Context, c *pop3.Client) (int, error) {
		var err error
		list, err = c.ListMessage(ctx, id)
		return 0, err
	})
	return list, err
}

// Retr returns the raw message id.
func (s *Session) Retr(ctx context.Context, id uint64) (*pop3.RetrievedMessage, error) {
	var msg *pop3.RetrievedMessage
	err := s.run(ctx, pop3.VerbRetr, func(ctx context.Context, c *pop3.Client) (int, error) {
		var err error
		msg, err = c.Retr(ctx, id)
		if err != nil {
			return 0, err
		}
		return len(msg.Body), nil
	})
	return msg, err
}

// Fetch retrieves message id and decodes it.
func (s *Session) Fetch(ctx context.Context, id uint64) (*email.Email, error) {
	msg, err := s.Retr(ctx, id)
	if err != nil {
		return nil, err
	}
	return email.Parse(msg.Body)
}

// Quit ends the POP3 session and empties the slot whatever the outcome.
func (s *Session) Quit(ctx context.Context) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	start := time.Now()
	if s.client == nil {
		metrics.ObserveCommand(string(pop3.VerbQuit), metrics.ResultNoSession, start, 0)
		return "", consts.ErrNotConnected
	}

	ctx, cancel := s.commandContext(ctx)
	defer cancel()
	text, err := s.client.Quit(ctx)
	metrics.ObserveCommand(string(pop3.VerbQuit), result(err), start, 0)
	s.release()
	if err != nil {
		return "", err
	}
	logger.Info("Session: disconnected", "addr", s.addr)
	return text, nil
}

// Close drops the connection without sending QUIT.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.release()
	return err
}

// run executes fn against the current client under the session lock. fn
// returns the payload size used for the received bytes metric.
func (s *Session) run(ctx context.Context, verb pop3.Verb, fn func(context.Context, *pop3.Client) (int, error)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	start := time.Now()
	if s.client == nil {
		metrics.ObserveCommand(string(verb), metrics.ResultNoSession, start, 0)
		return consts.ErrNotConnected
	}

	ctx, cancel := s.commandContext(ctx)
	defer cancel()
	payload, err := fn(ctx, s.client)
	metrics.ObserveCommand(string(verb), result(err), start, payload)

	if pop3.IsFatal(err) {
		logger.Warn("Session: connection lost", "addr", s.addr, "command", string(verb), "error", err)
		s.client.Close()
		s.release()
	}
	return err
}

func (s *Session) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.cfg.GetCommandTimeoutWithDefault(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// release empties the slot. The caller holds the lock.
func (s *Session) release() {
	s.client = nil
	metrics.ConnectionsCurrent.Dec()
}

func result(err error) string {
	var protoErr *pop3.Error
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &protoErr):
		return metrics.ResultServerErr
	case errors.Is(err, pop3.ErrInvalidArgument), errors.Is(err, pop3.ErrBadState):
		return metrics.ResultInvalid
	}
	return metrics.ResultFailure
}
