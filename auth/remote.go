// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var (
	_ Authenticator = (*Remote)(nil)
	_ Authorizer    = (*Remote)(nil)
)

// Remote defaults.
const (
	DefaultRemoteTimeout    = 5 * time.Second
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
	maxResponseBody         = 64 << 10
)

// RemoteConfig configures delegation to an HTTP auth service.
type RemoteConfig struct {
	AuthURL        string
	ACLURL         string // Optional; without it every action is allowed
	Method         string // POST when empty
	Timeout        time.Duration
	Headers        map[string]string
	CircuitBreaker BreakerConfig
}

// BreakerConfig configures the circuit breaker around remote calls.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Remote authenticates and authorizes by calling an external HTTP service.
// Every failure to get an answer is a denial.
type Remote struct {
	cfg     RemoteConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"clientId"`
}

type aclRequest struct {
	ClientID string `json:"clientId"`
	Topic    string `json:"topic"`
	Action   Action `json:"action"`
}

// verdict is the body of a 2xx answer. Authentication replies carry
// authenticated; ACL replies may carry result instead.
type verdict struct {
	Authenticated *bool  `json:"authenticated"`
	Result        string `json:"result"`
}

func (v verdict) decided() bool {
	return v.Authenticated != nil || v.Result == "allow" || v.Result == "deny"
}

func (v verdict) allowed() bool {
	if v.Authenticated != nil {
		return *v.Authenticated
	}
	return v.Result == "allow"
}

// NewRemote creates a Remote authenticator.
func NewRemote(cfg RemoteConfig, logger *slog.Logger) (*Remote, error) {
	if cfg.AuthURL == "" {
		return nil, errors.New("remote auth requires an auth URL")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	threshold := cfg.CircuitBreaker.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	reset := cfg.CircuitBreaker.ResetTimeout
	if reset <= 0 {
		reset = defaultResetTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-auth",
		MaxRequests: 1,
		Timeout:     reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("auth circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Remote{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Authenticate posts the credentials to the auth URL.
func (r *Remote) Authenticate(ctx context.Context, c Credentials) Result {
	req := authRequest{
		Username: c.Username,
		Password: string(c.Password),
		ClientID: c.ClientID,
	}
	allowed, err := r.call(ctx, r.cfg.AuthURL, req)
	if err != nil {
		r.logger.Warn("remote authentication failed",
			slog.String("client_id", c.ClientID),
			slog.String("error", err.Error()))
		return Deny(err)
	}
	if !allowed {
		return Deny(ErrInvalidCredentials)
	}
	return Allow()
}

// Authorize posts the request to the ACL URL when one is configured.
func (r *Remote) Authorize(ctx context.Context, clientID, topic string, action Action) bool {
	if r.cfg.ACLURL == "" {
		return true
	}

	allowed, err := r.call(ctx, r.cfg.ACLURL, aclRequest{ClientID: clientID, Topic: topic, Action: action})
	if err != nil {
		r.logger.Warn("remote authorization failed",
			slog.String("client_id", clientID),
			slog.String("topic", topic),
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
		return false
	}
	return allowed
}

type response struct {
	status int
	body   []byte
}

// call sends body to url and reports whether the 2xx answer allowed the
// request. A body without a verdict is an error.
func (r *Remote) call(ctx context.Context, url string, body any) (bool, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	out, err := r.breaker.Execute(func() (any, error) {
		return r.send(ctx, url, data)
	})
	if err != nil {
		return false, classify(err)
	}

	resp := out.(response)
	if resp.status < 200 || resp.status >= 300 {
		return false, fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.status)
	}

	var v verdict
	if err := json.Unmarshal(resp.body, &v); err != nil {
		return false, fmt.Errorf("%w: undecodable reply: %w", ErrRemoteRejected, err)
	}
	if !v.decided() {
		return false, fmt.Errorf("%w: reply carries no verdict", ErrRemoteRejected)
	}
	return v.allowed(), nil
}

// send performs one request. Server errors count against the breaker; client
// errors are answers and do not.
func (r *Remote) send(ctx context.Context, url string, data []byte) (response, error) {
	req, err := http.NewRequestWithContext(ctx, r.cfg.Method, url, bytes.NewReader(data))
	if err != nil {
		return response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return response{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return response{}, fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.StatusCode)
	}
	return response{status: resp.StatusCode, body: body}, nil
}

func classify(err error) error {
	if errors.Is(err, ErrRemoteRejected) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrRemoteUnreachable, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrRemoteTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrRemoteUnreachable, err)
}
