// Package upstream owns C2 of the pipeline (spec §2 and §4.1): the
// single persistent WebSocket connection to the token-creation feed,
// its credential refresh, its reconnect/backoff policy, and the
// bounded queue that decouples its read loop from the bus publisher.
// It generalises the teacher's connection-lifecycle patterns (ping/
// pong cadence, context-driven shutdown) onto a client-side Dial
// instead of the teacher's server-side Upgrade, since here the
// gateway is the one joining someone else's feed.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tokenstream/enrichment-gateway/internal/auth"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

// State is the upstream session's lifecycle (spec §4.1): Idle ->
// Authenticating -> Connected -> Streaming, dropping back to
// Reconnecting on any failure, and Stopped once shut down.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateConnected
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures the upstream session.
type Config struct {
	StreamURL        string
	AuthURL          string
	CredentialFile   string
	RoomID           string
	PingInterval     time.Duration
	PingTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectStep    time.Duration
	ReconnectMax     time.Duration
	CredentialSkew   time.Duration
	QueueCapacity    int
}

// Credential is the access token persisted between runs.
type Credential struct {
	AccessToken string `json:"accessToken"`
}

// Session manages the upstream connection and exposes a bounded queue
// of received tokens for the bus publisher to drain.
type Session struct {
	cfg      Config
	inspector *auth.CredentialInspector
	metrics  *metrics.Metrics
	log      zerolog.Logger

	Queue *Queue

	mu          sync.RWMutex
	state       State
	credential  string
	reconnectAt time.Duration
}

func NewSession(cfg Config, m *metrics.Metrics, log zerolog.Logger) *Session {
	return &Session{
		cfg:         cfg,
		inspector:   auth.NewCredentialInspector(cfg.CredentialSkew),
		metrics:     m,
		log:         log,
		Queue:       NewQueue(cfg.QueueCapacity),
		state:       StateIdle,
		reconnectAt: cfg.ReconnectInitial,
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run drives the session until ctx is cancelled: authenticate, dial,
// stream, and on any failure back off and retry. The backoff step
// (1s -> 3s -> 5s, capped) matches the refresh/reconnect delays used
// by original_source/new_ws_final_V1.py for token refresh, close, and
// connect-error respectively.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		default:
		}

		if err := s.connectAndStream(ctx); err != nil {
			s.log.Warn().Err(err).Msg("upstream session error, reconnecting")
			s.metrics.IncUpstreamReconnects()
			s.setState(StateReconnecting)
		}

		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		case <-time.After(s.nextBackoff()):
		}
	}
}

func (s *Session) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.reconnectAt
	if d < s.cfg.ReconnectStep {
		s.reconnectAt = s.cfg.ReconnectStep
	} else {
		s.reconnectAt = s.cfg.ReconnectMax
	}
	if s.reconnectAt > s.cfg.ReconnectMax {
		s.reconnectAt = s.cfg.ReconnectMax
	}
	return d
}

func (s *Session) resetBackoff() {
	s.mu.Lock()
	s.reconnectAt = s.cfg.ReconnectInitial
	s.mu.Unlock()
}

func (s *Session) connectAndStream(ctx context.Context) error {
	s.setState(StateAuthenticating)
	if err := s.ensureCredential(ctx); err != nil {
		return fmt.Errorf("credential: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.credential)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.StreamURL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.setState(StateConnected)
	s.metrics.SetUpstreamConnected(true)
	defer s.metrics.SetUpstreamConnected(false)
	s.resetBackoff()

	if err := conn.WriteJSON(map[string]string{"action": "join", "room": s.cfg.RoomID}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PingTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	done := make(chan error, 1)
	go s.readLoop(conn, done)

	s.setState(StateStreaming)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.PingTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn, done chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		s.handleMessage(data)
	}
}

// frameEnvelope mirrors the upstream's {room, content, created_at}
// message shape.
type frameEnvelope struct {
	Room      string          `json:"room"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"created_at"`
}

func (s *Session) handleMessage(data []byte) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	if env.Room != s.cfg.RoomID || len(env.Content) == 0 {
		return
	}

	var token types.RawToken
	if err := json.Unmarshal(env.Content, &token); err != nil {
		s.log.Error().Err(err).Msg("raw token decode failed")
		return
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	s.metrics.IncUpstreamTokensReceived()
	before := s.Queue.Len()
	s.Queue.Push(token)
	s.metrics.SetUpstreamQueueDepth(s.Queue.Len())
	if before >= s.cfg.QueueCapacity {
		s.metrics.IncUpstreamQueueDropped()
	}
}

// ensureCredential loads the persisted credential and refreshes it
// through the upstream auth endpoint if it is missing or close to
// expiring.
func (s *Session) ensureCredential(ctx context.Context) error {
	s.mu.RLock()
	current := s.credential
	s.mu.RUnlock()

	if current != "" && !s.inspector.NeedsRefresh(current) {
		return nil
	}

	cred, err := s.loadCredentialFile()
	if err == nil && cred.AccessToken != "" && !s.inspector.NeedsRefresh(cred.AccessToken) {
		s.mu.Lock()
		s.credential = cred.AccessToken
		s.mu.Unlock()
		return nil
	}

	refreshed, err := s.refresh(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.credential = refreshed
	s.mu.Unlock()
	return s.saveCredentialFile(Credential{AccessToken: refreshed})
}

func (s *Session) loadCredentialFile() (Credential, error) {
	data, err := os.ReadFile(s.cfg.CredentialFile)
	if err != nil {
		return Credential{}, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

func (s *Session) saveCredentialFile(cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return os.WriteFile(s.cfg.CredentialFile, data, 0o600)
}

// refresh calls the upstream auth endpoint for a fresh access token.
func (s *Session) refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AuthURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh failed: status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}
	return body.AccessToken, nil
}
