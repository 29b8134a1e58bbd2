package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tokenstream/enrichment-gateway/internal/filter"
	"github.com/tokenstream/enrichment-gateway/internal/metrics"
	"github.com/tokenstream/enrichment-gateway/internal/registry"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sessionState is the subscriber connection's lifecycle (spec §6):
// a session must authenticate within the handshake timeout before it
// is admitted to broadcast fan-out.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateClosed
)

// Session is one subscriber WebSocket connection, generalising the
// teacher's pkg/websocket Client from an anonymous price-feed peer
// into an authenticated, settings-aware subscriber.
type Session struct {
	ID          string
	Username    string
	APIKey      string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte

	hub      *Hub
	registry registry.Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu       sync.RWMutex
	state    sessionState
	settings types.SubscriberSettings
}

func newSession(conn *websocket.Conn, hub *Hub, reg registry.Registry, m *metrics.Metrics, log zerolog.Logger) *Session {
	return &Session{
		ID:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		hub:         hub,
		registry:    reg,
		metrics:     m,
		log:         log,
		ConnectedAt: time.Now(),
		state:       stateConnecting,
	}
}

// ServeWS upgrades r into a Session, authenticates it within
// handshakeTimeout, then registers it with the hub and runs its
// read/write pumps until the connection closes.
func ServeWS(hub *Hub, reg registry.Registry, m *metrics.Metrics, log zerolog.Logger, handshakeTimeout time.Duration, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		m.RecordError("websocket_upgrade")
		return
	}

	s := newSession(conn, hub, reg, m, log)

	if err := s.authenticate(handshakeTimeout); err != nil {
		s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: err.Error()})
		conn.Close()
		m.IncSubscriberAuthFails()
		return
	}

	hub.register(s)
	m.IncSubscribersTotal()
	go s.writePump()
	s.readPump()
}

func (s *Session) authenticate(timeout time.Duration) error {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}

	var auth types.AuthFrame
	if err := json.Unmarshal(data, &auth); err != nil || auth.APIKey == "" {
		return fmt.Errorf("invalid auth frame")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	active, err := s.registry.IsActive(ctx, auth.APIKey)
	if err != nil || !active {
		return fmt.Errorf("unauthorized")
	}
	sub, err := s.registry.GetUserByAPIKey(ctx, auth.APIKey)
	if err != nil {
		return fmt.Errorf("unauthorized")
	}

	settings, err := s.registry.GetSettings(ctx, sub.Username)
	if err != nil {
		settings = types.DefaultSubscriberSettings()
	}
	allow, _ := s.registry.GetAllowList(ctx, sub.Username)
	deny, _ := s.registry.GetDenyList(ctx, sub.Username)

	s.mu.Lock()
	s.Username = sub.Username
	s.APIKey = sub.APIKey
	s.settings = settings
	s.state = stateAuthenticated
	s.mu.Unlock()

	_ = s.registry.LogConnection(ctx, sub.Username, "connected", s.ConnectedAt)

	s.writeFrame(types.AuthSuccessFrame{
		Type:      types.FrameAuthSuccess,
		Username:  sub.Username,
		Settings:  settings,
		Whitelist: allow,
		Blacklist: deny,
	})
	return nil
}

func (s *Session) Settings() types.SubscriberSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Session) setSettings(settings types.SubscriberSettings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// admit applies the filter evaluator using this session's cached
// settings and a freshly-read deny list.
func (s *Session) admit(ctx context.Context, token types.EnrichedToken) bool {
	deny, err := s.registry.GetDenyList(ctx, s.Username)
	if err != nil {
		deny = nil
	}
	return filter.Evaluate(token, s.Settings(), deny).Admit
}

func (s *Session) writeFrame(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal frame failed")
		return
	}
	select {
	case s.send <- data:
	default:
		s.log.Warn().Str("session", s.ID).Msg("send buffer full, dropping frame")
	}
}

func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.metrics.RecordError("websocket_read")
			}
			return
		}
		s.handleCommand(data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handleCommand(data []byte) {
	var cmd types.CommandFrame
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: "invalid command frame"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.metrics.IncCommand(string(cmd.Command))

	switch cmd.Command {
	case types.CmdPing:
		s.writeFrame(types.ReplyFrame{Type: types.FramePong, RequestID: cmd.RequestID})

	case types.CmdGetSettings:
		s.writeFrame(types.ReplyFrame{Type: types.FrameSettings, RequestID: cmd.RequestID, Data: s.Settings()})

	case types.CmdUpdateSettings:
		update := settingsUpdateFromParams(cmd.Params)
		next, err := s.registry.UpdateSettings(ctx, s.Username, update)
		_ = s.registry.LogRequest(ctx, s.Username, cmd.Command, cmd.Params, err == nil)
		if err != nil {
			s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: err.Error(), RequestID: cmd.RequestID})
			return
		}
		s.setSettings(next)
		s.writeFrame(types.ReplyFrame{Type: types.FrameSettingsUpdated, RequestID: cmd.RequestID, Data: next})

	case types.CmdGetWhitelist:
		list, _ := s.registry.GetAllowList(ctx, s.Username)
		s.writeFrame(types.ReplyFrame{Type: types.FrameWhitelist, RequestID: cmd.RequestID, Data: list})

	case types.CmdGetBlacklist:
		list, _ := s.registry.GetDenyList(ctx, s.Username)
		s.writeFrame(types.ReplyFrame{Type: types.FrameBlacklist, RequestID: cmd.RequestID, Data: list})

	case types.CmdAddWhitelist:
		entry := types.ListEntry{DeployerAddress: cmd.DevWallet, TokenName: cmd.TokenName, TokenTicker: cmd.TokenTicker, AddedAt: time.Now()}
		err := s.registry.AddAllowEntry(ctx, s.Username, entry)
		payload := map[string]any{"dev_wallet": cmd.DevWallet, "name": cmd.TokenName, "ticker": cmd.TokenTicker}
		_ = s.registry.LogRequest(ctx, s.Username, cmd.Command, payload, err == nil)
		if err != nil {
			s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: err.Error(), RequestID: cmd.RequestID})
			return
		}
		s.writeFrame(types.ReplyFrame{Type: types.FrameWhitelistUpdated, RequestID: cmd.RequestID})

	case types.CmdRemoveWhitelist:
		err := s.registry.RemoveAllowEntry(ctx, s.Username, cmd.DevWallet)
		_ = s.registry.LogRequest(ctx, s.Username, cmd.Command, map[string]any{"dev_wallet": cmd.DevWallet}, err == nil)
		if err != nil {
			s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: err.Error(), RequestID: cmd.RequestID})
			return
		}
		s.writeFrame(types.ReplyFrame{Type: types.FrameWhitelistUpdated, RequestID: cmd.RequestID})

	case types.CmdAddBlacklist:
		entry := types.ListEntry{DeployerAddress: cmd.DevWallet, TokenName: cmd.TokenName, TokenTicker: cmd.TokenTicker, AddedAt: time.Now()}
		err := s.registry.AddDenyEntry(ctx, s.Username, entry)
		payload := map[string]any{"dev_wallet": cmd.DevWallet, "name": cmd.TokenName, "ticker": cmd.TokenTicker}
		_ = s.registry.LogRequest(ctx, s.Username, cmd.Command, payload, err == nil)
		if err != nil {
			s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: err.Error(), RequestID: cmd.RequestID})
			return
		}
		s.writeFrame(types.ReplyFrame{Type: types.FrameBlacklistUpdated, RequestID: cmd.RequestID})

	case types.CmdRemoveBlacklist:
		err := s.registry.RemoveDenyEntry(ctx, s.Username, cmd.DevWallet)
		_ = s.registry.LogRequest(ctx, s.Username, cmd.Command, map[string]any{"dev_wallet": cmd.DevWallet}, err == nil)
		if err != nil {
			s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: err.Error(), RequestID: cmd.RequestID})
			return
		}
		s.writeFrame(types.ReplyFrame{Type: types.FrameBlacklistUpdated, RequestID: cmd.RequestID})

	default:
		s.writeFrame(types.ErrorFrame{Type: types.FrameError, Message: "unknown command", RequestID: cmd.RequestID})
	}
}

// settingsUpdateFromParams decodes the params map of an
// update_settings command into a partial SettingsUpdate: only the
// keys present in params are applied, per spec §6's partial-update
// semantics.
func settingsUpdateFromParams(params map[string]any) types.SettingsUpdate {
	raw, err := json.Marshal(params)
	if err != nil {
		return types.SettingsUpdate{}
	}
	var u types.SettingsUpdate
	_ = json.Unmarshal(raw, &u)
	return u
}
