package types

// Command is a subscriber→server command name (spec §6).
type Command string

const (
	CmdGetSettings     Command = "get_settings"
	CmdUpdateSettings  Command = "update_settings"
	CmdAddWhitelist    Command = "add_whitelist"
	CmdRemoveWhitelist Command = "remove_whitelist"
	CmdAddBlacklist    Command = "add_blacklist"
	CmdRemoveBlacklist Command = "remove_blacklist"
	CmdGetWhitelist    Command = "get_whitelist"
	CmdGetBlacklist    Command = "get_blacklist"
	CmdPing            Command = "ping"
)

// AuthFrame is the first frame a subscriber must send.
type AuthFrame struct {
	APIKey string `json:"api_key"`
}

// CommandFrame is every subsequent inbound frame.
type CommandFrame struct {
	Command     Command         `json:"command"`
	RequestID   string          `json:"request_id,omitempty"`
	Params      map[string]any  `json:"params,omitempty"`
	DevWallet   string          `json:"dev_wallet,omitempty"`
	TokenName   string          `json:"token_name,omitempty"`
	TokenTicker string          `json:"token_ticker,omitempty"`
}

// ServerFrameType is the `type` discriminator on every server→client
// frame.
type ServerFrameType string

const (
	FrameAuthSuccess       ServerFrameType = "auth_success"
	FrameError             ServerFrameType = "error"
	FrameToken             ServerFrameType = "token"
	FrameSettings          ServerFrameType = "settings"
	FrameSettingsUpdated   ServerFrameType = "settings_updated"
	FrameWhitelist         ServerFrameType = "whitelist"
	FrameBlacklist         ServerFrameType = "blacklist"
	FrameWhitelistUpdated  ServerFrameType = "whitelist_updated"
	FrameBlacklistUpdated  ServerFrameType = "blacklist_updated"
	FramePong              ServerFrameType = "pong"
)

// AuthSuccessFrame is sent once, right after authentication.
type AuthSuccessFrame struct {
	Type      ServerFrameType    `json:"type"`
	Username  string             `json:"username"`
	Settings  SubscriberSettings `json:"settings"`
	Whitelist []ListEntry        `json:"whitelist"`
	Blacklist []ListEntry        `json:"blacklist"`
}

// ErrorFrame is sent on handshake failure or any command error.
type ErrorFrame struct {
	Type      ServerFrameType `json:"type"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id,omitempty"`
}

// TokenFrame carries a delivered EnrichedToken.
type TokenFrame struct {
	Type ServerFrameType `json:"type"`
	Data EnrichedToken   `json:"data"`
}

// ReplyFrame is the generic command-reply envelope.
type ReplyFrame struct {
	Type      ServerFrameType `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      any             `json:"data,omitempty"`
	Success   *bool           `json:"success,omitempty"`
}
