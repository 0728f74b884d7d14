// Package discord implements the Discord REST API client.
// This package handles all communication with Discord: paginated retrieval
// of the join/leave embed stream from the log channel, and guild member /
// role operations for active-role sync.
package discord

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// MessageDTO represents a channel message as returned by the Discord API.
// Only the fields the log pipeline reads are mapped; everything else in the
// payload is dropped at decode time.
type MessageDTO struct {
	// ID is the message snowflake, also the archive dedup key
	ID string `json:"id"`

	// ChannelID is the channel the message was posted in
	ChannelID string `json:"channel_id"`

	// Timestamp is when the message was posted (ISO8601, parsed by encoding/json)
	Timestamp time.Time `json:"timestamp"`

	// Content is the plain-text body (empty for pure embed messages)
	Content string `json:"content,omitempty"`

	// Embeds carries the join/leave notification payload
	Embeds []EmbedDTO `json:"embeds,omitempty"`
}

// EmbedDTO represents a message embed. The log bot encodes the event kind
// in the embed color and the member identity in the description.
type EmbedDTO struct {
	// Title is unused by the log bot but kept for debugging output
	Title string `json:"title,omitempty"`

	// Description holds the notification text
	Description string `json:"description,omitempty"`

	// Color is the embed accent color as a decimal RGB integer
	Color int `json:"color,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// GUILD MEMBER AND ROLE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// UserDTO represents the user object nested in a guild member.
type UserDTO struct {
	// ID is the user snowflake
	ID string `json:"id"`

	// Username is the account name
	Username string `json:"username"`

	// GlobalName is the display name shown across servers (may be empty)
	GlobalName string `json:"global_name,omitempty"`
}

// GuildMemberDTO represents a guild member as returned by the Discord API.
type GuildMemberDTO struct {
	// User is the underlying account; nil for some webhook-originated entries
	User *UserDTO `json:"user,omitempty"`

	// Nick is the server-specific nickname (may be empty)
	Nick string `json:"nick,omitempty"`

	// Roles is the list of role snowflakes the member holds
	Roles []string `json:"roles,omitempty"`
}

// DisplayNames returns every name the member can be matched by, most
// specific first. Empty names are omitted.
func (m GuildMemberDTO) DisplayNames() []string {
	names := make([]string, 0, 3)
	if m.Nick != "" {
		names = append(names, m.Nick)
	}
	if m.User != nil {
		if m.User.Username != "" {
			names = append(names, m.User.Username)
		}
		if m.User.GlobalName != "" {
			names = append(names, m.User.GlobalName)
		}
	}
	return names
}

// HasRole checks whether the member currently holds the given role snowflake.
func (m GuildMemberDTO) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// RoleDTO represents a guild role.
type RoleDTO struct {
	// ID is the role snowflake
	ID string `json:"id"`

	// Name is the human-readable role name, matched case-insensitively
	Name string `json:"name"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO represents a Discord API error response body.
type APIErrorDTO struct {
	// Code is Discord's numeric error code (0 when absent)
	Code int `json:"code,omitempty"`

	// Message is the human-readable error description
	Message string `json:"message,omitempty"`

	// Status is filled from the HTTP response, not the body
	Status int `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("discord api error %d: %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("discord api error: status %d", e.Status)
}

// rateLimitBodyDTO is the JSON body of a 429 response.
type rateLimitBodyDTO struct {
	// RetryAfter is seconds (fractional) to wait before retrying
	RetryAfter float64 `json:"retry_after"`

	// Global reports whether the whole token is limited, not just the route
	Global bool `json:"global,omitempty"`
}
