// Package discord implements the Discord REST API client.
// This package handles all communication with Discord: paginated retrieval
// of the join/leave embed stream from the log channel, and guild member /
// role operations for active-role sync.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coolio-hub/guild-activity-hub/pkg/circuitbreaker"
	"github.com/coolio-hub/guild-activity-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Discord API client.
type ClientConfig struct {
	// BaseURL is the Discord API base URL
	BaseURL string

	// BotToken authenticates every request ("Bot <token>" scheme)
	BotToken string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for client-side request pacing
	RateLimiterConfig RateLimiterConfig

	// Retrier controls retry behavior; nil selects the Discord preset
	Retrier *retry.Retrier

	// Breaker guards against a flapping API; nil selects the Discord preset
	Breaker *circuitbreaker.CircuitBreaker

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables per-request debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, botToken string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		BotToken:          botToken,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Discord REST API client.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	retrier     *retry.Retrier
	breaker     *circuitbreaker.CircuitBreaker
	mapper      *Mapper
}

// NewClient creates a new Discord API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      config.Logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		retrier:     config.Retrier,
		breaker:     config.Breaker,
		mapper:      NewMapper(),
	}

	if c.retrier == nil {
		c.retrier = retry.DiscordRetrier()
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.DiscordAPIBreaker(c.onBreakerStateChange)
	}

	return c
}

// Mapper returns the message-to-record mapper bound to this client.
func (c *Client) Mapper() *Mapper {
	return c.mapper
}

func (c *Client) onBreakerStateChange(name string, from, to circuitbreaker.State) {
	c.logger.Warn("discord circuit breaker state change",
		"breaker", name,
		"from", from.String(),
		"to", to.String(),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG CHANNEL HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// Fetch caps applied when the request leaves them zero.
const (
	defaultPageSize    = 100
	defaultMaxMessages = 300000
	defaultMaxDays     = 60

	// progressInterval is how many scanned messages between progress logs.
	progressInterval = 100
)

// StopReason says why a history fetch ended.
type StopReason string

const (
	// StopExhausted - the channel ran out of messages.
	StopExhausted StopReason = "channel_exhausted"

	// StopMaxMessages - the scan hit the message cap.
	StopMaxMessages StopReason = "max_messages"

	// StopMaxAge - a message fell outside the tracked window.
	StopMaxAge StopReason = "max_age"

	// StopCursor - the scan reached an already-archived message.
	StopCursor StopReason = "resume_cursor"
)

// FetchRequest describes one walk over a channel's message history.
type FetchRequest struct {
	// ChannelID is the log channel to walk
	ChannelID string

	// PageSize is messages per request (API maximum 100)
	PageSize int

	// MaxMessages caps the total number of messages scanned
	MaxMessages int

	// MaxDays bounds message age: the walk stops after the first message
	// older than MaxDays+1 days (one day of leeway, like the window the
	// classifier uses)
	MaxDays int

	// StopAtMessageID halts the walk at an already-archived message,
	// exclusive. Empty means walk the full window.
	StopAtMessageID string
}

// FetchStats reports what a history fetch did.
type FetchStats struct {
	Pages         int
	Scanned       int
	Delivered     int
	StoppedBy     StopReason
	NewestScanned time.Time
	OldestScanned time.Time
}

// PageFunc receives each fetched page, newest message first. Returning an
// error aborts the walk; pages delivered before the error stay delivered,
// which is what makes a mid-fetch crash recoverable.
type PageFunc func(ctx context.Context, page []MessageDTO) error

// FetchLogMessages walks the channel history newest-first, delivering every
// page to onPage before requesting the next one. The walk stops at the
// message cap, at the age bound, at the resume cursor, or when the channel
// is exhausted, whichever comes first.
//
// On error the returned stats still describe everything delivered so far.
func (c *Client) FetchLogMessages(ctx context.Context, req FetchRequest, onPage PageFunc) (FetchStats, error) {
	var stats FetchStats

	if req.ChannelID == "" {
		return stats, errors.New("fetch log messages: channel ID is required")
	}
	if req.PageSize <= 0 || req.PageSize > defaultPageSize {
		req.PageSize = defaultPageSize
	}
	if req.MaxMessages <= 0 {
		req.MaxMessages = defaultMaxMessages
	}
	if req.MaxDays <= 0 {
		req.MaxDays = defaultMaxDays
	}

	today := time.Now().UTC()
	oldestAllowed := today.AddDate(0, 0, -(req.MaxDays + 1))

	before := ""
	for {
		page, err := c.GetChannelMessages(ctx, req.ChannelID, before, req.PageSize)
		if err != nil {
			return stats, fmt.Errorf("fetch page %d: %w", stats.Pages+1, err)
		}
		if len(page) == 0 {
			stats.StoppedBy = StopExhausted
			return stats, nil
		}
		stats.Pages++

		// Scan the page newest-first, cutting it at whichever stop
		// condition fires first. The age bound includes the first
		// too-old message so the window edge is never clipped short.
		cut := len(page)
		for i, msg := range page {
			if req.StopAtMessageID != "" && snowflakeLE(msg.ID, req.StopAtMessageID) {
				stats.StoppedBy = StopCursor
				cut = i
				break
			}

			stats.Scanned++
			if stats.NewestScanned.IsZero() {
				stats.NewestScanned = msg.Timestamp
			}
			stats.OldestScanned = msg.Timestamp

			if stats.Scanned%progressInterval == 0 {
				c.logger.Info("history fetch progress",
					"messages", stats.Scanned,
					"max_messages", req.MaxMessages,
					"days_back", int(today.Sub(msg.Timestamp).Hours()/24),
					"max_days", req.MaxDays,
				)
			}

			if msg.Timestamp.Before(oldestAllowed) {
				stats.StoppedBy = StopMaxAge
				cut = i + 1
				break
			}
			if stats.Scanned >= req.MaxMessages {
				stats.StoppedBy = StopMaxMessages
				cut = i + 1
				break
			}
		}

		if cut > 0 {
			if err := onPage(ctx, page[:cut]); err != nil {
				return stats, fmt.Errorf("deliver page %d: %w", stats.Pages, err)
			}
			stats.Delivered += cut
		}

		if stats.StoppedBy != "" {
			return stats, nil
		}
		if len(page) < req.PageSize {
			stats.StoppedBy = StopExhausted
			return stats, nil
		}

		before = page[len(page)-1].ID
	}
}

// GetChannelMessages fetches one page of channel messages, newest first.
// An empty before cursor starts at the newest message.
func (c *Client) GetChannelMessages(ctx context.Context, channelID, before string, limit int) ([]MessageDTO, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if before != "" {
		params.Set("before", before)
	}

	path := fmt.Sprintf("/channels/%s/messages?%s", channelID, params.Encode())

	var messages []MessageDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, fmt.Errorf("get channel messages: %w", err)
	}

	return messages, nil
}

// snowflakeLE compares two message snowflakes numerically. Snowflakes are
// decimal strings without leading zeros, so length ordering is value
// ordering.
func snowflakeLE(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a <= b
}

// ══════════════════════════════════════════════════════════════════════════════
// GUILD MEMBER AND ROLE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// memberPageSize is the API maximum for the guild member list endpoint.
const memberPageSize = 1000

// GetGuildRoles fetches all roles defined in a guild.
func (c *Client) GetGuildRoles(ctx context.Context, guildID string) ([]RoleDTO, error) {
	var roles []RoleDTO
	if err := c.doRequest(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, &roles); err != nil {
		return nil, fmt.Errorf("get guild roles: %w", err)
	}
	return roles, nil
}

// FindRoleByName resolves a role by name, case-insensitively.
func (c *Client) FindRoleByName(ctx context.Context, guildID, name string) (*RoleDTO, error) {
	roles, err := c.GetGuildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}

	for i := range roles {
		if strings.EqualFold(roles[i].Name, name) {
			return &roles[i], nil
		}
	}

	return nil, fmt.Errorf("find role: no role named %q in guild %s", name, guildID)
}

// ListGuildMembers fetches all members of a guild, handling pagination.
// Requires the guild-members privileged intent on the bot.
func (c *Client) ListGuildMembers(ctx context.Context, guildID string) ([]GuildMemberDTO, error) {
	var allMembers []GuildMemberDTO
	after := ""

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(memberPageSize))
		if after != "" {
			params.Set("after", after)
		}

		path := fmt.Sprintf("/guilds/%s/members?%s", guildID, params.Encode())

		var page []GuildMemberDTO
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("list guild members after %q: %w", after, err)
		}

		allMembers = append(allMembers, page...)

		if len(page) < memberPageSize {
			return allMembers, nil
		}

		// The member list is ordered by user snowflake; the last entry
		// is the next page cursor.
		last := page[len(page)-1]
		if last.User == nil || last.User.ID == "" {
			return allMembers, nil
		}
		after = last.User.ID
	}
}

// AddMemberRole grants a role to a guild member. Adding a role the member
// already holds is a no-op on the API side.
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID)
	if err := c.doRequest(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("add member role: %w", err)
	}
	return nil
}

// RemoveMemberRole revokes a role from a guild member.
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("remove member role: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with rate limiting, circuit breaking,
// and retries.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			// Wait for the local pacing budget before touching the wire.
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}

			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
				return retry.Retryable(err)
			}

			if isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.config.BotToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "DiscordBot (github.com/coolio-hub/guild-activity-hub, 1.0)")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.config.Debug {
		c.logger.Debug("discord api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		var rl rateLimitBodyDTO
		if err := json.Unmarshal(respBody, &rl); err == nil && rl.RetryAfter > 0 {
			retryAfter = time.Duration(rl.RetryAfter * float64(time.Second))
		} else if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(seconds * float64(time.Second))
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Global:     rl.Global,
			Message:    "rate limit exceeded",
		}
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{Status: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	// Unmarshal response (role mutations return 204 with an empty body)
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isRetryable checks if an error is worth another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Rate limit errors are retryable after the advertised wait
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	// API errors: only server-side failures are retryable
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}

	// Network errors are generally retryable
	errStr := err.Error()
	return containsAny(errStr, []string{"timeout", "connection refused", "temporary", "reset", "EOF"})
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the Discord API is reachable with the configured token.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var me UserDTO
	err := c.doSingleRequest(ctx, http.MethodGet, "/users/@me", nil, &me)
	return err == nil && me.ID != ""
}

// ClientStatus describes the current state of the client's safeguards.
type ClientStatus struct {
	RateLimiter   RateLimiterStatus
	BreakerState  circuitbreaker.State
	BreakerCounts circuitbreaker.Counts
	IsHealthy     bool
}

// Status returns the current status of the client.
func (c *Client) Status(ctx context.Context) ClientStatus {
	return ClientStatus{
		RateLimiter:   c.rateLimiter.Status(),
		BreakerState:  c.breaker.State(),
		BreakerCounts: c.breaker.Counts(),
		IsHealthy:     c.IsHealthy(ctx),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
