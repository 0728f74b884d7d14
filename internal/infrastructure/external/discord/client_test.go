package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/pkg/circuitbreaker"
	"github.com/coolio-hub/guild-activity-hub/pkg/retry"
)

// testClientConfig returns a config with pacing and backoff tightened so
// tests run in milliseconds.
func testClientConfig(baseURL string) ClientConfig {
	cfg := DefaultClientConfig(baseURL, "test-token")
	cfg.Timeout = 5 * time.Second
	cfg.RateLimiterConfig = RateLimiterConfig{
		RequestsPerSecond: 10000,
		BurstSize:         1000,
		MinInterval:       time.Microsecond,
		WaitTimeout:       time.Second,
		RetryAfter:        time.Millisecond,
	}
	cfg.Retrier = retry.New(
		retry.WithMaxAttempts(2),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
	)
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func msgAt(id string, ts time.Time) MessageDTO {
	return MessageDTO{
		ID:        id,
		ChannelID: "555",
		Timestamp: ts,
		Embeds: []EmbedDTO{
			{Description: joinLeavePrefix + "Kirington has awoken!", Color: joinColor},
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func collectPages(collected *[]MessageDTO) PageFunc {
	return func(_ context.Context, page []MessageDTO) error {
		*collected = append(*collected, page...)
		return nil
	}
}

func TestClient_FetchLogMessages_PaginatesUntilExhausted(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	var cursors []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		cursor := r.URL.Query().Get("before")
		cursors = append(cursors, cursor)

		switch cursor {
		case "":
			writeJSON(t, w, []MessageDTO{msgAt("300", now.Add(-1*time.Hour)), msgAt("299", now.Add(-2*time.Hour))})
		case "299":
			writeJSON(t, w, []MessageDTO{msgAt("298", now.Add(-3*time.Hour))})
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	var collected []MessageDTO
	stats, err := client.FetchLogMessages(context.Background(), FetchRequest{
		ChannelID:   "555",
		PageSize:    2,
		MaxMessages: 100,
		MaxDays:     60,
	}, collectPages(&collected))

	require.NoError(t, err)
	assert.Equal(t, []string{"", "299"}, cursors)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 3, stats.Delivered)
	assert.Equal(t, StopExhausted, stats.StoppedBy)
	assert.True(t, stats.NewestScanned.Equal(now.Add(-1*time.Hour)))
	assert.True(t, stats.OldestScanned.Equal(now.Add(-3*time.Hour)))

	require.Len(t, collected, 3)
	assert.Equal(t, "300", collected[0].ID)
	assert.Equal(t, "298", collected[2].ID)
}

// The first message past the age bound is still delivered; the walk stops
// right after it so the window edge keeps its leeway day.
func TestClient_FetchLogMessages_StopsAtMaxAge(t *testing.T) {
	now := time.Now().UTC()
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(t, w, []MessageDTO{
			msgAt("300", now.Add(-1*time.Hour)),
			msgAt("299", now.AddDate(0, 0, -32)),
		})
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	var collected []MessageDTO
	stats, err := client.FetchLogMessages(context.Background(), FetchRequest{
		ChannelID: "555",
		PageSize:  2,
		MaxDays:   30,
	}, collectPages(&collected))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StopMaxAge, stats.StoppedBy)
	assert.Equal(t, 2, stats.Delivered)
	require.Len(t, collected, 2)
	assert.Equal(t, "299", collected[1].ID)
}

// The resume cursor is exclusive: the already-archived message and
// everything older stay untouched.
func TestClient_FetchLogMessages_StopsAtResumeCursor(t *testing.T) {
	now := time.Now().UTC()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []MessageDTO{
			msgAt("300", now.Add(-1*time.Hour)),
			msgAt("200", now.Add(-2*time.Hour)),
			msgAt("100", now.Add(-3*time.Hour)),
		})
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	var collected []MessageDTO
	stats, err := client.FetchLogMessages(context.Background(), FetchRequest{
		ChannelID:       "555",
		PageSize:        3,
		StopAtMessageID: "200",
	}, collectPages(&collected))

	require.NoError(t, err)
	assert.Equal(t, StopCursor, stats.StoppedBy)
	assert.Equal(t, 1, stats.Scanned)
	require.Len(t, collected, 1)
	assert.Equal(t, "300", collected[0].ID)
}

func TestClient_FetchLogMessages_StopsAtMaxMessages(t *testing.T) {
	now := time.Now().UTC()
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			writeJSON(t, w, []MessageDTO{msgAt("300", now.Add(-1*time.Hour)), msgAt("299", now.Add(-2*time.Hour))})
		default:
			writeJSON(t, w, []MessageDTO{msgAt("298", now.Add(-3*time.Hour)), msgAt("297", now.Add(-4*time.Hour))})
		}
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	var collected []MessageDTO
	stats, err := client.FetchLogMessages(context.Background(), FetchRequest{
		ChannelID:   "555",
		PageSize:    2,
		MaxMessages: 3,
	}, collectPages(&collected))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StopMaxMessages, stats.StoppedBy)
	assert.Equal(t, 3, stats.Delivered)
	require.Len(t, collected, 3)
	assert.Equal(t, "298", collected[2].ID)
}

// A failing page callback aborts the walk but keeps what was already
// delivered, which is the contract the archive-as-you-go fetch relies on.
func TestClient_FetchLogMessages_DeliverErrorKeepsEarlierPages(t *testing.T) {
	now := time.Now().UTC()
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		base := -time.Duration(calls) * time.Hour
		writeJSON(t, w, []MessageDTO{
			msgAt(strconv.Itoa(1000-calls*2), now.Add(base)),
			msgAt(strconv.Itoa(999-calls*2), now.Add(base-time.Minute)),
		})
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	pages := 0
	stats, err := client.FetchLogMessages(context.Background(), FetchRequest{
		ChannelID: "555",
		PageSize:  2,
	}, func(_ context.Context, page []MessageDTO) error {
		pages++
		if pages == 2 {
			return errors.New("archive unavailable")
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliver page 2")
	assert.Equal(t, 2, stats.Delivered)
	assert.Equal(t, 2, stats.Pages)
}

func TestClient_FetchLogMessages_RetriesServerErrors(t *testing.T) {
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	stats, err := client.FetchLogMessages(context.Background(), FetchRequest{
		ChannelID: "555",
	}, collectPages(&[]MessageDTO{}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch page 1")
	assert.Equal(t, 0, stats.Delivered)
	// Two attempts: the 500 is retryable and the test retrier allows one retry.
	assert.Equal(t, 2, calls)
}

func TestClient_GetChannelMessages_RecoversFromRateLimit(t *testing.T) {
	now := time.Now().UTC()
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.001, "global": false}`))
			return
		}
		writeJSON(t, w, []MessageDTO{msgAt("300", now)})
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	messages, err := client.GetChannelMessages(context.Background(), "555", "", 100)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, messages, 1)
	assert.Equal(t, "300", messages[0].ID)
}

func TestClient_BreakerOpensAfterPermanentFailures(t *testing.T) {
	calls := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": 10003, "message": "Unknown Channel"}`))
	}))
	defer ts.Close()

	cfg := testClientConfig(ts.URL)
	cfg.Breaker = circuitbreaker.New("discord-api", circuitbreaker.WithFailureThreshold(1))
	client := NewClient(cfg)

	_, err := client.GetChannelMessages(context.Background(), "555", "", 100)
	require.Error(t, err)
	var apiErr *APIErrorDTO
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 10003, apiErr.Code)
	// 404 is permanent: no retry burned on it.
	assert.Equal(t, 1, calls)

	_, err = client.GetChannelMessages(context.Background(), "555", "", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestClient_AddAndRemoveMemberRole(t *testing.T) {
	var gotMethod, gotPath string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	require.NoError(t, client.AddMemberRole(context.Background(), "900", "42", "7"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/guilds/900/members/42/roles/7", gotPath)

	require.NoError(t, client.RemoveMemberRole(context.Background(), "900", "42", "7"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/guilds/900/members/42/roles/7", gotPath)
}

func TestClient_FindRoleByName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/guilds/900/roles", r.URL.Path)
		writeJSON(t, w, []RoleDTO{
			{ID: "1", Name: "Officer"},
			{ID: "2", Name: "Active Coolio"},
		})
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	role, err := client.FindRoleByName(context.Background(), "900", "active coolio")
	require.NoError(t, err)
	assert.Equal(t, "2", role.ID)

	_, err = client.FindRoleByName(context.Background(), "900", "raw egg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no role named "raw egg"`)
}

func TestClient_ListGuildMembers_Paginates(t *testing.T) {
	var cursors []string

	fullPage := make([]GuildMemberDTO, memberPageSize)
	for i := range fullPage {
		fullPage[i] = GuildMemberDTO{User: &UserDTO{ID: strconv.Itoa(i + 1), Username: "member"}}
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/guilds/900/members", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))

		cursor := r.URL.Query().Get("after")
		cursors = append(cursors, cursor)

		if cursor == "" {
			writeJSON(t, w, fullPage)
			return
		}
		writeJSON(t, w, []GuildMemberDTO{
			{User: &UserDTO{ID: "1001", Username: "tail1"}, Nick: "Kirington"},
			{User: &UserDTO{ID: "1002", Username: "tail2"}},
		})
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))

	members, err := client.ListGuildMembers(context.Background(), "900")

	require.NoError(t, err)
	assert.Equal(t, []string{"", "1000"}, cursors)
	require.Len(t, members, memberPageSize+2)
	assert.Equal(t, "Kirington", members[memberPageSize].Nick)
}

func TestClient_IsHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/@me", r.URL.Path)
		writeJSON(t, w, UserDTO{ID: "42", Username: "activity-hub"})
	}))
	defer healthy.Close()

	client := NewClient(testClientConfig(healthy.URL))
	assert.True(t, client.IsHealthy(context.Background()))

	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code": 0, "message": "401: Unauthorized"}`))
	}))
	defer unauthorized.Close()

	client = NewClient(testClientConfig(unauthorized.URL))
	assert.False(t, client.IsHealthy(context.Background()))
}

func TestSnowflakeLE(t *testing.T) {
	assert.True(t, snowflakeLE("999", "1000"))
	assert.True(t, snowflakeLE("1000", "1000"))
	assert.False(t, snowflakeLE("1000", "999"))
	assert.False(t, snowflakeLE("1001", "1000"))
}
