package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/member"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ACTIVE ROLES COMMAND
// Reconciles the guild server's activity role against the Active list the
// latest tracking run produced: roster members on the list get the role,
// roster members off it lose it.
// ══════════════════════════════════════════════════════════════════════════════

// SyncActiveRolesCommand contains the data needed to sync roles.
type SyncActiveRolesCommand struct {
	// DryRun plans role mutations without applying them.
	DryRun bool

	// ActiveIdentities overrides the Active list. Empty loads the list
	// from the configured source.
	ActiveIdentities []shared.Identity

	// RunID ties the sync to the tracking run whose Active list it
	// applies. Optional.
	RunID shared.RunID

	// CorrelationID for tracing across services.
	CorrelationID string
}

// SyncActiveRolesResult contains the result of a role sync.
type SyncActiveRolesResult struct {
	// RoleID and RoleName identify the role that was reconciled.
	RoleID   string
	RoleName string

	// MembersChecked is the count of roster members processed.
	MembersChecked int

	// Matched is the count of roster members found on the server.
	Matched int

	// NotFound lists roster members with no matching server member, in
	// roster order. They need a manual look; IGN and server name drift.
	NotFound []shared.Identity

	// Added and Removed count role mutations applied, or planned when dry
	// running.
	Added   int
	Removed int

	// AlreadyCorrect is the count of members whose role needed no change.
	AlreadyCorrect int

	// DryRun reports whether mutations were applied or only planned.
	DryRun bool

	// Errors contains mutation errors by IGN. Partial failures leave the
	// remaining members processed.
	Errors map[string]error

	// Duration is the total sync duration.
	Duration time.Duration

	// Events contains domain events generated during the sync.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// GuildRole is a role defined on the Discord server.
type GuildRole struct {
	ID   string
	Name string
}

// GuildMember is one member of the Discord server, carrying every name the
// matcher may see: server nickname, global display name, and username.
type GuildMember struct {
	UserID       string
	DisplayNames []string
	RoleIDs      []string
}

// RoleDirectory is the Discord surface the role sync needs.
type RoleDirectory interface {
	// FindRoleByName resolves a role by name, case-insensitively.
	FindRoleByName(ctx context.Context, name string) (GuildRole, error)

	// ListMembers fetches all members of the guild server.
	ListMembers(ctx context.Context) ([]GuildMember, error)

	// AddRole grants a role to a member.
	AddRole(ctx context.Context, userID, roleID string) error

	// RemoveRole revokes a role from a member.
	RemoveRole(ctx context.Context, userID, roleID string) error
}

// ActiveListSource yields the Active identities produced by the most recent
// tracking run. A source with no list yet yields an empty slice, which
// removes the role from every roster member holding it.
type ActiveListSource interface {
	ActiveIdentities(ctx context.Context) ([]shared.Identity, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SyncActiveRolesHandler handles the SyncActiveRolesCommand.
type SyncActiveRolesHandler struct {
	roleDir      RoleDirectory
	rosterRepo   member.RosterRepository
	activeSource ActiveListSource
	eventPub     shared.EventPublisher

	config SyncActiveRolesHandlerConfig
}

// SyncActiveRolesHandlerConfig contains configuration for the handler.
type SyncActiveRolesHandlerConfig struct {
	// RoleName is the role granted to Active members.
	RoleName string

	// DryRun plans mutations without applying them, regardless of the
	// command flag.
	DryRun bool
}

// DefaultSyncActiveRolesHandlerConfig returns default configuration.
func DefaultSyncActiveRolesHandlerConfig() SyncActiveRolesHandlerConfig {
	return SyncActiveRolesHandlerConfig{
		RoleName: "active coolio",
	}
}

// NewSyncActiveRolesHandler creates a new SyncActiveRolesHandler.
func NewSyncActiveRolesHandler(
	roleDir RoleDirectory,
	rosterRepo member.RosterRepository,
	activeSource ActiveListSource,
	eventPub shared.EventPublisher,
	config SyncActiveRolesHandlerConfig,
) *SyncActiveRolesHandler {
	if config.RoleName == "" {
		config.RoleName = DefaultSyncActiveRolesHandlerConfig().RoleName
	}

	return &SyncActiveRolesHandler{
		roleDir:      roleDir,
		rosterRepo:   rosterRepo,
		activeSource: activeSource,
		eventPub:     eventPub,
		config:       config,
	}
}

// Handle executes the role sync.
//
// Matching follows the roster: every roster member is looked up on the
// server by any of their display names, compared trimmed and lowercased.
// Roster members missing from the server are reported, never mutated.
func (h *SyncActiveRolesHandler) Handle(ctx context.Context, cmd SyncActiveRolesCommand) (*SyncActiveRolesResult, error) {
	startedAt := time.Now()
	dryRun := cmd.DryRun || h.config.DryRun

	result := &SyncActiveRolesResult{
		RoleName: h.config.RoleName,
		DryRun:   dryRun,
		Errors:   make(map[string]error),
		Events:   make([]shared.Event, 0, 1),
	}

	roster, err := h.rosterRepo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync_active_roles: load roster: %w", err)
	}

	activeIDs := cmd.ActiveIdentities
	if len(activeIDs) == 0 {
		if h.activeSource == nil {
			return nil, errors.New("sync_active_roles: no active list source configured")
		}
		activeIDs, err = h.activeSource.ActiveIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("sync_active_roles: load active list: %w", err)
		}
	}

	role, err := h.roleDir.FindRoleByName(ctx, h.config.RoleName)
	if err != nil {
		return nil, fmt.Errorf("sync_active_roles: resolve role %q: %w", h.config.RoleName, err)
	}
	result.RoleID = role.ID

	members, err := h.roleDir.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync_active_roles: list server members: %w", err)
	}

	byName := indexMembersByName(members)
	activeSet := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		activeSet[normalizeIGN(string(id))] = true
	}

	for _, ign := range roster.All() {
		result.MembersChecked++

		guildMember, found := byName[normalizeIGN(string(ign))]
		if !found {
			result.NotFound = append(result.NotFound, ign)
			continue
		}
		result.Matched++

		hasRole := memberHasRole(guildMember, role.ID)
		shouldHave := activeSet[normalizeIGN(string(ign))]

		switch {
		case shouldHave && !hasRole:
			result.Added++
			if !dryRun {
				if err := h.roleDir.AddRole(ctx, guildMember.UserID, role.ID); err != nil {
					result.Added--
					result.Errors[string(ign)] = err
				}
			}
		case !shouldHave && hasRole:
			result.Removed++
			if !dryRun {
				if err := h.roleDir.RemoveRole(ctx, guildMember.UserID, role.ID); err != nil {
					result.Removed--
					result.Errors[string(ign)] = err
				}
			}
		default:
			result.AlreadyCorrect++
		}
	}

	result.Duration = time.Since(startedAt)

	event := shared.NewRolesSyncedEvent(string(cmd.RunID), result.Added, result.Removed, dryRun)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	result.Events = append(result.Events, event)
	if h.eventPub != nil {
		_ = h.eventPub.Publish(event)
	}

	return result, nil
}

// indexMembersByName maps every normalized display name to its member.
// The first member claiming a name keeps it, matching roster lookup order
// on the server side.
func indexMembersByName(members []GuildMember) map[string]*GuildMember {
	byName := make(map[string]*GuildMember, len(members))
	for i := range members {
		for _, name := range members[i].DisplayNames {
			key := normalizeIGN(name)
			if key == "" {
				continue
			}
			if _, taken := byName[key]; !taken {
				byName[key] = &members[i]
			}
		}
	}
	return byName
}

// memberHasRole reports whether the member already holds the role.
func memberHasRole(m *GuildMember, roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// normalizeIGN prepares a name for matching: IGNs and server names drift in
// case and stray whitespace, never in spelling.
func normalizeIGN(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
