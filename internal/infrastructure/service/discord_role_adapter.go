package service

import (
	"context"
	"fmt"

	"github.com/coolio-hub/guild-activity-hub/internal/application/command"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/external/discord"
)

// DiscordRoleAdapter adapts the discord.Client role endpoints to the
// command.RoleDirectory interface, binding the guild server ID.
type DiscordRoleAdapter struct {
	client  *discord.Client
	guildID string
}

// NewDiscordRoleAdapter creates a role directory bound to one guild server.
func NewDiscordRoleAdapter(client *discord.Client, guildID string) *DiscordRoleAdapter {
	return &DiscordRoleAdapter{client: client, guildID: guildID}
}

// FindRoleByName implements command.RoleDirectory.
func (a *DiscordRoleAdapter) FindRoleByName(ctx context.Context, name string) (command.GuildRole, error) {
	dto, err := a.client.FindRoleByName(ctx, a.guildID, name)
	if err != nil {
		return command.GuildRole{}, fmt.Errorf("find role %q: %w", name, err)
	}
	return command.GuildRole{ID: dto.ID, Name: dto.Name}, nil
}

// ListMembers implements command.RoleDirectory.
func (a *DiscordRoleAdapter) ListMembers(ctx context.Context) ([]command.GuildMember, error) {
	dtos, err := a.client.ListGuildMembers(ctx, a.guildID)
	if err != nil {
		return nil, fmt.Errorf("list guild members: %w", err)
	}

	members := make([]command.GuildMember, 0, len(dtos))
	for _, dto := range dtos {
		m := command.GuildMember{
			DisplayNames: dto.DisplayNames(),
			RoleIDs:      dto.Roles,
		}
		if dto.User != nil {
			m.UserID = dto.User.ID
		}
		members = append(members, m)
	}
	return members, nil
}

// AddRole implements command.RoleDirectory.
func (a *DiscordRoleAdapter) AddRole(ctx context.Context, userID, roleID string) error {
	return a.client.AddMemberRole(ctx, a.guildID, userID, roleID)
}

// RemoveRole implements command.RoleDirectory.
func (a *DiscordRoleAdapter) RemoveRole(ctx context.Context, userID, roleID string) error {
	return a.client.RemoveMemberRole(ctx, a.guildID, userID, roleID)
}
