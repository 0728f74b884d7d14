// Package service adapts infrastructure clients to the interfaces the
// application layer consumes.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coolio-hub/guild-activity-hub/internal/application/command"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/external/discord"
)

// DiscordLogAdapter adapts the discord.Client history walk to the
// command.LogFetcher interface, binding the log channel and translating
// message pages into parsed record batches.
type DiscordLogAdapter struct {
	client    *discord.Client
	mapper    *discord.Mapper
	channelID string
	pageSize  int
	logger    *slog.Logger
}

// NewDiscordLogAdapter creates a log fetcher bound to one channel.
func NewDiscordLogAdapter(client *discord.Client, channelID string, pageSize int, logger *slog.Logger) *DiscordLogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordLogAdapter{
		client:    client,
		mapper:    client.Mapper(),
		channelID: channelID,
		pageSize:  pageSize,
		logger:    logger.With("adapter", "discord_log"),
	}
}

// FetchRecords implements command.LogFetcher.
func (a *DiscordLogAdapter) FetchRecords(ctx context.Context, req command.LogFetchRequest, onBatch command.RecordBatchFunc) (command.LogFetchStats, error) {
	var out command.LogFetchStats

	fetchStats, err := a.client.FetchLogMessages(ctx, discord.FetchRequest{
		ChannelID:       a.channelID,
		PageSize:        a.pageSize,
		MaxMessages:     req.MaxMessages,
		MaxDays:         req.MaxDays,
		StopAtMessageID: string(req.ResumeCursor),
	}, func(ctx context.Context, page []discord.MessageDTO) error {
		records, mapStats := a.mapper.RecordsFromMessages(page)
		out.Parsed += mapStats.Mapped
		out.SkippedColor += mapStats.UnknownColor

		if mapStats.UnknownColor > 0 {
			a.logger.Warn("join/leave embeds with unrecognized color skipped",
				"count", mapStats.UnknownColor,
			)
		}
		if len(records) == 0 {
			return nil
		}
		return onBatch(ctx, records)
	})

	out.Scanned = fetchStats.Scanned
	out.StoppedBy = string(fetchStats.StoppedBy)

	if err != nil {
		return out, fmt.Errorf("discord log fetch: %w", err)
	}

	a.logger.Info("log channel walk finished",
		"scanned", out.Scanned,
		"parsed", out.Parsed,
		"skipped_color", out.SkippedColor,
		"stopped_by", out.StoppedBy,
	)
	return out, nil
}
