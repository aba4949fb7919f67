package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/transport"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

const (
	commandName  = "ticket"
	commandUsage = "Usage: %[1]sticket setup | blacklist @user | unblacklist @user | stats [@user] | close"
)

var userIDArg = regexp.MustCompile(`^<@!?(\d+)>$|^(\d+)$`)

// CommandService runs the staff "ticket" prefix command.
type CommandService struct {
	lifecycle *LifecycleService
	transport transport.Transport
	clock     clock.Clock
	logger    *zap.Logger
	prefix    string
}

// NewCommandService constructs the service.
func NewCommandService(lifecycle *LifecycleService, tr transport.Transport, clk clock.Clock, prefix string, logger *zap.Logger) *CommandService {
	if prefix == "" {
		prefix = "!"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CommandService{lifecycle: lifecycle, transport: tr, clock: clk, logger: logger, prefix: prefix}
}

// Parse splits a "ticket" command into its arguments.
func (s *CommandService) Parse(content string) ([]string, bool) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 || !strings.EqualFold(fields[0], s.prefix+commandName) {
		return nil, false
	}
	return fields[1:], true
}

// HasPrefix reports whether content starts with the command prefix.
func (s *CommandService) HasPrefix(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), s.prefix)
}

// HandleDirect answers a command sent in a DM. It reports whether content
// was a command.
func (s *CommandService) HandleDirect(ctx context.Context, ev transport.DirectMessageEvent) bool {
	if _, ok := s.Parse(ev.Content); !ok {
		return false
	}
	s.reply(ctx, ev.ChannelID, plain("This command can only be used in a server."))
	return true
}

// HandleChannel runs a command posted in a guild channel. It reports
// whether content was a command.
func (s *CommandService) HandleChannel(ctx context.Context, ev transport.ChannelMessageEvent) bool {
	args, ok := s.Parse(ev.Content)
	if !ok {
		return false
	}
	if !ev.Author.Staff {
		s.reply(ctx, ev.ChannelID, plain("You don't have permission to use this command."))
		return true
	}
	actor := domain.StaffActor(ev.Author.ID, ev.Author.Name)
	action := ""
	if len(args) > 0 {
		action = strings.ToLower(args[0])
		args = args[1:]
	}
	s.logger.Info("ticket command", zap.String("action", action), zap.String("actor_id", actor.ID), zap.String("channel_id", ev.ChannelID))

	switch action {
	case "setup":
		menu := welcomeMenu(s.lifecycle.Catalog(), "Click on one of the buttons below to create a new support ticket.", s.clock.Now())
		s.reply(ctx, ev.ChannelID, menu)
		s.reply(ctx, ev.ChannelID, plain("Ticket system has been set up in this channel."))
	case "blacklist":
		target, ok := commandTarget(ev, args)
		if !ok {
			s.reply(ctx, ev.ChannelID, plain("Please mention a user to blacklist."))
			return true
		}
		if err := s.lifecycle.SetBlacklisted(ctx, target.ID, true, actor); err != nil {
			s.reply(ctx, ev.ChannelID, plain(userMessage(err)))
			return true
		}
		s.reply(ctx, ev.ChannelID, plain(fmt.Sprintf("<@%s> has been blacklisted from creating tickets.", target.ID)))
	case "unblacklist":
		target, ok := commandTarget(ev, args)
		if !ok {
			s.reply(ctx, ev.ChannelID, plain("Please mention a user to remove from the blacklist."))
			return true
		}
		if !s.lifecycle.IsBlacklisted(target.ID) {
			s.reply(ctx, ev.ChannelID, plain(fmt.Sprintf("<@%s> is not in the blacklist.", target.ID)))
			return true
		}
		if err := s.lifecycle.SetBlacklisted(ctx, target.ID, false, actor); err != nil {
			s.reply(ctx, ev.ChannelID, plain(userMessage(err)))
			return true
		}
		s.reply(ctx, ev.ChannelID, plain(fmt.Sprintf("<@%s> has been removed from the blacklist.", target.ID)))
	case "stats":
		target, _ := commandTarget(ev, args)
		stats := s.lifecycle.Stats(target.ID)
		s.reply(ctx, ev.ChannelID, statsCard(stats, target.Name, s.clock.Now()))
	case "close":
		outcome, err := s.lifecycle.RequestClose(ctx, ev.ChannelID, actor)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			s.reply(ctx, ev.ChannelID, plain("This command can only be used in a ticket channel."))
		case err != nil:
			s.reply(ctx, ev.ChannelID, plain(userMessage(err)))
		case outcome.Pending():
			s.reply(ctx, ev.ChannelID, outcome.Prompt)
		}
	default:
		s.reply(ctx, ev.ChannelID, plain(fmt.Sprintf(commandUsage, s.prefix)))
	}
	return true
}

// commandTarget resolves the user a command applies to: the first mention,
// or a raw id or mention argument.
func commandTarget(ev transport.ChannelMessageEvent, args []string) (transport.User, bool) {
	if len(ev.Mentions) > 0 {
		return ev.Mentions[0], true
	}
	if len(args) == 0 {
		return transport.User{}, false
	}
	match := userIDArg.FindStringSubmatch(args[0])
	if match == nil {
		return transport.User{}, false
	}
	id := match[1] + match[2]
	return transport.User{ID: id, Name: id}, true
}

func (s *CommandService) reply(ctx context.Context, channelID string, msg transport.OutgoingMessage) {
	if _, err := s.transport.SendChannelMessage(ctx, channelID, msg); err != nil {
		s.logger.Warn("send command reply failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// userMessage turns an error into text safe to show on the platform.
func userMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return msgTicketGone
	case errors.Is(err, apperrors.ErrTimeout):
		return msgConfirmExpired
	case errors.Is(err, apperrors.ErrBlacklisted):
		return msgBlacklisted
	case errors.Is(err, apperrors.ErrLimitExceeded):
		return "You have reached the maximum number of open tickets."
	case errors.Is(err, apperrors.ErrNotIdle):
		return "This ticket has new activity and was left open."
	}
	var de *apperrors.DomainError
	if errors.As(err, &de) && de.Code == apperrors.CodeValidation {
		return de.Message
	}
	return msgGenericFailure
}
