package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/events"
	"github.com/spec-kit/modmail/internal/observability"
	"github.com/spec-kit/modmail/internal/repository"
	"github.com/spec-kit/modmail/internal/transport"
	"github.com/spec-kit/modmail/internal/transport/transporttest"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	alice = transport.User{ID: "100", Name: "alice", AvatarURL: "https://cdn.example/alice.png"}
	carol = transport.User{ID: "101", Name: "carol"}
	bob   = transport.User{ID: "900", Name: "bob", Staff: true}
	bot   = transport.User{ID: "1", Name: "modmail", Bot: true, AvatarURL: "https://cdn.example/bot.png"}
)

type harness struct {
	t         *testing.T
	ctx       context.Context
	cfg       config.TicketConfig
	clock     *clock.FakeClock
	store     repository.TicketStore
	tr        *transporttest.Recorder
	metrics   *observability.Metrics
	lifecycle *LifecycleService
	welcome   *WelcomeService
	typing    *TypingRelay
	commands  *CommandService
	router    *RouterService
	readyRuns int
}

func testTicketConfig() config.TicketConfig {
	return config.TicketConfig{
		LimitPerUser:            1,
		AutoCloseHours:          48,
		CloseConfirmation:       true,
		ConfirmTimeoutSeconds:   30,
		DeleteDelaySeconds:      5,
		SelectionTimeoutSeconds: 180,
		TypingWindowSeconds:     5,
		Categories:              []string{"Support", "Development", "Billing", "Urgent"},
	}
}

func newHarness(t *testing.T, opts ...func(*config.TicketConfig)) *harness {
	t.Helper()
	cfg := testTicketConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		cfg:     cfg,
		clock:   clock.Fake(start),
		tr:      transporttest.NewRecorder(),
		metrics: observability.NewMetrics(),
	}
	h.store = repository.NewTicketStore(cfg.LimitPerUser, h.clock, nil)
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, h.tr, nil).RegisterHandlers()

	catalog := domain.NewCategoryCatalog(cfg.Categories)
	h.lifecycle = NewLifecycleService(cfg, LifecycleDependencies{
		Store:      h.store,
		Transport:  h.tr,
		Dispatcher: dispatcher,
		Catalog:    catalog,
		Clock:      h.clock,
		Metrics:    h.metrics,
	})
	h.welcome = NewWelcomeService(h.store, h.tr, catalog, h.clock, 300*time.Second, nil)
	h.typing = NewTypingRelay(h.store, h.tr, h.clock, cfg.TypingWindow(), nil)
	h.commands = NewCommandService(h.lifecycle, h.tr, h.clock, "!", nil)
	h.router = NewRouterService(cfg, RouterDependencies{
		Store:     h.store,
		Transport: h.tr,
		Lifecycle: h.lifecycle,
		Welcome:   h.welcome,
		Typing:    h.typing,
		Commands:  h.commands,
		Clock:     h.clock,
		Metrics:   h.metrics,
		OnFirstReady: func(context.Context) {
			h.readyRuns++
		},
	})
	h.router.OnReady(h.ctx, transport.ReadyEvent{BotUser: bot})
	return h
}

func withLimit(n int) func(*config.TicketConfig) {
	return func(cfg *config.TicketConfig) { cfg.LimitPerUser = n }
}

func withoutConfirmation(cfg *config.TicketConfig) {
	cfg.CloseConfirmation = false
}

// open creates a ticket for user in category and fails the test otherwise.
func (h *harness) open(user transport.User, category string) domain.Ticket {
	h.t.Helper()
	_, ticket, err := h.lifecycle.OpenTicket(h.ctx, OpenTicketInput{User: user, Category: category})
	require.NoError(h.t, err)
	require.NotNil(h.t, ticket)
	return *ticket
}

func (h *harness) dm(user transport.User, id, content string) transport.DirectMessageEvent {
	return transport.DirectMessageEvent{
		MessageID: id,
		ChannelID: "dm-" + user.ID,
		Author:    user,
		Content:   content,
		Timestamp: h.clock.Now(),
	}
}

func (h *harness) staffMessage(channelID, id, content string) transport.ChannelMessageEvent {
	return transport.ChannelMessageEvent{
		MessageID: id,
		ChannelID: channelID,
		GuildID:   "guild",
		Author:    bob,
		Content:   content,
		Timestamp: h.clock.Now(),
	}
}

func (h *harness) press(user transport.User, channelID, customID string, values ...string) transport.InteractionResponse {
	h.t.Helper()
	h.router.OnInteraction(h.ctx, transport.InteractionEvent{
		Interaction: transport.Interaction{ID: "i-" + customID},
		User:        user,
		ChannelID:   channelID,
		CustomID:    customID,
		Values:      values,
		Direct:      channelID == "dm-"+user.ID,
	})
	resp, ok := h.tr.LastResponse()
	require.True(h.t, ok)
	return resp
}

func lastSent(t *testing.T, sent []transporttest.Sent) transporttest.Sent {
	t.Helper()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1]
}

func componentIDs(msg transport.OutgoingMessage) []string {
	var ids []string
	for _, c := range msg.Components {
		ids = append(ids, c.CustomID)
	}
	return ids
}
