package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/transport"
	"github.com/spec-kit/modmail/internal/transport/transporttest"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

func TestDirectMessageWithoutTicketGreetsOncePerCooldown(t *testing.T) {
	h := newHarness(t)

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "hello?"))
	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d2", "anyone there?"))

	greetings := h.tr.DirectTo(alice.ID)
	require.Len(t, greetings, 1)
	menu := greetings[0].Message
	assert.Equal(t, "Support Ticket System", menu.Card.Title)
	assert.Equal(t, []string{
		"open_ticket:Support",
		"open_ticket:Development",
		"open_ticket:Billing",
		"open_ticket:Urgent",
	}, componentIDs(menu))
	assert.Equal(t, start, h.store.Snapshot().WelcomeTimestamps[alice.ID])

	h.clock.Advance(301 * time.Second)
	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d3", "still here"))
	assert.Len(t, h.tr.DirectTo(alice.ID), 2)
}

func TestGreetingFailureDoesNotConsumeCooldown(t *testing.T) {
	h := newHarness(t)
	h.tr.Fail(transporttest.OpSendDirect, nil)

	greeted, err := h.welcome.MaybeGreet(h.ctx, alice.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransportFailure(err))
	assert.False(t, greeted)

	h.tr.Recover(transporttest.OpSendDirect)
	greeted, err = h.welcome.MaybeGreet(h.ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, greeted)
}

func TestBlacklistedUserDirectMessageIsDenied(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.lifecycle.SetBlacklisted(h.ctx, alice.ID, true, staffActor(bob)))

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "let me in"))

	sent := h.tr.DirectTo(alice.ID)
	require.Len(t, sent, 1)
	assert.Equal(t, "Access Denied", sent[0].Message.Card.Title)
	assert.Empty(t, h.store.Snapshot().WelcomeTimestamps)
}

func TestIgnoredDirectMessages(t *testing.T) {
	h := newHarness(t)

	h.router.OnDirectMessage(h.ctx, h.dm(bot, "d1", "echo"))
	h.router.OnDirectMessage(h.ctx, h.dm(bob, "d2", "hi bot"))

	assert.Empty(t, h.tr.Direct)
}

func TestDirectMessageCommandIsRefused(t *testing.T) {
	h := newHarness(t)

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "!ticket stats"))

	sent := h.tr.ChannelTo("dm-" + alice.ID)
	require.Len(t, sent, 1)
	assert.Equal(t, "This command can only be used in a server.", sent[0].Message.Content)
	assert.Empty(t, h.tr.Direct)
}

func TestSupportConversationIsRelayedBothWays(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")
	channelID := ticket.Channel.ID

	h.router.OnChannelMessage(h.ctx, h.staffMessage(channelID, "s1", "Thanks, looking into it"))

	relayed := lastSent(t, h.tr.DirectTo(alice.ID))
	assert.Equal(t, "Thanks, looking into it", relayed.Message.Card.Description)
	assert.Equal(t, "bob", relayed.Message.Card.AuthorName)
	assert.Contains(t, h.tr.Reactions, transporttest.Reaction{ChannelID: channelID, MessageID: "s1", Emoji: deliveredEmoji})

	h.clock.Advance(time.Minute)
	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "It still fails on login"))

	forwarded := lastSent(t, h.tr.ChannelTo(channelID))
	assert.Equal(t, "It still fails on login", forwarded.Message.Card.Description)
	assert.Equal(t, "alice", forwarded.Message.Card.AuthorName)
	assert.Equal(t, "User ID: 100", forwarded.Message.Card.Footer)
	assert.Contains(t, h.tr.Reactions, transporttest.Reaction{ChannelID: "dm-" + alice.ID, MessageID: "d1", Emoji: deliveredEmoji})

	stored, ok := h.store.FindByChannel(channelID)
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), stored.LastActivity)
	assert.Equal(t, 2, stored.MessageCount())
	assert.True(t, stored.HasRelay(relayed.MessageID))
	assert.True(t, stored.HasRelay(forwarded.MessageID))

	snapshot := h.metrics.Snapshot()
	assert.Equal(t, int64(1), snapshot["relay|to_user|ok"])
	assert.Equal(t, int64(1), snapshot["relay|to_channel|ok"])
}

func TestUserMessageWithPrefixIsStillRelayed(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "!important, please read"))

	forwarded := lastSent(t, h.tr.ChannelTo(ticket.Channel.ID))
	assert.Equal(t, "!important, please read", forwarded.Message.Card.Description)
}

func TestAttachmentsAreRelayedAsLinks(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	ev := h.dm(alice, "d1", "")
	ev.Attachments = []transport.Attachment{{FileName: "error.png", URL: "https://cdn.example/error.png"}}
	h.router.OnDirectMessage(h.ctx, ev)

	forwarded := lastSent(t, h.tr.ChannelTo(ticket.Channel.ID))
	assert.Equal(t, noContent, forwarded.Message.Card.Description)
	require.Len(t, forwarded.Message.Card.Fields, 1)
	assert.Equal(t, "[error.png](https://cdn.example/error.png)", forwarded.Message.Card.Fields[0].Value)

	stored, _ := h.store.FindByChannel(ticket.Channel.ID)
	last := stored.Messages[len(stored.Messages)-1]
	require.Len(t, last.Attachments, 1)
	assert.Equal(t, "error.png", last.Attachments[0].FileName)
}

func TestAnonymousStaffReplies(t *testing.T) {
	h := newHarness(t, func(cfg *config.TicketConfig) { cfg.AnonymousReplies = true })
	ticket := h.open(alice, "Support")

	h.router.OnChannelMessage(h.ctx, h.staffMessage(ticket.Channel.ID, "s1", "We are on it"))

	relayed := lastSent(t, h.tr.DirectTo(alice.ID))
	assert.Equal(t, "Staff", relayed.Message.Card.AuthorName)
	assert.Equal(t, bot.AvatarURL, relayed.Message.Card.AuthorIcon)
}

func TestStaffEmbedTextIsRelayed(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	ev := h.staffMessage(ticket.Channel.ID, "s1", "See below")
	ev.EmbedText = []string{"Step 1: reset your password"}
	h.router.OnChannelMessage(h.ctx, ev)

	relayed := lastSent(t, h.tr.DirectTo(alice.ID))
	assert.Equal(t, "See below\n\nStep 1: reset your password", relayed.Message.Card.Description)
}

func TestStaffRelayFailureKeepsLogEntry(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")
	h.tr.Fail(transporttest.OpSendDirect, nil)

	h.router.OnChannelMessage(h.ctx, h.staffMessage(ticket.Channel.ID, "s1", "Can you share a screenshot?"))

	notice := lastSent(t, h.tr.ChannelTo(ticket.Channel.ID))
	assert.Equal(t, msgStaffRelayFailed, notice.Message.Content)
	stored, _ := h.store.FindByChannel(ticket.Channel.ID)
	assert.Equal(t, 1, stored.MessageCount())
	assert.Equal(t, int64(1), h.metrics.Snapshot()["relay|to_user|failed"])
}

func TestUserRelayFailureNotifiesUser(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")
	h.tr.Fail(transporttest.OpSendChannel, nil)

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "hello"))

	notice := lastSent(t, h.tr.DirectTo(alice.ID))
	assert.Equal(t, msgRelayFailed, notice.Message.Content)
	stored, _ := h.store.FindByChannel(ticket.Channel.ID)
	assert.Equal(t, 1, stored.MessageCount())
	assert.Equal(t, int64(1), h.metrics.Snapshot()["relay|to_channel|failed"])
}

func TestChannelMessagesOutsideTicketsAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.open(alice, "Support")
	before := h.tr.Counts()

	h.router.OnChannelMessage(h.ctx, h.staffMessage("general", "s1", "lunch?"))
	bots := h.staffMessage("chan-1", "s2", "automated")
	bots.Author = bot
	h.router.OnChannelMessage(h.ctx, bots)

	assert.Equal(t, before, h.tr.Counts())
}

func TestPrefixedStaffNoteIsNotRelayed(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")
	directBefore := len(h.tr.Direct)

	h.router.OnChannelMessage(h.ctx, h.staffMessage(ticket.Channel.ID, "s1", "!note user seems upset"))

	assert.Len(t, h.tr.Direct, directBefore)
	stored, _ := h.store.FindByChannel(ticket.Channel.ID)
	assert.Equal(t, 0, stored.MessageCount())
}

func TestMultipleTicketsPromptForSelection(t *testing.T) {
	h := newHarness(t, withLimit(2))
	h.open(alice, "Support")
	h.open(alice, "Billing")

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "which one gets this?"))

	prompt := lastSent(t, h.tr.DirectTo(alice.ID))
	require.Len(t, prompt.Message.Components, 1)
	menu := prompt.Message.Components[0]
	assert.Equal(t, transport.ComponentSelect, menu.Kind)
	require.True(t, strings.HasPrefix(menu.CustomID, actionTicketSelect+":"))
	require.Len(t, menu.Options, 2)
	assert.Equal(t, "chan-1", menu.Options[0].Value)
	assert.Equal(t, "Billing Ticket", menu.Options[1].Label)

	resp := h.press(alice, "dm-"+alice.ID, menu.CustomID, "chan-2")
	assert.True(t, resp.Ephemeral)
	assert.Equal(t, "Your message has been sent to your Billing ticket.", resp.Message.Content)

	forwarded := lastSent(t, h.tr.ChannelTo("chan-2"))
	assert.Equal(t, "which one gets this?", forwarded.Message.Card.Description)

	again := h.press(alice, "dm-"+alice.ID, menu.CustomID, "chan-2")
	assert.Equal(t, msgSelectionExpired, again.Message.Content)
}

func TestTicketSelectionExpires(t *testing.T) {
	h := newHarness(t, withLimit(2))
	h.open(alice, "Support")
	h.open(alice, "Billing")

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "hello"))
	menu := lastSent(t, h.tr.DirectTo(alice.ID)).Message.Components[0]

	h.clock.Advance(181 * time.Second)
	resp := h.press(alice, "dm-"+alice.ID, menu.CustomID, "chan-1")
	assert.Equal(t, msgSelectionExpired, resp.Message.Content)
	assert.Len(t, h.tr.ChannelTo("chan-1"), 1)
}

func TestTicketSelectionRejectsOtherUser(t *testing.T) {
	h := newHarness(t, withLimit(2))
	h.open(alice, "Support")
	h.open(alice, "Billing")

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "hello"))
	menu := lastSent(t, h.tr.DirectTo(alice.ID)).Message.Components[0]

	resp := h.press(carol, "dm-"+carol.ID, menu.CustomID, "chan-1")
	assert.Equal(t, msgSelectionExpired, resp.Message.Content)
}

func TestTicketSelectionRelayFailureAnswersOnce(t *testing.T) {
	h := newHarness(t, withLimit(2))
	h.open(alice, "Support")
	h.open(alice, "Billing")

	h.router.OnDirectMessage(h.ctx, h.dm(alice, "d1", "hello"))
	menu := lastSent(t, h.tr.DirectTo(alice.ID)).Message.Components[0]
	directBefore := len(h.tr.DirectTo(alice.ID))

	h.tr.Fail(transporttest.OpSendChannel, nil)
	resp := h.press(alice, "dm-"+alice.ID, menu.CustomID, "chan-2")

	assert.True(t, resp.Ephemeral)
	assert.Equal(t, msgRelayFailed, resp.Message.Content)
	assert.Len(t, h.tr.DirectTo(alice.ID), directBefore)
}

func TestReplyToRelayedMessageRoutesToThatTicket(t *testing.T) {
	h := newHarness(t, withLimit(2))
	h.open(alice, "Support")
	h.open(alice, "Billing")

	h.router.OnChannelMessage(h.ctx, h.staffMessage("chan-2", "s1", "Which invoice?"))
	relayed := lastSent(t, h.tr.DirectTo(alice.ID))
	directBefore := len(h.tr.DirectTo(alice.ID))

	ev := h.dm(alice, "d1", "Invoice 42")
	ev.ReferencedMessageID = relayed.MessageID
	h.router.OnDirectMessage(h.ctx, ev)

	forwarded := lastSent(t, h.tr.ChannelTo("chan-2"))
	assert.Equal(t, "Invoice 42", forwarded.Message.Card.Description)
	assert.Len(t, h.tr.DirectTo(alice.ID), directBefore)
}

func TestTypingIsRelayedOncePerWindow(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")
	staffTyping := transport.TypingEvent{ChannelID: ticket.Channel.ID, UserID: bob.ID}

	h.router.OnTyping(h.ctx, staffTyping)
	h.router.OnTyping(h.ctx, staffTyping)
	assert.Equal(t, []string{alice.ID}, h.tr.DirectTyped)

	h.clock.Advance(5 * time.Second)
	h.router.OnTyping(h.ctx, staffTyping)
	assert.Len(t, h.tr.DirectTyped, 2)

	h.router.OnTyping(h.ctx, transport.TypingEvent{ChannelID: "dm-" + alice.ID, UserID: alice.ID, Direct: true})
	assert.Equal(t, []string{ticket.Channel.ID}, h.tr.Typing)

	h.router.OnTyping(h.ctx, transport.TypingEvent{ChannelID: ticket.Channel.ID, UserID: bot.ID})
	h.router.OnTyping(h.ctx, transport.TypingEvent{ChannelID: "general", UserID: bob.ID})
	assert.Len(t, h.tr.DirectTyped, 2)
}

func TestReactionOnRelayedCopyIsMirrored(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")
	h.router.OnChannelMessage(h.ctx, h.staffMessage(ticket.Channel.ID, "s1", "Fixed now?"))
	relayed := lastSent(t, h.tr.DirectTo(alice.ID))

	h.router.OnReaction(h.ctx, transport.ReactionEvent{
		ChannelID: "dm-" + alice.ID,
		MessageID: relayed.MessageID,
		UserID:    alice.ID,
		Emoji:     "👍",
		Direct:    true,
	})

	last := h.tr.Reactions[len(h.tr.Reactions)-1]
	assert.Equal(t, transporttest.Reaction{ChannelID: ticket.Channel.ID, MessageID: "s1", Emoji: "👍"}, last)
}

func TestOnReadyRunsHookOnce(t *testing.T) {
	h := newHarness(t)

	h.router.OnReady(h.ctx, transport.ReadyEvent{BotUser: bot})
	assert.Equal(t, 1, h.readyRuns)
}

func TestInteractionOpensTicket(t *testing.T) {
	h := newHarness(t)

	resp := h.press(alice, "dm-"+alice.ID, "open_ticket:Urgent")
	assert.True(t, resp.Ephemeral)
	assert.Equal(t, ticketOpenedReply("Urgent"), resp.Message.Content)

	tickets := h.store.FindByOwner(alice.ID)
	require.Len(t, tickets, 1)
	assert.Equal(t, "Urgent", string(tickets[0].Category))
	summary := h.tr.ChannelTo(tickets[0].Channel.ID)[0]
	assert.Contains(t, summary.Message.Card.Description, "URGENT ticket requested")

	resp = h.press(alice, "dm-"+alice.ID, "open_ticket:Support")
	assert.Equal(t, limitMessage(1), resp.Message.Content)
}

func TestStaffOnlyInteractionsRejectUsers(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	for _, id := range []string{actionCloseTicket, actionBlacklistUser, actionArchiveTicket, actionTransferTicket} {
		resp := h.press(alice, ticket.Channel.ID, id)
		assert.Equal(t, msgNoPermission, resp.Message.Content, id)
	}
	_, open := h.store.FindByChannel(ticket.Channel.ID)
	assert.True(t, open)
	assert.False(t, h.store.IsBlacklisted(alice.ID))
}

func TestUnknownInteraction(t *testing.T) {
	h := newHarness(t)

	resp := h.press(alice, "dm-"+alice.ID, "mystery_button")
	assert.Equal(t, msgGenericFailure, resp.Message.Content)
}

func TestCloseButtonFlow(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	prompt := h.press(bob, ticket.Channel.ID, actionCloseTicket)
	assert.True(t, prompt.Ephemeral)
	ids := componentIDs(prompt.Message)
	require.Len(t, ids, 2)

	resp := h.press(bob, ticket.Channel.ID, ids[0])
	assert.Equal(t, "Ticket closed.", resp.Message.Content)
	_, open := h.store.FindByChannel(ticket.Channel.ID)
	assert.False(t, open)

	resp = h.press(bob, ticket.Channel.ID, ids[0])
	assert.Equal(t, msgConfirmExpired, resp.Message.Content)
}

func TestCloseCancelButton(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	prompt := h.press(bob, ticket.Channel.ID, actionCloseTicket)
	ids := componentIDs(prompt.Message)
	require.Len(t, ids, 2)

	resp := h.press(bob, ticket.Channel.ID, ids[1])
	assert.Equal(t, msgCloseCancelled, resp.Message.Content)
	_, open := h.store.FindByChannel(ticket.Channel.ID)
	assert.True(t, open)
}

func TestTransferButtons(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	prompt := h.press(bob, ticket.Channel.ID, actionTransferTicket)
	require.Len(t, prompt.Message.Components, 1)
	menu := prompt.Message.Components[0]
	assert.Equal(t, actionTransferSelect, menu.CustomID)
	var values []string
	for _, o := range menu.Options {
		values = append(values, o.Value)
	}
	assert.Equal(t, []string{"Development", "Billing", "Urgent"}, values)

	resp := h.press(bob, ticket.Channel.ID, actionTransferSelect, "Billing")
	assert.Equal(t, "Ticket transferred to Billing department.", resp.Message.Content)
	stored, _ := h.store.FindByChannel(ticket.Channel.ID)
	assert.Equal(t, "Billing", string(stored.Category))
}

func TestBlacklistButtonKeepsTicketOpen(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	resp := h.press(bob, ticket.Channel.ID, actionBlacklistUser)
	assert.False(t, resp.Ephemeral)
	assert.Equal(t, "User <@100> has been blacklisted from creating tickets.", resp.Message.Content)
	assert.True(t, h.store.IsBlacklisted(alice.ID))
	_, open := h.store.FindByChannel(ticket.Channel.ID)
	assert.True(t, open)
}

func TestArchiveButton(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(alice, "Support")

	resp := h.press(bob, ticket.Channel.ID, actionArchiveTicket)
	assert.Equal(t, "Ticket archived.", resp.Message.Content)
	h.clock.Advance(time.Minute)
	assert.Empty(t, h.tr.Deleted)

	resp = h.press(bob, ticket.Channel.ID, actionArchiveTicket)
	assert.Equal(t, msgTicketGone, resp.Message.Content)
}
