package repository

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/domain"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, limit int) (TicketStore, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	return NewTicketStore(limit, clk, nil), clk
}

func owner(id string) domain.Owner {
	return domain.Owner{ID: id, Name: "name-" + id}
}

func channel(id string) domain.ChannelRef {
	return domain.ChannelRef{ID: id, Name: "ticket-" + id}
}

func TestCreateTicketIndexesByOwnerAndChannel(t *testing.T) {
	store, _ := newStore(t, 1)

	ticket, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, epoch, ticket.CreatedAt)
	assert.Equal(t, epoch, ticket.LastActivity)
	assert.False(t, ticket.Closed)

	found, ok := store.FindByChannel("c1")
	require.True(t, ok)
	assert.Equal(t, ticket.ID, found.ID)

	owned := store.FindByOwner("u1")
	require.Len(t, owned, 1)
	assert.Equal(t, "c1", owned[0].Channel.ID)
}

func TestCreateTicketEnforcesLimit(t *testing.T) {
	store, clk := newStore(t, 2)

	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = store.CreateTicket(owner("u1"), domain.CategoryBilling, channel("c2"))
	require.NoError(t, err)

	_, err = store.CreateTicket(owner("u1"), domain.CategoryUrgent, channel("c3"))
	assert.ErrorIs(t, err, apperrors.ErrLimitExceeded)
	assert.ErrorIs(t, store.CheckCanOpen("u1"), apperrors.ErrLimitExceeded)
	_, ok := store.FindByChannel("c3")
	assert.False(t, ok)

	owned := store.FindByOwner("u1")
	require.Len(t, owned, 2)
	assert.Equal(t, "c1", owned[0].Channel.ID)
	assert.Equal(t, "c2", owned[1].Channel.ID)

	_, err = store.CloseTicket("c1", "staff-1", domain.CloseReasonManual)
	require.NoError(t, err)
	_, err = store.CreateTicket(owner("u1"), domain.CategoryUrgent, channel("c3"))
	assert.NoError(t, err)
}

func TestCreateTicketRejectsBlacklistedOwner(t *testing.T) {
	store, _ := newStore(t, 1)
	require.True(t, store.SetBlacklist("u1", true))
	version := store.Version()

	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	assert.ErrorIs(t, err, apperrors.ErrBlacklisted)
	assert.Empty(t, store.FindByOwner("u1"))
	assert.Equal(t, version, store.Version())
	assert.Equal(t, 0, store.Stats("").ActiveTickets)
}

func TestCreateTicketRejectsBoundChannel(t *testing.T) {
	store, _ := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)

	_, err = store.CreateTicket(owner("u2"), domain.CategorySupport, channel("c1"))
	require.Error(t, err)
	assert.Empty(t, store.FindByOwner("u2"))
}

func TestCloseTicketRemovesAndArchives(t *testing.T) {
	store, clk := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)
	require.NoError(t, store.RecordActivity("c1", domain.TicketMessage{ID: "pin", Pinned: true}))
	require.NoError(t, store.RecordActivity("c1", domain.TicketMessage{ID: "m1", Content: "help"}))
	require.NoError(t, store.RecordActivity("c1", domain.TicketMessage{ID: "m2", Content: "sure"}))

	clk.Advance(time.Hour)
	record, err := store.CloseTicket("c1", domain.SystemActorID, domain.CloseReasonAuto)
	require.NoError(t, err)
	assert.Equal(t, "ticket-c1", record.ChannelName)
	assert.Equal(t, domain.SystemActorID, record.ClosedBy)
	assert.Equal(t, domain.CloseReasonAuto, record.Reason)
	assert.Equal(t, 2, record.MessageCount)
	assert.Equal(t, epoch.Add(time.Hour), record.ClosedAt)

	_, ok := store.FindByChannel("c1")
	assert.False(t, ok)
	assert.Empty(t, store.FindByOwner("u1"))
	assert.Equal(t, 0, store.Stats("").UsersWithTickets)

	_, err = store.CloseTicket("c1", "staff-1", domain.CloseReasonManual)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Len(t, store.ClosedLog("u1"), 1)
}

func TestRecordActivityUnknownTicket(t *testing.T) {
	store, _ := newStore(t, 1)
	err := store.RecordActivity("missing", domain.TicketMessage{ID: "m"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRecordActivityAdvancesLastActivity(t *testing.T) {
	store, clk := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	require.NoError(t, store.RecordActivity("c1", domain.TicketMessage{ID: "m1", Content: "hello"}))
	require.NoError(t, store.SetRelayID("c1", "m1", "r1"))

	ticket, _ := store.FindByChannel("c1")
	assert.Equal(t, epoch.Add(10*time.Minute), ticket.LastActivity)
	require.Len(t, ticket.Messages, 1)
	assert.Equal(t, epoch.Add(10*time.Minute), ticket.Messages[0].CreatedAt)
	assert.True(t, ticket.HasRelay("r1"))

	assert.Error(t, store.SetRelayID("c1", "unknown", "r2"))
}

func TestFindReturnsCopies(t *testing.T) {
	store, _ := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)

	ticket, _ := store.FindByChannel("c1")
	ticket.Category = domain.CategoryUrgent
	ticket.Messages = append(ticket.Messages, domain.TicketMessage{ID: "x"})

	again, _ := store.FindByChannel("c1")
	assert.Equal(t, domain.CategorySupport, again.Category)
	assert.Empty(t, again.Messages)
}

func TestIdleTickets(t *testing.T) {
	store, clk := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = store.CreateTicket(owner("u2"), domain.CategorySupport, channel("c2"))
	require.NoError(t, err)

	clk.Advance(47 * time.Hour)
	idle := store.IdleTickets(48 * time.Hour)
	require.Len(t, idle, 1)
	assert.Equal(t, "c1", idle[0].Channel.ID)

	require.NoError(t, store.RecordActivity("c1", domain.TicketMessage{ID: "m"}))
	assert.Empty(t, store.IdleTickets(48*time.Hour))
}

func TestUpdateCategory(t *testing.T) {
	store, _ := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)

	ticket, err := store.UpdateCategory("c1", domain.CategoryBilling, "renamed")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryBilling, ticket.Category)
	assert.Equal(t, "renamed", ticket.Channel.Name)

	_, err = store.UpdateCategory("nope", domain.CategoryBilling, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTypingFlagsAllowOneRelayPerDirection(t *testing.T) {
	store, _ := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)

	assert.True(t, store.TryMarkTyping("c1", domain.TypingUser))
	assert.False(t, store.TryMarkTyping("c1", domain.TypingUser))
	assert.True(t, store.TryMarkTyping("c1", domain.TypingStaff))

	store.ClearTyping("c1", domain.TypingUser)
	assert.True(t, store.TryMarkTyping("c1", domain.TypingUser))
	assert.False(t, store.TryMarkTyping("missing", domain.TypingUser))
}

func TestBlacklistReportsChanges(t *testing.T) {
	store, _ := newStore(t, 1)
	assert.True(t, store.SetBlacklist("u1", true))
	assert.False(t, store.SetBlacklist("u1", true))
	assert.True(t, store.IsBlacklisted("u1"))
	assert.True(t, store.SetBlacklist("u1", false))
	assert.False(t, store.SetBlacklist("u1", false))
	assert.False(t, store.IsBlacklisted("u1"))
}

func TestBlacklistDoesNotAffectOpenTickets(t *testing.T) {
	store, _ := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)
	store.SetBlacklist("u1", true)

	_, ok := store.FindByChannel("c1")
	assert.True(t, ok)
	assert.NoError(t, store.RecordActivity("c1", domain.TicketMessage{ID: "m"}))
}

func TestClaimGreetingCooldown(t *testing.T) {
	store, clk := newStore(t, 1)
	cooldown := 300 * time.Second

	prev, ok := store.ClaimGreeting("u1", cooldown)
	assert.True(t, ok)
	assert.True(t, prev.IsZero())

	clk.Advance(299 * time.Second)
	_, ok = store.ClaimGreeting("u1", cooldown)
	assert.False(t, ok)

	clk.Advance(2 * time.Second)
	prev, ok = store.ClaimGreeting("u1", cooldown)
	assert.True(t, ok)
	assert.Equal(t, epoch, prev)

	store.RestoreGreeting("u1", prev)
	assert.Equal(t, epoch, store.Snapshot().WelcomeTimestamps["u1"])

	store.RestoreGreeting("u1", time.Time{})
	_, present := store.Snapshot().WelcomeTimestamps["u1"]
	assert.False(t, present)
}

func TestStats(t *testing.T) {
	store, _ := newStore(t, 2)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)
	_, err = store.CreateTicket(owner("u1"), domain.CategoryBilling, channel("c2"))
	require.NoError(t, err)
	_, err = store.CreateTicket(owner("u2"), domain.CategorySupport, channel("c3"))
	require.NoError(t, err)
	_, err = store.CloseTicket("c3", "staff", domain.CloseReasonManual)
	require.NoError(t, err)
	store.SetBlacklist("u9", true)

	stats := store.Stats("u2")
	assert.Equal(t, 2, stats.ActiveTickets)
	assert.Equal(t, 1, stats.UsersWithTickets)
	assert.Equal(t, 1, stats.Blacklisted)
	require.NotNil(t, stats.User)
	assert.Equal(t, 0, stats.User.Active)
	assert.Equal(t, 1, stats.User.Closed)
	assert.Nil(t, store.Stats("").User)
}

func TestSnapshotRestoreKeepsOnlyPersistentState(t *testing.T) {
	store, clk := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)
	_, err = store.CloseTicket("c1", "staff", domain.CloseReasonManual)
	require.NoError(t, err)
	_, err = store.CreateTicket(owner("u2"), domain.CategorySupport, channel("c2"))
	require.NoError(t, err)
	store.SetBlacklist("u3", true)
	store.ClaimGreeting("u4", time.Minute)

	snap := store.Snapshot()
	assert.Equal(t, []string{"u3"}, snap.BlacklistedUsers)
	assert.Len(t, snap.TicketLogs["u1"], 1)
	assert.Equal(t, epoch, snap.WelcomeTimestamps["u4"])

	restored := NewTicketStore(1, clk, nil)
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())
	assert.True(t, restored.IsBlacklisted("u3"))
	_, ok := restored.FindByChannel("c2")
	assert.False(t, ok)
	assert.Equal(t, 0, restored.Stats("").ActiveTickets)
}

func TestConcurrentCreateNeverExceedsLimit(t *testing.T) {
	store, _ := newStore(t, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel(fmt.Sprintf("c%d", i))); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, store.FindByOwner("u1"), 1)
}

func TestConcurrentCloseSucceedsOnce(t *testing.T) {
	store, _ := newStore(t, 1)
	_, err := store.CreateTicket(owner("u1"), domain.CategorySupport, channel("c1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	closed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.CloseTicket("c1", "staff", domain.CloseReasonManual); err == nil {
				mu.Lock()
				closed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, closed)
	assert.Len(t, store.ClosedLog("u1"), 1)
}

func TestKeyedMutexSerializesAndFrees(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("c1")
	acquired := make(chan struct{})
	go func() {
		release := locks.Lock("c1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	other := locks.Lock("c2")
	other()

	unlock()
	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, time.Millisecond)
}
