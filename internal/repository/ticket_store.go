package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/domain"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// TicketStore is the authoritative in-memory ticket state: the active
// tickets indexed by channel and by owner, the closed-ticket log, the
// blacklist and the welcome cooldown table.
//
// The store mutex only guards map access and is never held across
// transport I/O. Multi-step sequences on one ticket are serialized by
// the caller through LockTicket.
type TicketStore interface {
	CreateTicket(owner domain.Owner, category domain.Category, channel domain.ChannelRef) (domain.Ticket, error)
	// CheckCanOpen reports the error CreateTicket would return for owner.
	CheckCanOpen(ownerID string) error
	FindByChannel(channelID string) (domain.Ticket, bool)
	FindByOwner(ownerID string) []domain.Ticket
	ActiveTickets() []domain.Ticket
	IdleTickets(threshold time.Duration) []domain.Ticket
	RecordActivity(channelID string, msg domain.TicketMessage) error
	SetRelayID(channelID, messageID, relayID string) error
	UpdateCategory(channelID string, category domain.Category, channelName string) (domain.Ticket, error)
	TryMarkTyping(channelID string, dir domain.TypingDirection) bool
	ClearTyping(channelID string, dir domain.TypingDirection)
	CloseTicket(channelID, closedBy string, reason domain.CloseReason) (domain.ClosedRecord, error)
	// RemoveTicket drops a ticket without archiving it. Used to compensate
	// a half-created ticket.
	RemoveTicket(channelID string) error
	ClosedLog(ownerID string) []domain.ClosedRecord

	SetBlacklist(userID string, blacklisted bool) bool
	IsBlacklisted(userID string) bool

	ClaimGreeting(userID string, cooldown time.Duration) (previous time.Time, ok bool)
	RestoreGreeting(userID string, previous time.Time)

	Stats(userID string) domain.Stats
	LockTicket(channelID string) (unlock func())
	LockOwner(ownerID string) (unlock func())
	Version() uint64

	Snapshot() domain.Snapshot
	Restore(snapshot domain.Snapshot)
}

type ticketStore struct {
	mu     sync.RWMutex
	clock  clock.Clock
	logger *zap.Logger
	limit  int

	byChannel   map[string]*domain.Ticket
	byOwner     map[string]map[string]struct{}
	closedLog   map[string][]domain.ClosedRecord
	blacklist   map[string]struct{}
	lastGreeted map[string]time.Time

	locks   *keyedMutex
	version uint64
}

// NewTicketStore builds an empty store enforcing limit tickets per owner.
func NewTicketStore(limit int, clk clock.Clock, logger *zap.Logger) TicketStore {
	if limit <= 0 {
		limit = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ticketStore{
		clock:       clk,
		logger:      logger,
		limit:       limit,
		byChannel:   make(map[string]*domain.Ticket),
		byOwner:     make(map[string]map[string]struct{}),
		closedLog:   make(map[string][]domain.ClosedRecord),
		blacklist:   make(map[string]struct{}),
		lastGreeted: make(map[string]time.Time),
		locks:       newKeyedMutex(),
	}
}

func (s *ticketStore) CreateTicket(owner domain.Owner, category domain.Category, channel domain.ChannelRef) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.canOpenLocked(owner.ID); err != nil {
		return domain.Ticket{}, err
	}
	if _, taken := s.byChannel[channel.ID]; taken {
		return domain.Ticket{}, apperrors.NewValidationError("channel already bound to a ticket", map[string]any{"channel_id": channel.ID})
	}

	now := s.clock.Now()
	ticket := &domain.Ticket{
		ID:           uuid.NewString(),
		Owner:        owner,
		Channel:      channel,
		Category:     category,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.byChannel[channel.ID] = ticket
	set, ok := s.byOwner[owner.ID]
	if !ok {
		set = make(map[string]struct{})
		s.byOwner[owner.ID] = set
	}
	set[channel.ID] = struct{}{}
	s.version++
	return ticket.Clone(), nil
}

func (s *ticketStore) CheckCanOpen(ownerID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canOpenLocked(ownerID)
}

func (s *ticketStore) canOpenLocked(ownerID string) error {
	if _, banned := s.blacklist[ownerID]; banned {
		return apperrors.ErrBlacklisted
	}
	if len(s.byOwner[ownerID]) >= s.limit {
		return apperrors.NewLimitExceeded(s.limit)
	}
	return nil
}

func (s *ticketStore) FindByChannel(channelID string) (domain.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return domain.Ticket{}, false
	}
	return t.Clone(), true
}

// FindByOwner returns the owner's active tickets, oldest first.
func (s *ticketStore) FindByOwner(ownerID string) []domain.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byOwner[ownerID]
	out := make([]domain.Ticket, 0, len(set))
	for channelID := range set {
		out = append(out, s.byChannel[channelID].Clone())
	}
	sortTickets(out)
	return out
}

func (s *ticketStore) ActiveTickets() []domain.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Ticket, 0, len(s.byChannel))
	for _, t := range s.byChannel {
		out = append(out, t.Clone())
	}
	sortTickets(out)
	return out
}

// IdleTickets returns open tickets idle for at least threshold.
func (s *ticketStore) IdleTickets(threshold time.Duration) []domain.Ticket {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Ticket
	for _, t := range s.byChannel {
		if t.Closed {
			continue
		}
		if t.IdleFor(now) >= threshold {
			out = append(out, t.Clone())
		}
	}
	sortTickets(out)
	return out
}

func (s *ticketStore) RecordActivity(channelID string, msg domain.TicketMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		s.logger.Warn("activity for unknown ticket ignored", zap.String("ticket_channel", channelID))
		return apperrors.ErrNotFound
	}
	now := s.clock.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	t.Messages = append(t.Messages, msg.Clone())
	t.LastActivity = now
	s.version++
	return nil
}

func (s *ticketStore) SetRelayID(channelID, messageID, relayID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return apperrors.ErrNotFound
	}
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].ID == messageID {
			t.Messages[i].RelayID = relayID
			return nil
		}
	}
	return apperrors.NewNotFound("message", map[string]any{"message_id": messageID})
}

func (s *ticketStore) UpdateCategory(channelID string, category domain.Category, channelName string) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return domain.Ticket{}, apperrors.ErrNotFound
	}
	t.Category = category
	if channelName != "" {
		t.Channel.Name = channelName
	}
	s.version++
	return t.Clone(), nil
}

func (s *ticketStore) TryMarkTyping(channelID string, dir domain.TypingDirection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok || t.Closed {
		return false
	}
	switch dir {
	case domain.TypingUser:
		if t.UserTyping {
			return false
		}
		t.UserTyping = true
	case domain.TypingStaff:
		if t.StaffTyping {
			return false
		}
		t.StaffTyping = true
	default:
		return false
	}
	return true
}

func (s *ticketStore) ClearTyping(channelID string, dir domain.TypingDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return
	}
	switch dir {
	case domain.TypingUser:
		t.UserTyping = false
	case domain.TypingStaff:
		t.StaffTyping = false
	}
}

func (s *ticketStore) CloseTicket(channelID, closedBy string, reason domain.CloseReason) (domain.ClosedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return domain.ClosedRecord{}, apperrors.ErrNotFound
	}
	t.Closed = true
	record := domain.ClosedRecord{
		TicketID:     t.ID,
		ChannelName:  t.Channel.Name,
		Category:     t.Category,
		CreatedAt:    t.CreatedAt,
		ClosedAt:     s.clock.Now(),
		ClosedBy:     closedBy,
		Reason:       reason,
		MessageCount: t.MessageCount(),
	}
	s.unlinkLocked(t)
	s.closedLog[t.Owner.ID] = append(s.closedLog[t.Owner.ID], record)
	s.version++
	return record, nil
}

func (s *ticketStore) RemoveTicket(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.unlinkLocked(t)
	s.version++
	return nil
}

// unlinkLocked removes t from both indices and prunes an empty owner set.
func (s *ticketStore) unlinkLocked(t *domain.Ticket) {
	delete(s.byChannel, t.Channel.ID)
	if set, ok := s.byOwner[t.Owner.ID]; ok {
		delete(set, t.Channel.ID)
		if len(set) == 0 {
			delete(s.byOwner, t.Owner.ID)
		}
	}
}

func (s *ticketStore) ClosedLog(ownerID string) []domain.ClosedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ClosedRecord(nil), s.closedLog[ownerID]...)
}

// SetBlacklist updates the blacklist and reports whether it changed.
func (s *ticketStore) SetBlacklist(userID string, blacklisted bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.blacklist[userID]
	if present == blacklisted {
		return false
	}
	if blacklisted {
		s.blacklist[userID] = struct{}{}
	} else {
		delete(s.blacklist, userID)
	}
	s.version++
	return true
}

func (s *ticketStore) IsBlacklisted(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blacklist[userID]
	return ok
}

// ClaimGreeting records a greeting for userID unless the previous one is
// younger than cooldown. The previous timestamp is returned so a failed
// send can be rolled back with RestoreGreeting.
func (s *ticketStore) ClaimGreeting(userID string, cooldown time.Duration) (time.Time, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.lastGreeted[userID]
	if seen && now.Sub(last) < cooldown {
		return last, false
	}
	s.lastGreeted[userID] = now
	s.version++
	return last, true
}

func (s *ticketStore) RestoreGreeting(userID string, previous time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if previous.IsZero() {
		delete(s.lastGreeted, userID)
	} else {
		s.lastGreeted[userID] = previous
	}
	s.version++
}

func (s *ticketStore) Stats(userID string) domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := domain.Stats{
		ActiveTickets:    len(s.byChannel),
		UsersWithTickets: len(s.byOwner),
		Blacklisted:      len(s.blacklist),
	}
	if userID != "" {
		stats.User = &domain.UserStats{
			UserID: userID,
			Active: len(s.byOwner[userID]),
			Closed: len(s.closedLog[userID]),
		}
	}
	return stats
}

// LockTicket serializes state transitions of one ticket.
func (s *ticketStore) LockTicket(channelID string) func() {
	return s.locks.Lock("channel:" + channelID)
}

// LockOwner serializes ticket creation for one owner.
func (s *ticketStore) LockOwner(ownerID string) func() {
	return s.locks.Lock("owner:" + ownerID)
}

// Version increases on every persisted or indexed mutation.
func (s *ticketStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *ticketStore) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := domain.Snapshot{
		BlacklistedUsers:  make([]string, 0, len(s.blacklist)),
		TicketLogs:        make(map[string][]domain.ClosedRecord, len(s.closedLog)),
		WelcomeTimestamps: make(map[string]time.Time, len(s.lastGreeted)),
	}
	for id := range s.blacklist {
		snap.BlacklistedUsers = append(snap.BlacklistedUsers, id)
	}
	sort.Strings(snap.BlacklistedUsers)
	for owner, records := range s.closedLog {
		snap.TicketLogs[owner] = append([]domain.ClosedRecord(nil), records...)
	}
	for id, at := range s.lastGreeted {
		snap.WelcomeTimestamps[id] = at
	}
	return snap
}

// Restore replaces the persisted state. Active tickets are left untouched;
// they are never part of a snapshot.
func (s *ticketStore) Restore(snapshot domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist = make(map[string]struct{}, len(snapshot.BlacklistedUsers))
	for _, id := range snapshot.BlacklistedUsers {
		s.blacklist[id] = struct{}{}
	}
	s.closedLog = make(map[string][]domain.ClosedRecord, len(snapshot.TicketLogs))
	for owner, records := range snapshot.TicketLogs {
		s.closedLog[owner] = append([]domain.ClosedRecord(nil), records...)
	}
	s.lastGreeted = make(map[string]time.Time, len(snapshot.WelcomeTimestamps))
	for id, at := range snapshot.WelcomeTimestamps {
		s.lastGreeted[id] = at
	}
}

func sortTickets(ts []domain.Ticket) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].Channel.ID < ts[j].Channel.ID
	})
}
