// Package transporttest provides an in-memory transport.Transport that
// records every outbound call.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/transport"
)

// Operation names accepted by Fail.
const (
	OpSendDirect    = "send_direct"
	OpSendChannel   = "send_channel"
	OpAuditLog      = "audit_log"
	OpCreateChannel = "create_channel"
	OpDeleteChannel = "delete_channel"
	OpRenameChannel = "rename_channel"
	OpPin           = "pin"
	OpReaction      = "reaction"
	OpFetchUser     = "fetch_user"
	OpTyping        = "typing"
	OpDirectTyping  = "direct_typing"
	OpRespond       = "respond"
)

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("injected transport failure")

// Sent is one recorded outbound message.
type Sent struct {
	Target    string
	MessageID string
	Message   transport.OutgoingMessage
	// FileContents holds the drained content of each attached file.
	FileContents []string
}

// Reaction is one recorded reaction.
type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// Response is one recorded interaction response.
type Response struct {
	Interaction transport.Interaction
	Response    transport.InteractionResponse
}

// Recorder is a transport.Transport for tests.
type Recorder struct {
	mu sync.Mutex

	nextID   int
	failures map[string]error
	users    map[string]transport.User

	Direct      []Sent
	Channel     []Sent
	Audit       []transport.OutgoingMessage
	Created     []transport.ChannelSpec
	Deleted     []string
	Renamed     map[string]string
	Pinned      []string
	Reactions   []Reaction
	Typing      []string
	DirectTyped []string
	Responses   []Response
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		failures: make(map[string]error),
		users:    make(map[string]transport.User),
		Renamed:  make(map[string]string),
	}
}

// Fail makes every later call of op return err (ErrInjected when nil).
func (r *Recorder) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	r.failures[op] = err
}

// Recover clears an injected failure.
func (r *Recorder) Recover(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, op)
}

// AddUser registers a user returned by FetchUser.
func (r *Recorder) AddUser(u transport.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *Recorder) SendDirectMessage(_ context.Context, userID string, msg transport.OutgoingMessage) (transport.SentMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpSendDirect]; err != nil {
		return transport.SentMessage{}, err
	}
	sent := r.record(userID, msg)
	r.Direct = append(r.Direct, sent)
	return transport.SentMessage{ChannelID: "dm-" + userID, MessageID: sent.MessageID}, nil
}

func (r *Recorder) SendChannelMessage(_ context.Context, channelID string, msg transport.OutgoingMessage) (transport.SentMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpSendChannel]; err != nil {
		return transport.SentMessage{}, err
	}
	sent := r.record(channelID, msg)
	r.Channel = append(r.Channel, sent)
	return transport.SentMessage{ChannelID: channelID, MessageID: sent.MessageID}, nil
}

func (r *Recorder) SendAuditLog(_ context.Context, msg transport.OutgoingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpAuditLog]; err != nil {
		return err
	}
	r.Audit = append(r.Audit, msg)
	return nil
}

func (r *Recorder) CreateTicketChannel(_ context.Context, spec transport.ChannelSpec) (domain.ChannelRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpCreateChannel]; err != nil {
		return domain.ChannelRef{}, err
	}
	r.Created = append(r.Created, spec)
	return domain.ChannelRef{ID: fmt.Sprintf("chan-%d", len(r.Created)), Name: spec.Name}, nil
}

func (r *Recorder) DeleteChannel(_ context.Context, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpDeleteChannel]; err != nil {
		return err
	}
	r.Deleted = append(r.Deleted, channelID)
	return nil
}

func (r *Recorder) RenameChannel(_ context.Context, channelID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpRenameChannel]; err != nil {
		return err
	}
	r.Renamed[channelID] = name
	return nil
}

func (r *Recorder) PinMessage(_ context.Context, channelID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpPin]; err != nil {
		return err
	}
	r.Pinned = append(r.Pinned, messageID)
	return nil
}

func (r *Recorder) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpReaction]; err != nil {
		return err
	}
	r.Reactions = append(r.Reactions, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (r *Recorder) FetchUser(_ context.Context, userID string) (transport.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpFetchUser]; err != nil {
		return transport.User{}, err
	}
	if u, ok := r.users[userID]; ok {
		return u, nil
	}
	return transport.User{ID: userID, Name: "user-" + userID}, nil
}

func (r *Recorder) TriggerTyping(_ context.Context, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpTyping]; err != nil {
		return err
	}
	r.Typing = append(r.Typing, channelID)
	return nil
}

func (r *Recorder) TriggerDirectTyping(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpDirectTyping]; err != nil {
		return err
	}
	r.DirectTyped = append(r.DirectTyped, userID)
	return nil
}

func (r *Recorder) RespondInteraction(_ context.Context, interaction transport.Interaction, resp transport.InteractionResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[OpRespond]; err != nil {
		return err
	}
	r.Responses = append(r.Responses, Response{Interaction: interaction, Response: resp})
	return nil
}

// DirectTo returns the messages sent to userID, in order.
func (r *Recorder) DirectTo(userID string) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filter(r.Direct, userID)
}

// ChannelTo returns the messages sent to channelID, in order.
func (r *Recorder) ChannelTo(channelID string) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filter(r.Channel, channelID)
}

// LastResponse returns the most recent interaction response.
func (r *Recorder) LastResponse() (transport.InteractionResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Responses) == 0 {
		return transport.InteractionResponse{}, false
	}
	return r.Responses[len(r.Responses)-1].Response, true
}

// Counts returns how many calls of each kind were recorded.
func (r *Recorder) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{
		OpSendDirect:    len(r.Direct),
		OpSendChannel:   len(r.Channel),
		OpAuditLog:      len(r.Audit),
		OpCreateChannel: len(r.Created),
		OpDeleteChannel: len(r.Deleted),
		OpRenameChannel: len(r.Renamed),
		OpPin:           len(r.Pinned),
		OpReaction:      len(r.Reactions),
		OpTyping:        len(r.Typing),
		OpDirectTyping:  len(r.DirectTyped),
		OpRespond:       len(r.Responses),
	}
}

func (r *Recorder) record(target string, msg transport.OutgoingMessage) Sent {
	r.nextID++
	sent := Sent{Target: target, MessageID: fmt.Sprintf("msg-%d", r.nextID), Message: msg}
	for _, f := range msg.Files {
		if f.Reader == nil {
			sent.FileContents = append(sent.FileContents, "")
			continue
		}
		body, _ := io.ReadAll(f.Reader)
		sent.FileContents = append(sent.FileContents, string(body))
	}
	return sent
}

func filter(all []Sent, target string) []Sent {
	var out []Sent
	for _, s := range all {
		if s.Target == target {
			out = append(out, s)
		}
	}
	return out
}

var _ transport.Transport = (*Recorder)(nil)
