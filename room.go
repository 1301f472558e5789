package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

const roomClosedDelay = 2 * time.Second

// serverConn is the slice of Socket the room session depends on.
type serverConn interface {
	Request(ctx context.Context, event string, payload any) (json.RawMessage, error)
	Subscribe(fn func(Event)) func()
	OnConnectivity(fn func(bool)) func()
	Connected() bool
}

// Snapshot is a copy of the session's current view, safe for the UI to read
// without holding any lock.
type Snapshot struct {
	RoomCode   string
	PlayerID   string
	PlayerName string

	Phase    Phase
	Room     *Room
	Round    *RoundData
	Votes    *VoteProgress
	SkipVote *SkipVote
	Result   *GameResult
	IsRevote bool

	// Optimistic overlay: set locally on an acknowledged intent, always
	// superseded by the next authoritative event.
	Voted        bool
	SkipAnswered bool
}

func (s Snapshot) IsHost() bool {
	return s.Room != nil && s.Room.HostID == s.PlayerID
}

// RoomSession is the local mirror of one room. All shared state it holds is
// derived from broadcast events; a locally-initiated request never advances
// the phase, only the matching broadcast does. That keeps every participant
// converging on the same transition sequence no matter who triggered it.
type RoomSession struct {
	cfg   *Config
	sock  serverConn
	store *SessionStore

	onChange func(Snapshot)
	onNotice func(string)
	onLeave  func(reason string)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	rejoining  bool
	playerID   string
	playerName string
	roomCode   string

	room     *Room
	phase    Phase
	round    *RoundData
	votes    *VoteProgress
	skip     *SkipVote
	result   *GameResult
	isRevote bool

	voted        bool
	skipAnswered bool

	unsubEvents func()
	unsubConn   func()
}

type RoomSessionHooks struct {
	OnChange func(Snapshot)
	OnNotice func(string)
	OnLeave  func(reason string)
}

func NewRoomSession(cfg *Config, sock serverConn, store *SessionStore, hooks RoomSessionHooks) *RoomSession {
	ctx, cancel := context.WithCancel(context.Background())

	s := &RoomSession{
		cfg:      cfg,
		sock:     sock,
		store:    store,
		onChange: hooks.OnChange,
		onNotice: hooks.OnNotice,
		onLeave:  hooks.OnLeave,
		ctx:      ctx,
		cancel:   cancel,
		phase:    PhaseLobby,
	}

	if s.onChange == nil {
		s.onChange = func(Snapshot) {}
	}
	if s.onNotice == nil {
		s.onNotice = func(string) {}
	}
	if s.onLeave == nil {
		s.onLeave = func(string) {}
	}

	return s
}

// AdoptSession preloads a persisted identity so the recovery procedure can
// run as soon as connectivity is established. It does not contact the server.
func (s *RoomSession) AdoptSession(sess Session) {
	s.mu.Lock()
	s.playerID = sess.PlayerID
	s.roomCode = sess.RoomCode
	s.playerName = sess.PlayerName
	s.mu.Unlock()
}

// Start wires the session into the socket: one event subscription and one
// connectivity watcher. When connectivity comes (back) up while a persisted
// identity exists, the recovery procedure runs automatically.
func (s *RoomSession) Start() {
	s.unsubEvents = s.sock.Subscribe(s.handleEvent)
	s.unsubConn = s.sock.OnConnectivity(func(up bool) {
		if !up {
			return
		}

		s.mu.Lock()
		resumable := !s.closed && !s.rejoining && s.playerID != "" && s.roomCode != ""
		if resumable {
			s.rejoining = true
		}
		s.mu.Unlock()

		if resumable {
			go func() {
				defer func() {
					s.mu.Lock()
					s.rejoining = false
					s.mu.Unlock()
				}()
				if err := s.Rejoin(s.ctx); err != nil {
					logf(s.cfg, "ROOM: rejoin failed: %v", err)
				}
			}()
		}
	})
}

// Close tears the session down. In-flight requests and late events resolve
// against a dead session and are ignored rather than applied.
func (s *RoomSession) Close() {
	s.teardown()
}

// teardown marks the session dead and removes its socket registrations.
// Returns false if it already happened.
func (s *RoomSession) teardown() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	unsubEvents, unsubConn := s.unsubEvents, s.unsubConn
	s.mu.Unlock()

	s.cancel()
	if unsubEvents != nil {
		unsubEvents()
	}
	if unsubConn != nil {
		unsubConn()
	}
	return true
}

func (s *RoomSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *RoomSession) snapshotLocked() Snapshot {
	snap := Snapshot{
		RoomCode:     s.roomCode,
		PlayerID:     s.playerID,
		PlayerName:   s.playerName,
		Phase:        s.phase,
		IsRevote:     s.isRevote,
		Voted:        s.voted,
		SkipAnswered: s.skipAnswered,
	}

	if s.room != nil {
		room := *s.room
		room.Players = append([]Player(nil), s.room.Players...)
		room.RevoteEligible = append([]string(nil), s.room.RevoteEligible...)
		snap.Room = &room
	}
	if s.round != nil {
		round := *s.round
		snap.Round = &round
	}
	if s.votes != nil {
		votes := *s.votes
		snap.Votes = &votes
	}
	if s.skip != nil {
		skip := *s.skip
		snap.SkipVote = &skip
	}
	if s.result != nil {
		result := *s.result
		snap.Result = &result
	}

	return snap
}

func (s *RoomSession) changed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.onChange(snap)
}

func validateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("display name is required")
	}
	if utf8.RuneCountInString(name) > 20 {
		return "", errors.New("display name must be at most 20 characters")
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return "", errors.New("display name contains unprintable characters")
		}
	}
	return name, nil
}

func normalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom asks the server for a fresh room. The identity is persisted only
// after the acknowledgement; a crash in between leaves us correctly unjoined.
func (s *RoomSession) CreateRoom(ctx context.Context, name string) (string, error) {
	name, err := validateDisplayName(name)
	if err != nil {
		return "", err
	}

	raw, err := s.sock.Request(ctx, "create-room", createRoomRequest{DisplayName: name})
	if err != nil {
		return "", err
	}

	var ack createRoomAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return "", err
	}
	if !ack.Success {
		return "", errors.New(ack.Error)
	}

	if err := s.store.Save(Session{PlayerID: ack.PlayerID, RoomCode: ack.RoomCode, PlayerName: name}); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.playerID = ack.PlayerID
	s.playerName = name
	s.roomCode = ack.RoomCode
	s.phase = PhaseLobby
	s.mu.Unlock()

	logf(s.cfg, "ROOM: created %s as %s", ack.RoomCode, ack.PlayerID)
	s.changed()

	return ack.RoomCode, nil
}

// JoinRoom performs a first-time join. If the acknowledgement already carries
// an in-progress round payload, the session enters playing directly; late
// joiners are allowed mid-round in some configurations.
func (s *RoomSession) JoinRoom(ctx context.Context, code, name string) error {
	name, err := validateDisplayName(name)
	if err != nil {
		return err
	}
	code = normalizeRoomCode(code)
	if code == "" {
		return errors.New("room code is required")
	}

	raw, err := s.sock.Request(ctx, "join-room", joinRoomRequest{Code: code, DisplayName: name})
	if err != nil {
		return err
	}

	var ack joinRoomAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return errors.New(ack.Error)
	}

	if err := s.store.Save(Session{PlayerID: ack.PlayerID, RoomCode: ack.RoomCode, PlayerName: name}); err != nil {
		return err
	}

	s.mu.Lock()
	s.playerID = ack.PlayerID
	s.playerName = name
	s.roomCode = ack.RoomCode
	s.installRoomLocked(ack.Room, ack.GameState)
	s.mu.Unlock()

	logf(s.cfg, "ROOM: joined %s as %s", ack.RoomCode, ack.PlayerID)
	s.changed()

	return nil
}

// Rejoin resynchronizes a persisted identity with the authoritative room
// state, restoring phase-correct state without replaying history. A rejection
// means the room or the seat is gone: the persisted session is cleared and
// the user is sent back to the entry screen.
func (s *RoomSession) Rejoin(ctx context.Context) error {
	s.mu.Lock()
	playerID, roomCode := s.playerID, s.roomCode
	s.mu.Unlock()

	if playerID == "" || roomCode == "" {
		return errors.New("no persisted identity to rejoin with")
	}

	raw, err := s.sock.Request(ctx, "rejoin-room", rejoinRoomRequest{RoomCode: roomCode, PlayerID: playerID})
	if err != nil {
		return err
	}

	var ack rejoinRoomAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return err
	}

	if !ack.Success {
		logf(s.cfg, "ROOM: rejoin rejected for %s: %s", roomCode, ack.Error)
		if err := s.store.Clear(); err != nil {
			logf(s.cfg, "ROOM: clearing session: %v", err)
		}
		s.leave("session expired")
		return ErrStaleSession
	}

	s.mu.Lock()
	s.installRoomLocked(ack.Room, ack.GameState)
	s.mu.Unlock()

	logf(s.cfg, "ROOM: rejoined %s in phase %s", roomCode, s.Snapshot().Phase)
	s.changed()

	return nil
}

// installRoomLocked adopts an acknowledged room snapshot. With a round
// payload attached the phase is playing regardless of anything else; without
// one, the snapshot's phase is adopted directly. Callers must hold s.mu.
func (s *RoomSession) installRoomLocked(room *Room, gameState *RoundData) {
	if room != nil {
		s.adoptRoomLocked(room)
	}

	switch {
	case gameState != nil:
		s.phase = PhasePlaying
		// The payload describes the current round; anything held from
		// before the disconnect is stale.
		s.clearEphemeralLocked()
		round := *gameState
		s.round = &round
	case room != nil && room.State != "":
		s.phase = room.State
		s.isRevote = room.State == PhaseRevoting
		if room.State == PhaseLobby {
			s.clearEphemeralLocked()
		}
	}
}

func (s *RoomSession) adoptRoomLocked(room *Room) {
	if n := room.hostCount(); n != 1 {
		logf(s.cfg, "ROOM: snapshot of %s has %d hosts", room.Code, n)
	}
	copied := *room
	copied.Players = append([]Player(nil), room.Players...)
	copied.RevoteEligible = append([]string(nil), room.RevoteEligible...)
	s.room = &copied
}

func (s *RoomSession) clearEphemeralLocked() {
	s.round = nil
	s.votes = nil
	s.skip = nil
	s.result = nil
	s.isRevote = false
	s.voted = false
	s.skipAnswered = false
	if s.room != nil {
		s.room.RevoteEligible = nil
	}
}

// leave clears the local mirror and hands control back to the entry screen.
func (s *RoomSession) leave(reason string) {
	if s.teardown() {
		s.onLeave(reason)
	}
}

// notify surfaces a transient, auto-dismissing message. Errors never escalate
// past this point; no request failure is fatal to the session.
func (s *RoomSession) notify(message string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if !closed && message != "" {
		s.onNotice(message)
	}
}

// request sends an acknowledged intent. A negative acknowledgement or a
// transport failure becomes a notification and never a state transition.
func (s *RoomSession) request(ctx context.Context, event string, payload any) error {
	raw, err := s.sock.Request(ctx, event, payload)
	if err != nil {
		s.notify(err.Error())
		return err
	}

	var ack ackPayload
	if err := json.Unmarshal(raw, &ack); err != nil {
		s.notify("sunucudan geçersiz yanıt alındı")
		return err
	}
	if !ack.Success {
		s.notify(ack.Error)
		return errors.New(ack.Error)
	}

	return nil
}

func (s *RoomSession) StartGame(ctx context.Context, mode, wordType string) error {
	s.mu.Lock()
	code := s.roomCode
	s.mu.Unlock()

	return s.request(ctx, "start-game", startGameRequest{RoomCode: code, Mode: mode, WordType: wordType})
}

func (s *RoomSession) EndRound(ctx context.Context) error {
	s.mu.Lock()
	code := s.roomCode
	s.mu.Unlock()

	return s.request(ctx, "end-round", endRoundRequest{RoomCode: code})
}

// EligibleTargets lists who may currently receive a vote: the tied set during
// a revote, connected players otherwise.
func (s *RoomSession) EligibleTargets() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil {
		return nil
	}

	var out []Player
	for _, p := range s.room.Players {
		if s.isRevote {
			for _, id := range s.room.RevoteEligible {
				if p.ID == id {
					out = append(out, p)
					break
				}
			}
			continue
		}
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

// CastVote submits the bluffer-identification vote. Self-votes and targets
// outside the announced revote set are refused before any request is sent;
// the server remains the final arbiter. On acknowledgement the optimistic
// "I voted" overlay is set, pending the next authoritative tally.
func (s *RoomSession) CastVote(ctx context.Context, targetID string) error {
	s.mu.Lock()
	code := s.roomCode
	if targetID == s.playerID {
		s.mu.Unlock()
		return ErrSelfVote
	}
	if s.isRevote && s.room != nil {
		eligible := false
		for _, id := range s.room.RevoteEligible {
			if id == targetID {
				eligible = true
				break
			}
		}
		if !eligible {
			s.mu.Unlock()
			return ErrIneligibleTarget
		}
	}
	s.mu.Unlock()

	if err := s.request(ctx, "submit-vote", submitVoteRequest{RoomCode: code, TargetID: targetID}); err != nil {
		return err
	}

	s.mu.Lock()
	s.voted = true
	s.mu.Unlock()
	s.changed()

	return nil
}

func (s *RoomSession) PlayAgain(ctx context.Context) error {
	s.mu.Lock()
	code := s.roomCode
	s.mu.Unlock()

	return s.request(ctx, "play-again", playAgainRequest{RoomCode: code})
}

func (s *RoomSession) RequestSkipWord(ctx context.Context) error {
	s.mu.Lock()
	code := s.roomCode
	s.mu.Unlock()

	return s.request(ctx, "skip-word-request", skipWordRequest{RoomCode: code})
}

// AnswerSkipWord casts this client's yes/no in the skip-word sub-vote. The
// answered flag is optimistic and reset by the next authoritative sub-vote
// event.
func (s *RoomSession) AnswerSkipWord(ctx context.Context, vote bool) error {
	s.mu.Lock()
	code := s.roomCode
	s.mu.Unlock()

	if err := s.request(ctx, "skip-word-vote", skipWordVoteRequest{RoomCode: code, Vote: vote}); err != nil {
		return err
	}

	s.mu.Lock()
	s.skipAnswered = true
	s.mu.Unlock()
	s.changed()

	return nil
}

// handleEvent reconciles one inbound broadcast against the local view. It is
// the only place shared state advances.
func (s *RoomSession) handleEvent(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	notice := ""

	switch e := ev.(type) {
	case *RoomUpdated:
		s.adoptRoomLocked(&e.Room)
		if e.Room.State == PhaseLobby {
			s.phase = PhaseLobby
			s.clearEphemeralLocked()
		}

	case *GameStarted:
		s.phase = PhasePlaying
		round := RoundData(*e)
		s.round = &round
		s.skip = nil
		s.skipAnswered = false
		s.voted = false
		s.votes = nil
		s.result = nil

	case *RoundEnded:
		if e.NextState == PhaseVoting {
			s.phase = PhaseVoting
			s.isRevote = false
			s.voted = false
			s.votes = nil
		} else if s.round != nil {
			s.round.Round = e.Round
			s.round.TotalRounds = e.TotalRounds
		}

	case *VoteUpdate:
		votes := VoteProgress(*e)
		s.votes = &votes

	case *RevoteNeeded:
		s.phase = PhaseRevoting
		s.isRevote = true
		s.votes = nil
		s.voted = false
		if s.room != nil {
			ids := make([]string, 0, len(e.TiedPlayers))
			for _, p := range e.TiedPlayers {
				ids = append(ids, p.ID)
			}
			s.room.RevoteEligible = ids
		}
		names := make([]string, 0, len(e.TiedPlayers))
		for _, p := range e.TiedPlayers {
			names = append(names, p.Name)
		}
		notice = fmt.Sprintf("Beraberlik! %s arasında tekrar oylama.", strings.Join(names, " ve "))

	case *GameResultEvent:
		s.phase = PhaseResult
		result := GameResult(*e)
		s.result = &result
		s.votes = nil
		s.isRevote = false
		if s.room != nil {
			s.room.RevoteEligible = nil
		}

	case *PlayerDisconnected:
		notice = fmt.Sprintf("%s bağlantısı koptu.", e.PlayerName)

	case *PlayerReconnected:
		notice = fmt.Sprintf("%s yeniden bağlandı.", e.PlayerName)

	case *SkipWordVoteStarted:
		skip := SkipVote(*e)
		s.skip = &skip
		// The requester is auto-counted as consenting.
		s.skipAnswered = e.RequestedBy == s.playerID

	case *SkipWordVoteUpdate:
		if s.skip != nil {
			s.skip.VotedCount = e.VotedCount
			s.skip.TotalPlayers = e.TotalPlayers
		}

	case *WordChanged:
		if s.round != nil {
			s.round.Word = e.Word
			s.round.IsBluff = e.IsBluff
		}
		s.skip = nil
		s.skipAnswered = false
		if e.Approved {
			notice = "Kelime değiştirildi!"
		}

	case *SkipWordRejected:
		s.skip = nil
		s.skipAnswered = false
		notice = fmt.Sprintf("Kelime değişimi reddedildi: %d evet, %d hayır", e.YesCount, e.NoCount)

	case *RoomClosed:
		s.mu.Unlock()
		s.handleRoomClosed(e.Reason)
		return
	}

	s.mu.Unlock()

	if notice != "" {
		s.notify(notice)
	}
	s.changed()
}

// handleRoomClosed clears the persisted identity and schedules the departure
// after a short delay so the closing notice stays visible.
func (s *RoomSession) handleRoomClosed(reason string) {
	if err := s.store.Clear(); err != nil {
		logf(s.cfg, "ROOM: clearing session: %v", err)
	}

	if reason == "" {
		reason = "oda kapatıldı"
	}
	s.notify(fmt.Sprintf("Oda kapatıldı: %s", reason))

	time.AfterFunc(roomClosedDelay, func() {
		s.leave(reason)
	})
}
