package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

type sentRequest struct {
	event   string
	payload any
}

// fakeConn satisfies serverConn for state machine tests without a network.
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	nextSub   int
	subs      map[int]func(Event)
	watchers  []func(bool)
	sent      []sentRequest
	respond   func(event string, payload any) (json.RawMessage, error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		connected: true,
		subs:      make(map[int]func(Event)),
		respond: func(string, any) (json.RawMessage, error) {
			return json.RawMessage(`{"success":true}`), nil
		},
	}
}

func (f *fakeConn) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{event: event, payload: payload})
	respond := f.respond
	f.mu.Unlock()

	return respond(event, payload)
}

func (f *fakeConn) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeConn) OnConnectivity(fn func(bool)) func() {
	f.mu.Lock()
	f.watchers = append(f.watchers, fn)
	current := f.connected
	f.mu.Unlock()

	fn(current)
	return func() {}
}

func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) emit(ev Event) {
	f.mu.Lock()
	handlers := make([]func(Event), 0, len(f.subs))
	for _, fn := range f.subs {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (f *fakeConn) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	events := make([]string, 0, len(f.sent))
	for _, r := range f.sent {
		events = append(events, r.event)
	}
	return events
}

type sessionFixture struct {
	session *RoomSession
	conn    *fakeConn
	store   *SessionStore
	notices chan string
	left    chan string
}

func newFixture(t *testing.T) *sessionFixture {
	t.Helper()

	fix := &sessionFixture{
		conn:    newFakeConn(),
		store:   NewSessionStore(t.TempDir()),
		notices: make(chan string, 16),
		left:    make(chan string, 1),
	}

	cfg := &Config{server: "http://localhost:3001"}
	fix.session = NewRoomSession(cfg, fix.conn, fix.store, RoomSessionHooks{
		OnNotice: func(msg string) { fix.notices <- msg },
		OnLeave:  func(reason string) { fix.left <- reason },
	})
	fix.session.Start()
	t.Cleanup(fix.session.Close)

	return fix
}

func testRoom() Room {
	return Room{
		Code:   "AB12CD",
		State:  PhaseLobby,
		HostID: "p1",
		Players: []Player{
			{ID: "p1", Name: "Ali", IsHost: true, Connected: true},
			{ID: "p2", Name: "Veli", Connected: true},
			{ID: "p3", Name: "Ayşe", Connected: true},
		},
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// join brings the fixture into the room as p1 via a successful join-room ack.
func (fix *sessionFixture) join(t *testing.T) {
	t.Helper()

	room := testRoom()
	ack := mustJSON(t, joinRoomAck{
		ackPayload: ackPayload{Success: true},
		PlayerID:   "p1",
		RoomCode:   "AB12CD",
		Room:       &room,
	})

	fix.conn.mu.Lock()
	fix.conn.respond = func(event string, payload any) (json.RawMessage, error) {
		if event == "join-room" {
			return ack, nil
		}
		return json.RawMessage(`{"success":true}`), nil
	}
	fix.conn.mu.Unlock()

	if err := fix.session.JoinRoom(context.Background(), "ab12cd", "Ali"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
}

// startRound moves the fixture into playing with a known round payload.
func (fix *sessionFixture) startRound(t *testing.T) {
	t.Helper()
	fix.conn.emit(&GameStarted{Word: "elma", Round: 1, TotalRounds: 3, Mode: ModeStandard})

	if got := fix.session.Snapshot().Phase; got != PhasePlaying {
		t.Fatalf("phase = %s, want playing", got)
	}
}

func expectNotice(t *testing.T, fix *sessionFixture, want string) {
	t.Helper()
	select {
	case got := <-fix.notices:
		if got != want {
			t.Fatalf("notice = %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("no notice received, want %q", want)
	}
}

func TestJoinPersistsIdentityOnlyAfterAck(t *testing.T) {
	fix := newFixture(t)

	fix.conn.mu.Lock()
	fix.conn.respond = func(string, any) (json.RawMessage, error) {
		return json.RawMessage(`{"success":false,"error":"Masa dolu"}`), nil
	}
	fix.conn.mu.Unlock()

	if err := fix.session.JoinRoom(context.Background(), "AB12CD", "Ali"); err == nil {
		t.Fatal("expected join rejection")
	}

	sess, err := fix.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess != (Session{}) {
		t.Fatalf("session persisted despite rejected join: %+v", sess)
	}

	fix.join(t)

	sess, err = fix.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Session{PlayerID: "p1", RoomCode: "AB12CD", PlayerName: "Ali"}
	if sess != want {
		t.Fatalf("persisted session = %+v, want %+v", sess, want)
	}
}

func TestJoinNormalizesRoomCode(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	fix.conn.mu.Lock()
	req := fix.conn.sent[0]
	fix.conn.mu.Unlock()

	join, ok := req.payload.(joinRoomRequest)
	if !ok {
		t.Fatalf("payload type %T", req.payload)
	}
	if join.Code != "AB12CD" {
		t.Fatalf("sent code %q, want upcased AB12CD", join.Code)
	}
}

func TestDisplayNameValidation(t *testing.T) {
	tests := []struct {
		name    string
		display string
		wantErr bool
	}{
		{name: "valid", display: "Ali", wantErr: false},
		{name: "empty", display: "", wantErr: true},
		{name: "whitespace only", display: "   ", wantErr: true},
		{name: "twenty chars ok", display: "abcdefghijklmnopqrst", wantErr: false},
		{name: "too long", display: "abcdefghijklmnopqrstu", wantErr: true},
		{name: "unprintable", display: "Ali\x00", wantErr: true},
		{name: "turkish chars count as one", display: "Çağrı Öztürk İbrahimm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateDisplayName(tt.display)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateDisplayName(%q) err = %v, wantErr %v", tt.display, err, tt.wantErr)
			}
		})
	}
}

func TestLobbySnapshotClearsEphemeralState(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)

	fix.conn.emit(&VoteUpdate{VotedCount: 1, TotalPlayers: 3})
	fix.conn.emit(&SkipWordVoteStarted{RequestedBy: "p1", VotedCount: 1, TotalPlayers: 3})

	room := testRoom()
	room.State = PhaseLobby
	fix.conn.emit(&RoomUpdated{Room: room})

	snap := fix.session.Snapshot()
	if snap.Phase != PhaseLobby {
		t.Fatalf("phase = %s, want lobby", snap.Phase)
	}
	if snap.Round != nil || snap.Votes != nil || snap.Result != nil || snap.SkipVote != nil {
		t.Fatal("ephemeral state not cleared on lobby snapshot")
	}
	if snap.Voted || snap.SkipAnswered || snap.IsRevote {
		t.Fatal("optimistic flags not cleared on lobby snapshot")
	}
}

func TestPhaseAdvancesOnlyOnBroadcasts(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	// Acknowledged intents alone never move the phase.
	if err := fix.session.StartGame(context.Background(), ModeStandard, ""); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if got := fix.session.Snapshot().Phase; got != PhaseLobby {
		t.Fatalf("phase moved to %s on a request ack", got)
	}

	fix.startRound(t)

	if err := fix.session.EndRound(context.Background()); err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	if got := fix.session.Snapshot().Phase; got != PhasePlaying {
		t.Fatalf("phase moved to %s on a request ack", got)
	}

	fix.conn.emit(&RoundEnded{NextState: PhaseVoting, Round: 3, TotalRounds: 3})
	if got := fix.session.Snapshot().Phase; got != PhaseVoting {
		t.Fatalf("phase = %s, want voting", got)
	}
}

func TestRejectedRequestNotifiesWithoutTransition(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	fix.conn.mu.Lock()
	fix.conn.respond = func(string, any) (json.RawMessage, error) {
		return json.RawMessage(`{"success":false,"error":"En az 2 oyuncu gerekli"}`), nil
	}
	fix.conn.mu.Unlock()

	if err := fix.session.StartGame(context.Background(), ModeStandard, ""); err == nil {
		t.Fatal("expected rejection error")
	}

	expectNotice(t, fix, "En az 2 oyuncu gerekli")

	if got := fix.session.Snapshot().Phase; got != PhaseLobby {
		t.Fatalf("phase = %s after rejected request, want lobby", got)
	}
}

func TestRoundEndedMidGameAdvancesInPlace(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)

	fix.conn.emit(&RoundEnded{NextState: PhasePlaying, Round: 2, TotalRounds: 3})

	snap := fix.session.Snapshot()
	if snap.Phase != PhasePlaying {
		t.Fatalf("phase = %s, want playing", snap.Phase)
	}
	if snap.Round == nil || snap.Round.Round != 2 || snap.Round.TotalRounds != 3 {
		t.Fatalf("round not advanced in place: %+v", snap.Round)
	}
	if snap.Round.Word != "elma" {
		t.Fatalf("word changed across round advance: %q", snap.Round.Word)
	}
}

func TestSelfVoteRejectedBeforeSend(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&RoundEnded{NextState: PhaseVoting, Round: 3, TotalRounds: 3})

	before := len(fix.conn.sentEvents())

	if err := fix.session.CastVote(context.Background(), "p1"); !errors.Is(err, ErrSelfVote) {
		t.Fatalf("err = %v, want ErrSelfVote", err)
	}

	if after := len(fix.conn.sentEvents()); after != before {
		t.Fatal("self-vote produced a network request")
	}
}

func TestRevoteNarrowsEligibleSet(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&RoundEnded{NextState: PhaseVoting, Round: 3, TotalRounds: 3})

	fix.conn.emit(&RevoteNeeded{TiedPlayers: []TiedPlayer{
		{ID: "p2", Name: "Veli"},
		{ID: "p3", Name: "Ayşe"},
	}})

	expectNotice(t, fix, "Beraberlik! Veli ve Ayşe arasında tekrar oylama.")

	snap := fix.session.Snapshot()
	if snap.Phase != PhaseRevoting || !snap.IsRevote {
		t.Fatalf("phase = %s isRevote = %v, want revoting/true", snap.Phase, snap.IsRevote)
	}
	if snap.Votes != nil {
		t.Fatal("vote progress survived into revote")
	}

	targets := fix.session.EligibleTargets()
	if len(targets) != 2 || targets[0].ID != "p2" || targets[1].ID != "p3" {
		t.Fatalf("eligible targets = %+v, want exactly p2 and p3", targets)
	}

	before := len(fix.conn.sentEvents())
	err := fix.session.CastVote(context.Background(), "p1")
	if !errors.Is(err, ErrSelfVote) {
		t.Fatalf("self vote err = %v", err)
	}

	// p1 is outside the tied set even if it were not the local player; a
	// vote for any non-tied participant must be refused client-side.
	fix.session.mu.Lock()
	fix.session.playerID = "p9"
	fix.session.mu.Unlock()
	if err := fix.session.CastVote(context.Background(), "p1"); !errors.Is(err, ErrIneligibleTarget) {
		t.Fatalf("err = %v, want ErrIneligibleTarget", err)
	}
	if after := len(fix.conn.sentEvents()); after != before {
		t.Fatal("ineligible vote produced a network request")
	}

	fix.session.mu.Lock()
	fix.session.playerID = "p1"
	fix.session.mu.Unlock()
	if err := fix.session.CastVote(context.Background(), "p2"); err != nil {
		t.Fatalf("vote for tied player: %v", err)
	}
}

func TestVoteOverlayIsSupersededByAuthoritativeEvents(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&RoundEnded{NextState: PhaseVoting, Round: 3, TotalRounds: 3})

	if err := fix.session.CastVote(context.Background(), "p2"); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if !fix.session.Snapshot().Voted {
		t.Fatal("optimistic voted flag not set after ack")
	}

	fix.conn.emit(&RevoteNeeded{TiedPlayers: []TiedPlayer{
		{ID: "p2", Name: "Veli"},
		{ID: "p3", Name: "Ayşe"},
	}})

	if fix.session.Snapshot().Voted {
		t.Fatal("optimistic voted flag survived a revote")
	}
}

func TestVoteUpdateInstallsTally(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&RoundEnded{NextState: PhaseVoting, Round: 3, TotalRounds: 3})

	fix.conn.emit(&VoteUpdate{VotedCount: 2, TotalPlayers: 3})

	snap := fix.session.Snapshot()
	if snap.Votes == nil || snap.Votes.VotedCount != 2 || snap.Votes.TotalPlayers != 3 {
		t.Fatalf("vote progress = %+v, want 2/3", snap.Votes)
	}
}

func TestGameResultInstallsAndClearsRestriction(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&RoundEnded{NextState: PhaseVoting, Round: 3, TotalRounds: 3})
	fix.conn.emit(&RevoteNeeded{TiedPlayers: []TiedPlayer{{ID: "p2", Name: "Veli"}, {ID: "p3", Name: "Ayşe"}}})

	fix.conn.emit(&GameResultEvent{
		Winner:         WinnerPlayers,
		Reason:         "Blöfçü yakalandı!",
		Word:           "elma",
		BluffPlayerIDs: []string{"p2"},
		VoteCounts:     map[string]int{"p2": 2, "p3": 1},
	})

	snap := fix.session.Snapshot()
	if snap.Phase != PhaseResult {
		t.Fatalf("phase = %s, want result", snap.Phase)
	}
	if snap.Result == nil || snap.Result.Winner != WinnerPlayers {
		t.Fatalf("result = %+v", snap.Result)
	}
	if snap.IsRevote {
		t.Fatal("revote flag survived into result")
	}
	if snap.Room != nil && snap.Room.RevoteEligible != nil {
		t.Fatal("eligible-voter restriction not cleared on result")
	}
}

func TestSkipVoteStartedCountsRequesterAsConsenting(t *testing.T) {
	tests := []struct {
		name         string
		requestedBy  string
		wantAnswered bool
	}{
		{name: "requester sees itself consented", requestedBy: "p1", wantAnswered: true},
		{name: "others see an open sub-vote", requestedBy: "p2", wantAnswered: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := newFixture(t)
			fix.join(t)
			fix.startRound(t)

			fix.conn.emit(&SkipWordVoteStarted{RequestedBy: tt.requestedBy, VotedCount: 1, TotalPlayers: 4})

			snap := fix.session.Snapshot()
			if snap.SkipVote == nil || snap.SkipVote.VotedCount != 1 || snap.SkipVote.TotalPlayers != 4 {
				t.Fatalf("skip vote = %+v, want 1/4", snap.SkipVote)
			}
			if snap.SkipAnswered != tt.wantAnswered {
				t.Fatalf("skipAnswered = %v, want %v", snap.SkipAnswered, tt.wantAnswered)
			}
		})
	}
}

func TestSkipVoteUpdateAdjustsTally(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&SkipWordVoteStarted{RequestedBy: "p2", VotedCount: 1, TotalPlayers: 4})

	fix.conn.emit(&SkipWordVoteUpdate{VotedCount: 3, TotalPlayers: 4})

	snap := fix.session.Snapshot()
	if snap.SkipVote == nil || snap.SkipVote.VotedCount != 3 {
		t.Fatalf("skip vote = %+v, want 3/4", snap.SkipVote)
	}
}

func TestSkipWordRejectedClosesSubVoteAndNotifies(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&SkipWordVoteStarted{RequestedBy: "p2", VotedCount: 1, TotalPlayers: 4})

	fix.conn.emit(&SkipWordRejected{YesCount: 1, NoCount: 3})

	expectNotice(t, fix, "Kelime değişimi reddedildi: 1 evet, 3 hayır")

	snap := fix.session.Snapshot()
	if snap.SkipVote != nil || snap.SkipAnswered {
		t.Fatal("sub-vote state not cleared on rejection")
	}
	if snap.Round == nil || snap.Round.Word != "elma" {
		t.Fatalf("round word changed on rejection: %+v", snap.Round)
	}
}

func TestWordChangedReplacesWordAndClosesSubVote(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)
	fix.conn.emit(&SkipWordVoteStarted{RequestedBy: "p1", VotedCount: 1, TotalPlayers: 3})

	fix.conn.emit(&WordChanged{Word: "armut", IsBluff: true, Approved: true})

	expectNotice(t, fix, "Kelime değiştirildi!")

	snap := fix.session.Snapshot()
	if snap.Round == nil || snap.Round.Word != "armut" || !snap.Round.IsBluff {
		t.Fatalf("round = %+v, want replaced word/bluff", snap.Round)
	}
	if snap.SkipVote != nil || snap.SkipAnswered {
		t.Fatal("sub-vote not closed on word change")
	}
	if snap.Phase != PhasePlaying {
		t.Fatalf("phase = %s, want playing", snap.Phase)
	}
}

func TestRoomClosedClearsSessionAndLeaves(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	fix.conn.emit(&RoomClosed{Reason: "Host left"})

	expectNotice(t, fix, "Oda kapatıldı: Host left")

	sess, err := fix.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess != (Session{}) {
		t.Fatalf("session not cleared on room close: %+v", sess)
	}

	select {
	case reason := <-fix.left:
		if reason != "Host left" {
			t.Fatalf("leave reason = %q", reason)
		}
	case <-time.After(roomClosedDelay + time.Second):
		t.Fatal("no departure within the closing-notice delay")
	}
}

func TestPlayerPresenceNotices(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	fix.conn.emit(&PlayerDisconnected{PlayerName: "Veli"})
	expectNotice(t, fix, "Veli bağlantısı koptu.")

	fix.conn.emit(&PlayerReconnected{PlayerName: "Veli"})
	expectNotice(t, fix, "Veli yeniden bağlandı.")
}

func TestEventsIgnoredAfterClose(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	fix.session.Close()

	fix.conn.emit(&GameStarted{Word: "elma", Round: 1, TotalRounds: 3})

	if got := fix.session.Snapshot().Phase; got != PhaseLobby {
		t.Fatalf("closed session advanced to %s", got)
	}
}

func TestRejoinWithGameStateEntersPlaying(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	room := testRoom()
	room.State = PhasePlaying
	ack := mustJSON(t, rejoinRoomAck{
		ackPayload: ackPayload{Success: true},
		Room:       &room,
		GameState:  &RoundData{Word: "kiraz", IsBluff: true, Round: 2, TotalRounds: 3},
	})

	fix.conn.mu.Lock()
	fix.conn.respond = func(event string, payload any) (json.RawMessage, error) {
		if event == "rejoin-room" {
			return ack, nil
		}
		return json.RawMessage(`{"success":true}`), nil
	}
	fix.conn.mu.Unlock()

	// Rejoin is deterministic: retrying after transient drops lands in the
	// same state every time.
	for i := 0; i < 3; i++ {
		if err := fix.session.Rejoin(context.Background()); err != nil {
			t.Fatalf("Rejoin #%d: %v", i+1, err)
		}

		snap := fix.session.Snapshot()
		if snap.Phase != PhasePlaying {
			t.Fatalf("Rejoin #%d: phase = %s, want playing", i+1, snap.Phase)
		}
		if snap.Round == nil || snap.Round.Word != "kiraz" || !snap.Round.IsBluff {
			t.Fatalf("Rejoin #%d: round = %+v", i+1, snap.Round)
		}
	}
}

func TestRejoinIntoNewRoundDropsStaleEphemeralState(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)
	fix.startRound(t)

	// Accumulate every kind of ephemeral state before the disconnect.
	fix.conn.emit(&SkipWordVoteStarted{RequestedBy: "p1", VotedCount: 1, TotalPlayers: 3})
	fix.conn.emit(&RoundEnded{NextState: PhaseVoting, Round: 3, TotalRounds: 3})
	if err := fix.session.CastVote(context.Background(), "p2"); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	fix.conn.emit(&VoteUpdate{VotedCount: 3, TotalPlayers: 3})
	fix.conn.emit(&GameResultEvent{Winner: WinnerPlayers, Reason: "Blöfçü yakalandı!", Word: "elma"})

	room := testRoom()
	room.State = PhasePlaying
	ack := mustJSON(t, rejoinRoomAck{
		ackPayload: ackPayload{Success: true},
		Room:       &room,
		GameState:  &RoundData{Word: "kiraz", Round: 1, TotalRounds: 3},
	})

	fix.conn.mu.Lock()
	fix.conn.respond = func(event string, payload any) (json.RawMessage, error) {
		if event == "rejoin-room" {
			return ack, nil
		}
		return json.RawMessage(`{"success":true}`), nil
	}
	fix.conn.mu.Unlock()

	if err := fix.session.Rejoin(context.Background()); err != nil {
		t.Fatalf("Rejoin: %v", err)
	}

	snap := fix.session.Snapshot()
	if snap.Phase != PhasePlaying {
		t.Fatalf("phase = %s, want playing", snap.Phase)
	}
	if snap.Round == nil || snap.Round.Word != "kiraz" {
		t.Fatalf("round = %+v, want the fresh round", snap.Round)
	}
	if snap.SkipVote != nil {
		t.Fatalf("stale skip-word sub-vote survived rejoin: %+v", snap.SkipVote)
	}
	if snap.Result != nil || snap.Votes != nil {
		t.Fatal("stale result or tally survived rejoin into playing")
	}
	if snap.Voted || snap.SkipAnswered {
		t.Fatalf("stale optimistic flags survived rejoin: voted=%v skipAnswered=%v", snap.Voted, snap.SkipAnswered)
	}
}

func TestRejoinWithoutGameStateAdoptsPhase(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	room := testRoom()
	room.State = PhaseVoting
	ack := mustJSON(t, rejoinRoomAck{
		ackPayload: ackPayload{Success: true},
		Room:       &room,
	})

	fix.conn.mu.Lock()
	fix.conn.respond = func(event string, payload any) (json.RawMessage, error) {
		if event == "rejoin-room" {
			return ack, nil
		}
		return json.RawMessage(`{"success":true}`), nil
	}
	fix.conn.mu.Unlock()

	if err := fix.session.Rejoin(context.Background()); err != nil {
		t.Fatalf("Rejoin: %v", err)
	}

	if got := fix.session.Snapshot().Phase; got != PhaseVoting {
		t.Fatalf("phase = %s, want voting", got)
	}
}

func TestRejoinFailureClearsSessionAndLeaves(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	fix.conn.mu.Lock()
	fix.conn.respond = func(event string, payload any) (json.RawMessage, error) {
		if event == "rejoin-room" {
			return json.RawMessage(`{"success":false,"error":"Oda bulunamadı"}`), nil
		}
		return json.RawMessage(`{"success":true}`), nil
	}
	fix.conn.mu.Unlock()

	if err := fix.session.Rejoin(context.Background()); !errors.Is(err, ErrStaleSession) {
		t.Fatalf("err = %v, want ErrStaleSession", err)
	}

	if _, err := os.Stat(fix.store.path()); !os.IsNotExist(err) {
		t.Fatal("persisted session survived a stale rejoin")
	}

	select {
	case <-fix.left:
	case <-time.After(time.Second):
		t.Fatal("no redirect to the entry screen after stale rejoin")
	}
}

func TestAdoptedSessionRejoinsWhenConnectivityArrives(t *testing.T) {
	conn := newFakeConn()
	conn.connected = false

	store := NewSessionStore(t.TempDir())
	rejoined := make(chan struct{}, 1)

	room := testRoom()
	room.State = PhaseVoting
	ackData, _ := json.Marshal(rejoinRoomAck{ackPayload: ackPayload{Success: true}, Room: &room})

	conn.respond = func(event string, payload any) (json.RawMessage, error) {
		if event == "rejoin-room" {
			rejoined <- struct{}{}
			return ackData, nil
		}
		return json.RawMessage(`{"success":true}`), nil
	}

	cfg := &Config{server: "http://localhost:3001"}
	session := NewRoomSession(cfg, conn, store, RoomSessionHooks{})
	session.AdoptSession(Session{PlayerID: "p1", RoomCode: "AB12CD", PlayerName: "Ali"})
	session.Start()
	defer session.Close()

	// Connectivity comes up after Start, as it does on a reconnect.
	conn.mu.Lock()
	conn.connected = true
	watchers := append(make([]func(bool), 0, len(conn.watchers)), conn.watchers...)
	conn.mu.Unlock()
	for _, fn := range watchers {
		fn(true)
	}

	select {
	case <-rejoined:
	case <-time.After(time.Second):
		t.Fatal("no rejoin request after connectivity came up")
	}

	deadline := time.Now().Add(time.Second)
	for snap := session.Snapshot(); snap.Phase != PhaseVoting; snap = session.Snapshot() {
		if time.Now().After(deadline) {
			t.Fatalf("phase = %s, want voting", snap.Phase)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEveryRoomSnapshotHasExactlyOneHost(t *testing.T) {
	fix := newFixture(t)
	fix.join(t)

	snap := fix.session.Snapshot()
	if snap.Room == nil {
		t.Fatal("no room installed")
	}
	if got := snap.Room.hostCount(); got != 1 {
		t.Fatalf("host count = %d, want exactly 1", got)
	}

	// Host transfer arrives as a fresh snapshot; still exactly one host.
	room := testRoom()
	room.HostID = "p2"
	room.Players[0].IsHost = false
	room.Players[1].IsHost = true
	fix.conn.emit(&RoomUpdated{Room: room})

	snap = fix.session.Snapshot()
	if got := snap.Room.hostCount(); got != 1 {
		t.Fatalf("host count after transfer = %d, want exactly 1", got)
	}
	if snap.IsHost() {
		t.Fatal("local player still believes it is host after transfer")
	}
}
