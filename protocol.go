package main

import (
	"encoding/json"
	"fmt"
)

// Wire format: JSON envelopes over a single ordered stream. Requests carry an
// id that the server echoes back on the matching "ack" envelope; broadcasts
// carry no id and are never acknowledged.
type envelope struct {
	Event string          `json:"event"`
	ID    int64           `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const ackEvent = "ack"

// Phase is the room's current stage. Values match the wire strings.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhasePlaying  Phase = "playing"
	PhaseVoting   Phase = "voting"
	PhaseRevoting Phase = "revoting"
	PhaseResult   Phase = "result"
)

// Winner categories in a game result.
const (
	WinnerPlayers = "players"
	WinnerBluffer = "bluffer"
	WinnerNobody  = "nobody"
	WinnerChaos   = "chaos"
)

// Game modes the host can pick in the lobby.
const (
	ModeStandard = "standard"
	ModeFun      = "fun"
)

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

type Room struct {
	Code           string   `json:"code"`
	State          Phase    `json:"state"`
	HostID         string   `json:"hostId"`
	Players        []Player `json:"players"`
	RevoteEligible []string `json:"revoteEligible,omitempty"`
}

// hostCount returns how many players carry the host flag. The server
// guarantees exactly one; anything else is logged as a protocol violation.
func (r *Room) hostCount() int {
	n := 0
	for _, p := range r.Players {
		if p.IsHost {
			n++
		}
	}
	return n
}

func (r *Room) player(id string) *Player {
	for i := range r.Players {
		if r.Players[i].ID == id {
			return &r.Players[i]
		}
	}
	return nil
}

// RoundData is the per-round secret handed to this client only.
type RoundData struct {
	Word          string `json:"word"`
	IsBluff       bool   `json:"isBluff"`
	Round         int    `json:"round"`
	TotalRounds   int    `json:"totalRounds"`
	Mode          string `json:"mode,omitempty"`
	Twist         string `json:"twist,omitempty"`
	TimerDuration int    `json:"timerDuration,omitempty"`
	SilentRound   bool   `json:"silentRound,omitempty"`
}

// VoteProgress is the running tally during voting. Individual choices are
// never exposed, only counts.
type VoteProgress struct {
	VotedCount   int `json:"votedCount"`
	TotalPlayers int `json:"totalPlayers"`
}

// SkipVote is the ephemeral unanimous-consent poll a host can open mid-round.
type SkipVote struct {
	RequestedBy  string `json:"requestedBy"`
	VotedCount   int    `json:"votedCount"`
	TotalPlayers int    `json:"totalPlayers"`
}

type GameResult struct {
	Winner         string            `json:"winner"`
	Reason         string            `json:"reason"`
	Word           string            `json:"word"`
	BluffPlayerIDs []string          `json:"bluffPlayerIds"`
	VoteCounts     map[string]int    `json:"voteCounts,omitempty"`
	PlayerWords    map[string]string `json:"playerWords,omitempty"`
	PlayerNames    map[string]string `json:"playerNames,omitempty"`
}

// Client -> Server requests. Every request is acknowledged with an ack
// envelope whose payload starts with {success, error?}.

type createRoomRequest struct {
	DisplayName string `json:"displayName"`
}

type joinRoomRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

type rejoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
}

type startGameRequest struct {
	RoomCode string `json:"roomCode"`
	Mode     string `json:"mode"`
	WordType string `json:"wordType,omitempty"`
}

type endRoundRequest struct {
	RoomCode string `json:"roomCode"`
}

type submitVoteRequest struct {
	RoomCode string `json:"roomCode"`
	TargetID string `json:"targetId"`
}

type playAgainRequest struct {
	RoomCode string `json:"roomCode"`
}

type skipWordRequest struct {
	RoomCode string `json:"roomCode"`
}

type skipWordVoteRequest struct {
	RoomCode string `json:"roomCode"`
	Vote     bool   `json:"vote"`
}

// ackPayload is the common prefix of every acknowledgement.
type ackPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type createRoomAck struct {
	ackPayload
	PlayerID string `json:"playerId,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`
}

type joinRoomAck struct {
	ackPayload
	PlayerID  string     `json:"playerId,omitempty"`
	RoomCode  string     `json:"roomCode,omitempty"`
	Room      *Room      `json:"room,omitempty"`
	GameState *RoundData `json:"gameState,omitempty"`
}

type rejoinRoomAck struct {
	ackPayload
	Room      *Room      `json:"room,omitempty"`
	GameState *RoundData `json:"gameState,omitempty"`
}

// Server -> Client broadcast events, modeled as a closed union so the state
// machine can switch exhaustively on the concrete type.

type Event interface{ isEvent() }

type RoomUpdated struct {
	Room Room `json:"room"`
}

type GameStarted RoundData

type RoundEnded struct {
	NextState   Phase `json:"nextState"`
	Round       int   `json:"round"`
	TotalRounds int   `json:"totalRounds"`
}

type VoteUpdate VoteProgress

type TiedPlayer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RevoteNeeded struct {
	TiedPlayers []TiedPlayer `json:"tiedPlayers"`
}

type GameResultEvent GameResult

type PlayerDisconnected struct {
	PlayerName string `json:"playerName"`
}

type PlayerReconnected struct {
	PlayerName string `json:"playerName"`
}

type SkipWordVoteStarted SkipVote

type SkipWordVoteUpdate struct {
	VotedCount   int `json:"votedCount"`
	TotalPlayers int `json:"totalPlayers"`
}

type WordChanged struct {
	Word     string `json:"word"`
	IsBluff  bool   `json:"isBluff"`
	Approved bool   `json:"approved"`
}

type SkipWordRejected struct {
	YesCount int `json:"yesCount"`
	NoCount  int `json:"noCount"`
}

type RoomClosed struct {
	Reason string `json:"reason"`
}

func (RoomUpdated) isEvent()         {}
func (GameStarted) isEvent()         {}
func (RoundEnded) isEvent()          {}
func (VoteUpdate) isEvent()          {}
func (RevoteNeeded) isEvent()        {}
func (GameResultEvent) isEvent()     {}
func (PlayerDisconnected) isEvent()  {}
func (PlayerReconnected) isEvent()   {}
func (SkipWordVoteStarted) isEvent() {}
func (SkipWordVoteUpdate) isEvent()  {}
func (WordChanged) isEvent()         {}
func (SkipWordRejected) isEvent()    {}
func (RoomClosed) isEvent()          {}

// decodeEvent maps a broadcast envelope onto its typed event.
func decodeEvent(name string, data json.RawMessage) (Event, error) {
	var ev Event
	switch name {
	case "room-updated":
		ev = &RoomUpdated{}
	case "game-started":
		ev = &GameStarted{}
	case "round-ended":
		ev = &RoundEnded{}
	case "vote-update":
		ev = &VoteUpdate{}
	case "revote-needed":
		ev = &RevoteNeeded{}
	case "game-result":
		ev = &GameResultEvent{}
	case "player-disconnected":
		ev = &PlayerDisconnected{}
	case "player-reconnected":
		ev = &PlayerReconnected{}
	case "skip-word-vote-started":
		ev = &SkipWordVoteStarted{}
	case "skip-word-vote-update":
		ev = &SkipWordVoteUpdate{}
	case "word-changed":
		ev = &WordChanged{}
	case "skip-word-rejected":
		ev = &SkipWordRejected{}
	case "room-closed":
		ev = &RoomClosed{}
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}

	return ev, nil
}
