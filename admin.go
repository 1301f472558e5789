package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const adminKeyHeader = "x-admin-key"

// AdminClient talks to the out-of-band management surface. It authenticates
// with a static shared key, not a participant identity.
type AdminClient struct {
	base   string
	key    string
	client *http.Client
}

func NewAdminClient(server, key string) *AdminClient {
	return &AdminClient{
		base:   strings.TrimSuffix(server, "/"),
		key:    key,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type AdminPlayer struct {
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

type AdminRoom struct {
	Code         string        `json:"code"`
	State        Phase         `json:"state"`
	PlayerCount  int           `json:"playerCount"`
	TotalPlayers int           `json:"totalPlayers"`
	Mode         string        `json:"mode"`
	AgeMinutes   int           `json:"ageMinutes"`
	Players      []AdminPlayer `json:"players"`
}

func (a *AdminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(adminKeyHeader, a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid admin key")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("admin request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// ListRooms fetches the active-room summaries.
func (a *AdminClient) ListRooms(ctx context.Context) ([]AdminRoom, error) {
	var payload struct {
		Rooms []AdminRoom `json:"rooms"`
	}
	if err := a.do(ctx, http.MethodGet, "/admin/rooms", &payload); err != nil {
		return nil, err
	}
	return payload.Rooms, nil
}

// DeleteRoom removes one room by code.
func (a *AdminClient) DeleteRoom(ctx context.Context, code string) error {
	var payload struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := a.do(ctx, http.MethodDelete, "/admin/rooms/"+normalizeRoomCode(code), &payload); err != nil {
		return err
	}
	if !payload.Success {
		return fmt.Errorf("%s", payload.Error)
	}
	return nil
}

// DeleteAllRooms wipes every active room.
func (a *AdminClient) DeleteAllRooms(ctx context.Context) (string, error) {
	var payload struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := a.do(ctx, http.MethodDelete, "/admin/rooms", &payload); err != nil {
		return "", err
	}
	if !payload.Success {
		return "", fmt.Errorf("%s", payload.Error)
	}
	return payload.Message, nil
}

var stateLabels = map[Phase]string{
	PhaseLobby:    "Lobi",
	PhasePlaying:  "Oyunda",
	PhaseVoting:   "Oylama",
	PhaseRevoting: "Tekrar Oylama",
	PhaseResult:   "Sonuç",
}

func stateLabel(p Phase) string {
	if label, ok := stateLabels[p]; ok {
		return label
	}
	return string(p)
}

func renderAdminRooms(w io.Writer, rooms []AdminRoom) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "Aktif masa yok.")
		return
	}

	for _, room := range rooms {
		mode := "Standart"
		if room.Mode == ModeFun {
			mode = "Eğlence"
		}
		fmt.Fprintf(w, "%s  [%s]  %d/%d oyuncu  %s  %d dk\n",
			room.Code, stateLabel(room.State), room.PlayerCount, room.TotalPlayers, mode, room.AgeMinutes)
		for _, p := range room.Players {
			marker := " "
			if p.IsHost {
				marker = "*"
			}
			status := "bağlı"
			if !p.Connected {
				status = "kopuk"
			}
			fmt.Fprintf(w, "  %s %-20s %s\n", marker, p.Name, status)
		}
	}
}
