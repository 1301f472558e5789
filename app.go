package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

// The terminal UI is a thin collaborator: it reads the session's snapshots
// and invokes its intents. All correctness lives in RoomSession.

func runHome(ctx context.Context, cfg *Config) error {
	store := NewSessionStore(cfg.dataDir)
	in := bufio.NewScanner(os.Stdin)

	fmt.Println("BLÖF — kelime oyunu")

	sess, err := store.Load()
	if err != nil {
		logf(cfg, "HOME: loading session: %v", err)
	}
	if sess.Resumable() {
		fmt.Printf("Aktif oturum bulundu: %s odasında %s. Devam edilsin mi? [E/h] ", sess.RoomCode, sess.PlayerName)
		if in.Scan() && !strings.EqualFold(strings.TrimSpace(in.Text()), "h") {
			return runResume(ctx, cfg)
		}
	}

	fmt.Println("1) Masa kur")
	fmt.Println("2) Masaya katıl")
	fmt.Print("> ")
	if !in.Scan() {
		return nil
	}

	switch strings.TrimSpace(in.Text()) {
	case "1":
		return runCreate(ctx, cfg)
	case "2":
		fmt.Print("Masa kodu: ")
		if !in.Scan() {
			return nil
		}
		return runJoin(ctx, cfg, in.Text())
	default:
		return errors.New("geçersiz seçim")
	}
}

func promptName(cfg *Config, in *bufio.Scanner) (string, error) {
	if cfg.name != "" {
		return cfg.name, nil
	}
	fmt.Print("Adınız: ")
	if !in.Scan() {
		return "", errors.New("display name is required")
	}
	return in.Text(), nil
}

func runCreate(ctx context.Context, cfg *Config) error {
	name, err := promptName(cfg, bufio.NewScanner(os.Stdin))
	if err != nil {
		return err
	}

	return runRoom(ctx, cfg, func(ctx context.Context, s *RoomSession) error {
		code, err := s.CreateRoom(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("Masa kuruldu: %s\n", code)
		return nil
	})
}

func runJoin(ctx context.Context, cfg *Config, code string) error {
	name, err := promptName(cfg, bufio.NewScanner(os.Stdin))
	if err != nil {
		return err
	}

	return runRoom(ctx, cfg, func(ctx context.Context, s *RoomSession) error {
		return s.JoinRoom(ctx, code, name)
	})
}

func runResume(ctx context.Context, cfg *Config) error {
	store := NewSessionStore(cfg.dataDir)
	sess, err := store.Load()
	if err != nil {
		return err
	}
	if !sess.Resumable() {
		return errors.New("devam edilecek oturum yok")
	}

	return runRoom(ctx, cfg, func(ctx context.Context, s *RoomSession) error {
		s.AdoptSession(sess)
		// The connectivity watcher fires the rejoin once the dial lands;
		// nothing to send here.
		return nil
	})
}

// runRoom owns the socket, the session and the interactive loop. enter runs
// after Start but before the first prompt.
func runRoom(ctx context.Context, cfg *Config, enter func(context.Context, *RoomSession) error) error {
	if cfg.profile {
		startProfileServer(cfg)
	}

	store := NewSessionStore(cfg.dataDir)
	sock := NewSocket(cfg)
	defer sock.Disconnect()

	left := make(chan string, 1)
	notices := make(chan string, 16)
	changes := make(chan Snapshot, 16)

	session := NewRoomSession(cfg, sock, store, RoomSessionHooks{
		OnChange: func(snap Snapshot) {
			select {
			case changes <- snap:
			default:
			}
		},
		OnNotice: func(msg string) {
			select {
			case notices <- msg:
			default:
			}
		},
		OnLeave: func(reason string) {
			select {
			case left <- reason:
			default:
			}
		},
	})
	session.Start()
	defer session.Close()

	sock.OnConnectivity(func(up bool) {
		if up {
			return
		}
		select {
		case notices <- "Bağlantı koptu, yeniden bağlanıyor...":
		default:
		}
	})

	if err := sock.Connect(ctx); err != nil {
		return fmt.Errorf("sunucuya bağlanılamadı: %w", err)
	}

	if err := enter(ctx, session); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			lines <- in.Text()
		}
		close(lines)
	}()

	render(session.Snapshot())
	fmt.Println(`Komutlar için "/help" yazın.`)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case reason := <-left:
			fmt.Printf("Odadan çıkıldı: %s\n", reason)
			return nil

		case msg := <-notices:
			fmt.Printf("• %s\n", msg)

		case snap := <-changes:
			render(snap)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, cfg, session, line); quit {
				return nil
			}
		}
	}
}

// dispatch runs one user command. Intent failures were already surfaced as
// notices by the session; they are not re-reported here.
func dispatch(ctx context.Context, cfg *Config, s *RoomSession, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "/help":
		fmt.Println(`/start [standard|fun] [kelime-türü]  oyunu başlat (sadece masa sahibi)
/end                                 turu sonlandır (sadece masa sahibi)
/vote <numara>                       blöfçü oyu ver
/skip                                kelime değişimi iste (sadece masa sahibi)
/yes, /no                            kelime değişimi oyu
/again                               tekrar oyna (sadece masa sahibi)
/qr                                  davet bağlantısını QR olarak göster
/players                             oyuncuları listele
/quit                                çık`)

	case "/start":
		mode := ModeStandard
		wordType := ""
		if len(fields) > 1 {
			mode = fields[1]
		}
		if len(fields) > 2 {
			wordType = fields[2]
		}
		s.StartGame(ctx, mode, wordType)

	case "/end":
		s.EndRound(ctx)

	case "/vote":
		if len(fields) < 2 {
			fmt.Println("Kullanım: /vote <numara>")
			return false
		}
		targets := s.EligibleTargets()
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 1 || idx > len(targets) {
			fmt.Println("Geçersiz oyuncu numarası.")
			return false
		}
		if err := s.CastVote(ctx, targets[idx-1].ID); err != nil {
			switch {
			case errors.Is(err, ErrSelfVote):
				fmt.Println("Kendine oy veremezsin!")
			case errors.Is(err, ErrIneligibleTarget):
				fmt.Println("Bu oyuncuya bu turda oy verilemez.")
			}
		}

	case "/skip":
		s.RequestSkipWord(ctx)

	case "/yes":
		s.AnswerSkipWord(ctx, true)

	case "/no":
		s.AnswerSkipWord(ctx, false)

	case "/again":
		s.PlayAgain(ctx)

	case "/qr":
		printInviteQR(cfg, s.Snapshot())

	case "/players":
		printPlayers(s.Snapshot())

	case "/quit":
		return true

	default:
		fmt.Println("Bilinmeyen komut. /help")
	}

	return false
}

func render(snap Snapshot) {
	switch snap.Phase {
	case PhaseLobby:
		fmt.Printf("\n== LOBİ — masa %s ==\n", snap.RoomCode)
		printPlayers(snap)
		if snap.IsHost() {
			fmt.Println("Oyunu başlatmak için /start yazın.")
		} else {
			fmt.Println("Masa sahibi oyunu başlatacak...")
		}

	case PhasePlaying:
		if snap.Round == nil {
			return
		}
		fmt.Printf("\n== TUR %d/%d ==\n", snap.Round.Round, snap.Round.TotalRounds)
		if snap.Round.IsBluff {
			fmt.Printf("Senin kartın: %s — Sen blöfçüsün! Yakalanma!\n", snap.Round.Word)
		} else {
			fmt.Printf("Senin kelimen: %s\n", snap.Round.Word)
		}
		if snap.Round.SilentRound {
			fmt.Println("Sessiz tur: sadece işaretlerle anlatın!")
		}
		if snap.Round.Twist != "" {
			fmt.Printf("Sürpriz: %s\n", snap.Round.Twist)
		}
		if snap.Round.TimerDuration > 0 {
			fmt.Printf("Süre: %d saniye\n", snap.Round.TimerDuration)
		}
		if snap.SkipVote != nil {
			fmt.Printf("Kelime değişimi oylaması: %d/%d", snap.SkipVote.VotedCount, snap.SkipVote.TotalPlayers)
			if snap.SkipAnswered {
				fmt.Println(" (oyunu verdin)")
			} else {
				fmt.Println(" — /yes veya /no")
			}
		}

	case PhaseVoting, PhaseRevoting:
		if snap.IsRevote {
			fmt.Println("\n== TEKRAR OYLAMA ==")
			fmt.Println("Beraberlik oldu! Sadece berabere kalan oyunculara oy verin.")
		} else {
			fmt.Println("\n== OYLAMA ==")
			fmt.Println("Blöf yapan kişiyi seç!")
		}
		if snap.Voted {
			fmt.Println("Oyunu verdin, diğer oyuncular bekleniyor...")
		}
		if snap.Votes != nil {
			fmt.Printf("%d/%d oy verildi\n", snap.Votes.VotedCount, snap.Votes.TotalPlayers)
		}

	case PhaseResult:
		if snap.Result == nil {
			return
		}
		printResult(snap)
	}
}

func printPlayers(snap Snapshot) {
	if snap.Room == nil {
		return
	}
	for i, p := range snap.Room.Players {
		marker := " "
		if p.IsHost {
			marker = "*"
		}
		status := ""
		if !p.Connected {
			status = " (kopuk)"
		}
		you := ""
		if p.ID == snap.PlayerID {
			you = " (sen)"
		}
		fmt.Printf("%2d. %s [%s] %s%s%s\n", i+1, marker, avatarInitial(p.Name), p.Name, you, status)
	}
}

func printResult(snap Snapshot) {
	res := snap.Result

	playerName := func(id string) string {
		if name, ok := res.PlayerNames[id]; ok {
			return name
		}
		if snap.Room != nil {
			if p := snap.Room.player(id); p != nil {
				return p.Name
			}
		}
		return "Bilinmeyen"
	}

	isBluffer := false
	for _, id := range res.BluffPlayerIDs {
		if id == snap.PlayerID {
			isBluffer = true
		}
	}

	fmt.Println("\n== SONUÇ ==")
	switch res.Winner {
	case WinnerNobody:
		fmt.Println("Kimse blöfçü değildi!")
	case WinnerChaos:
		fmt.Println("Kaos modu!")
	case WinnerPlayers:
		if isBluffer {
			fmt.Println("Kaybettin!")
		} else {
			fmt.Println("Kazandın!")
		}
	case WinnerBluffer:
		if isBluffer {
			fmt.Println("Kazandın!")
		} else {
			fmt.Println("Kaybettin!")
		}
	}
	fmt.Println(res.Reason)
	if res.Word != "" {
		fmt.Printf("Kelime: %s\n", res.Word)
	}
	for _, id := range res.BluffPlayerIDs {
		fmt.Printf("Blöfçü: %s\n", playerName(id))
	}
	for id, word := range res.PlayerWords {
		fmt.Printf("  %s → %s\n", playerName(id), word)
	}
	for id, count := range res.VoteCounts {
		fmt.Printf("  %s: %d oy\n", playerName(id), count)
	}
	if snap.IsHost() {
		fmt.Println("Tekrar oynamak için /again yazın.")
	}
}

// printInviteQR renders the join link as a terminal QR code.
func printInviteQR(cfg *Config, snap Snapshot) {
	if snap.RoomCode == "" {
		fmt.Println("Henüz bir masada değilsin.")
		return
	}

	url := strings.TrimSuffix(cfg.server, "/") + "/room/" + snap.RoomCode

	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Printf("QR üretilemedi: %v\n", err)
		return
	}

	fmt.Printf("Davet bağlantısı: %s\n", url)
	fmt.Print(code.ToSmallString(false))
}

func runAdminRooms(ctx context.Context, cfg *Config) error {
	if cfg.adminKey == "" {
		return errors.New("--admin-key is required")
	}

	rooms, err := NewAdminClient(cfg.server, cfg.adminKey).ListRooms(ctx)
	if err != nil {
		return err
	}

	renderAdminRooms(os.Stdout, rooms)
	return nil
}

func runAdminDelete(ctx context.Context, cfg *Config, code string) error {
	if cfg.adminKey == "" {
		return errors.New("--admin-key is required")
	}

	if err := NewAdminClient(cfg.server, cfg.adminKey).DeleteRoom(ctx, code); err != nil {
		return err
	}

	fmt.Printf("%s silindi.\n", normalizeRoomCode(code))
	return nil
}

func runAdminPurge(ctx context.Context, cfg *Config) error {
	if cfg.adminKey == "" {
		return errors.New("--admin-key is required")
	}

	msg, err := NewAdminClient(cfg.server, cfg.adminKey).DeleteAllRooms(ctx)
	if err != nil {
		return err
	}

	fmt.Println(msg)
	return nil
}
