package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Sooly64/Confusion-Heatmap/internal/device"
	"github.com/Sooly64/Confusion-Heatmap/internal/logging"
	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/roomname"
	"github.com/Sooly64/Confusion-Heatmap/internal/service"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
)

// App はサブコマンドの実行環境です
type App struct {
	Store    store.Client
	Device   device.Store
	In       io.Reader
	Out      io.Writer
	Logger   *slog.Logger
	BaseURL  string
	Interval time.Duration // プレゼンスのハートビート間隔（0 なら既定値）
}

// Run はコマンドライン全体を実行します
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := ParseFlags(args, stderr)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DeviceDB), 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}
	dev, err := device.OpenSQLite(cfg.DeviceDB)
	if err != nil {
		return err
	}
	defer dev.Close()

	app := &App{Device: dev, In: stdin, Out: &syncWriter{w: stdout}, Logger: logger, BaseURL: cfg.BaseURL}
	if cfg.Command == "theme" {
		return app.Theme(ctx, cfg.Args)
	}

	remote, err := store.Dial(ctx, cfg.StoreURL, logger)
	if err != nil {
		fmt.Fprintln(stderr, "Error: Unable to connect to database")
		return fmt.Errorf("%w: %w", service.ErrStoreUnavailable, err)
	}
	defer remote.Close()
	app.Store = remote

	// 接続が切れたらコマンドを終了する
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-remote.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	switch cfg.Command {
	case "rooms":
		return app.Rooms(ctx)
	case "reap":
		return app.Reap(ctx)
	case "create":
		return app.Create(ctx, cfg.Args)
	case "teacher":
		return app.Teacher(ctx, cfg.Args)
	case "student":
		return app.Student(ctx, cfg.Args)
	default:
		return ErrUsage
	}
}

// Rooms はロビーです
// アクティブなルームを30秒ごとに表示し、非アクティブなルームの掃除を定期実行します
func (a *App) Rooms(ctx context.Context) error {
	refresh := make(chan struct{}, 1)
	reaper := service.NewReaper(a.Store, a.Logger, service.ReaperOptions{
		OnReaped: func([]string) {
			select {
			case refresh <- struct{}{}:
			default:
			}
		},
	})
	go reaper.Run(ctx)

	dir := service.NewDirectory(a.Store, a.Logger)
	dir.Poll(ctx, service.DefaultDirectoryRefresh, refresh, func(rooms []models.RoomSummary) {
		a.printRooms(rooms)
	})
	return nil
}

func (a *App) printRooms(rooms []models.RoomSummary) {
	if len(rooms) == 0 {
		fmt.Fprintln(a.Out, "No active rooms available")
		return
	}
	var b strings.Builder
	for _, r := range rooms {
		unit := "Students In"
		if r.StudentCount == 1 {
			unit = "Student In"
		}
		fmt.Fprintf(&b, "%-40s %d %s\n", r.Name, r.StudentCount, unit)
	}
	fmt.Fprint(a.Out, b.String())
}

// Reap は掃除を1回だけ実行します
func (a *App) Reap(ctx context.Context) error {
	reaper := service.NewReaper(a.Store, a.Logger, service.ReaperOptions{})
	deleted, err := reaper.Reap(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Cleaned up %d inactive rooms\n", len(deleted))
	for _, name := range deleted {
		fmt.Fprintf(a.Out, "  %s\n", name)
	}
	return nil
}

// Create はルームを作成（所有権を取得）し、参加URLを表示します
func (a *App) Create(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: classpulse create <room>")
	}
	room := roomname.Sanitize(strings.Join(args, ""))
	svc := service.NewRoomService(a.Store, a.Device, service.NewTokenGenerator(), a.Logger)
	if err := svc.Claim(ctx, room); err != nil {
		a.explain(err, room)
		return err
	}
	fmt.Fprintf(a.Out, "Room %s is yours\nJoin: %s\n", room, roomname.JoinURL(a.BaseURL, room))
	return nil
}

// explain はエラーを利用者向けの短い通知に変換します
func (a *App) explain(err error, room string) {
	var cc *service.CaseConflictError
	switch {
	case errors.As(err, &cc):
		fmt.Fprintf(a.Out, "Room %q already exists. Room names are case-insensitive. Try %s\n", cc.Existing, roomname.Next(room))
	case errors.Is(err, service.ErrAlreadyOwned):
		fmt.Fprintf(a.Out, "This room is already owned by another teacher. Try %s\n", roomname.Next(room))
	case errors.Is(err, service.ErrTransientWrite):
		fmt.Fprintln(a.Out, "Write failed, please try again")
	default:
		fmt.Fprintf(a.Out, "Error: %v\n", err)
	}
}

// Teacher は教師画面です
// 所有者を確認してからプレゼンスを開始し、集計とフィードバックを表示します
// 標準入力の "reset" で回答とフィードバックを消去します
func (a *App) Teacher(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: classpulse teacher <room>")
	}
	room := roomname.Sanitize(args[0])
	svc := service.NewRoomService(a.Store, a.Device, service.NewTokenGenerator(), a.Logger)
	if err := svc.CheckAccess(ctx, room); err != nil {
		if errors.Is(err, service.ErrAlreadyOwned) {
			fmt.Fprintln(a.Out, "Access denied: You do not own this room")
		} else {
			a.explain(err, room)
		}
		return err
	}
	fmt.Fprintf(a.Out, "Teacher: %s\nJoin: %s\n", room, roomname.JoinURL(a.BaseURL, room))

	tracker := service.NewPresenceTracker(a.Store, a.Interval, a.Logger)
	presence, err := tracker.Track(ctx, room, roomname.TeacherID(room), models.TypeTeacher)
	if err != nil {
		a.explain(err, room)
		return err
	}
	defer a.leave(presence)

	agg := service.NewAggregator(func(t models.Tally) {
		fmt.Fprintf(a.Out, "Got it %d (%.2f%%) | No vote %d (%.2f%%) | Confused %d (%.2f%%)\n",
			t.Good, t.GoodPct, t.NoVote, t.NoVotePct, t.Confused, t.ConfusedPct)
	})
	stopTally, err := agg.Watch(ctx, a.Store, room)
	if err != nil {
		return err
	}
	defer stopTally()

	ch := service.NewChannel(a.Store)
	stopFeedback, err := ch.WatchFeedback(ctx, room, service.FeedbackLimit, a.printFeedback)
	if err != nil {
		return err
	}
	defer stopFeedback()

	return a.readLines(ctx, func(line string) {
		if line != "reset" {
			fmt.Fprintln(a.Out, `Type "reset" to clear all responses and feedback`)
			return
		}
		if err := ch.Reset(ctx, room); err != nil {
			fmt.Fprintln(a.Out, "Reset failed")
			return
		}
		fmt.Fprintln(a.Out, "All responses and feedback cleared")
	})
}

func (a *App) printFeedback(items []models.Feedback) {
	if len(items) == 0 {
		fmt.Fprintln(a.Out, "No feedback yet")
		return
	}
	var b strings.Builder
	b.WriteString("Feedback:\n")
	for _, f := range items {
		label := "No status"
		switch f.Status {
		case models.StatusGood:
			label = "Got it"
		case models.StatusConfused:
			label = "Confused"
		}
		ts := time.UnixMilli(f.Timestamp).Format(time.Kitchen)
		fmt.Fprintf(&b, "  [%s] %-9s %s\n", ts, label, f.Text)
	}
	fmt.Fprint(a.Out, b.String())
}

// Student は学生画面です
// フラグ: -sid で学生IDを指定、-new で新しいIDを発行
// 標準入力: good / confused（g / c）でステータス送信、それ以外はフィードバックとして送信
func (a *App) Student(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("student", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sid := fs.String("sid", "", "Student id to reuse")
	forceNew := fs.Bool("new", false, "Generate a new student id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: classpulse student [-sid id] [-new] <room>")
	}
	room := roomname.Sanitize(fs.Arg(0))

	studentID, err := service.ResolveStudentID(ctx, a.Device, *sid, *forceNew)
	if err != nil {
		return err
	}

	tracker := service.NewPresenceTracker(a.Store, a.Interval, a.Logger)
	presence, err := tracker.Track(ctx, room, studentID, models.TypeStudent)
	if err != nil {
		a.explain(err, room)
		return err
	}
	defer a.leave(presence)

	ch := service.NewChannel(a.Store)
	if _, err := ch.Join(ctx, room, studentID); err != nil {
		a.explain(err, room)
		return err
	}
	fmt.Fprintf(a.Out, "Connected to room: %s\n", room)

	var mu sync.Mutex
	current := models.StatusNone
	stop, err := ch.WatchOwnStatus(ctx, room, studentID, func(r models.Response) {
		mu.Lock()
		defer mu.Unlock()
		if r.Status != current {
			current = r.Status
			fmt.Fprintf(a.Out, "Status: %s\n", current)
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	return a.readLines(ctx, func(line string) {
		switch strings.ToLower(line) {
		case "good", "g":
			a.sendStatus(ctx, ch, room, studentID, models.StatusGood)
		case "confused", "c":
			a.sendStatus(ctx, ch, room, studentID, models.StatusConfused)
		default:
			if _, err := ch.SubmitFeedback(ctx, room, studentID, line); err != nil {
				a.explain(err, room)
				return
			}
			fmt.Fprintln(a.Out, "Feedback sent!")
		}
	})
}

// sendStatus は書き込みの完了を待たずに通知を表示します
func (a *App) sendStatus(ctx context.Context, ch *service.Channel, room, studentID string, status models.Status) {
	if status == models.StatusGood {
		fmt.Fprintln(a.Out, "Sent: Got it!")
	} else {
		fmt.Fprintln(a.Out, "Sent: I'm confused")
	}
	if err := ch.SetStatus(ctx, room, studentID, status); err != nil {
		a.explain(err, room)
	}
}

func (a *App) leave(p *service.Presence) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Leave(ctx); err != nil {
		a.Logger.Warn("failed to leave", "error", err)
	}
}

// readLines は標準入力を1行ずつ fn に渡します（EOF か ctx の終了まで）
func (a *App) readLines(ctx context.Context, fn func(string)) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(a.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if line = strings.TrimSpace(line); line != "" {
				fn(line)
			}
		}
	}
}

// Theme は表示テーマを表示または変更します
func (a *App) Theme(ctx context.Context, args []string) error {
	if len(args) == 0 {
		t, err := device.LoadTheme(ctx, a.Device)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out, t)
		return nil
	}
	if err := device.SaveTheme(ctx, a.Device, device.Theme(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Theme set to %s\n", args[0])
	return nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
