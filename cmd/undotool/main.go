package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/annel0/blockundo/internal/app"
	"github.com/annel0/blockundo/internal/config"
	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/undo"
	"github.com/annel0/blockundo/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (or UNDO_CONFIG)")
		command    = flag.String("cmd", "list", "Command: undo, highlight, upgrade, rotate, list, serve")
		player     = flag.String("player", "", "Player whose changes are processed (empty - whole server)")
		actorName  = flag.String("actor", "", "Act as this player (empty - administrative undo without permission checks)")
		since      = flag.String("since", "", "Oldest change to process: duration (e.g. 30m, 2h) or time")
		until      = flag.String("until", "", "Newest change to process: duration or time")
		region     = flag.String("region", "", "Region filter: x1,y1,z1,x2,y2,z2")
		force      = flag.Bool("force", false, "rotate: rotate even if the generation is not full")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if err := app.InitLogging(cfg, "undotool"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseAll()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации: %v", err)
	}
	a.Start()

	runErr := run(ctx, a, *command, options{
		player: *player,
		actor:  *actorName,
		since:  *since,
		until:  *until,
		region: *region,
		force:  *force,
	})

	if err := a.Close(context.Background()); err != nil {
		logging.Error("❌ Ошибка завершения: %v", err)
	}
	if runErr != nil {
		_ = logging.CloseAll()
		log.Fatalf("❌ %s: %v", *command, runErr)
	}
}

type options struct {
	player string
	actor  string
	since  string
	until  string
	region string
	force  bool
}

func run(ctx context.Context, a *app.App, command string, opts options) error {
	switch command {
	case "undo", "highlight":
		args, err := undo.BuildArgs(opts.since, opts.until, opts.region, time.Now())
		if err != nil {
			return err
		}
		// Ctrl+C прерывает проигрывание после текущей записи
		var stop atomic.Bool
		args.Stop = &stop
		go func() {
			<-ctx.Done()
			stop.Store(true)
		}()

		scope := undo.ServerScope()
		if opts.player != "" {
			scope = undo.PlayerScope(opts.player)
		}
		var actor world.Actor
		if opts.actor != "" {
			actor = world.NewPlayer(opts.actor)
		}

		var res undo.Result
		if command == "undo" {
			res, err = a.Service.Undo(ctx, actor, scope, args)
		} else {
			res, err = a.Service.Highlight(ctx, actor, scope, args)
		}
		if err != nil && ctx.Err() == nil {
			return err
		}
		if !res.Found {
			fmt.Printf("No undo data for %s\n", describeScope(scope))
			return nil
		}
		fmt.Printf("%s %s: files=%d records=%d applied=%d skipped=%d\n",
			command, describeScope(scope), res.Files, res.Records, res.Applied, res.Skipped)
		return nil

	case "upgrade":
		players, err := targetPlayers(a.Store, opts.player)
		if err != nil {
			return err
		}
		for _, p := range players {
			res, err := a.Service.Upgrade(ctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			if res.Found {
				fmt.Printf("%s: %d legacy files -> %d records\n", p, res.Files, res.Records)
			}
		}
		return nil

	case "rotate":
		if opts.force {
			if err := a.Store.ForceRotate(); err != nil {
				return err
			}
			fmt.Println("rotated")
			return nil
		}
		rotated, err := a.Service.EnforceRetention(a.Config.Undo.GetRotateAt())
		if err != nil {
			return err
		}
		fmt.Printf("rotated=%v\n", rotated)
		return nil

	case "serve":
		// Фоновый сброс, REST API и /metrics работают до сигнала завершения
		logging.Info("🚀 Журнал отмены запущен, Ctrl+C для остановки")
		<-ctx.Done()
		logging.Info("🛑 Получен сигнал завершения")
		return nil

	case "list":
		for _, gen := range []undo.Generation{undo.Current, undo.Previous} {
			players, err := a.Store.Players(gen)
			if err != nil {
				return err
			}
			for _, p := range players {
				if opts.player != "" && !strings.EqualFold(p, opts.player) {
					continue
				}
				files, err := a.Store.PlayerFiles(gen, p)
				if err != nil {
					return err
				}
				fmt.Printf("%-8s %-16s %d files\n", gen, p, len(files))
				for _, f := range files {
					fmt.Printf("    %s  %s\n", f.ModTime.Format(undo.TimeFormat), f.Path)
				}
			}
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", command)
}

func targetPlayers(store *undo.Store, player string) ([]string, error) {
	if player != "" {
		return []string{strings.ToLower(player)}, nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, gen := range []undo.Generation{undo.Current, undo.Previous} {
		players, err := store.Players(gen)
		if err != nil {
			return nil, err
		}
		for _, p := range players {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func describeScope(s undo.Scope) string {
	if s.ServerWide() {
		return "server"
	}
	return s.Player
}
