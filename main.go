package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	"log/slog"
	"miyav/internal/api"
	"miyav/internal/auth"
	"miyav/internal/commands"
	"miyav/internal/config"
	"miyav/internal/filestore"
	"miyav/internal/friends"
	"miyav/internal/games"
	"miyav/internal/http"
	"miyav/internal/notify"
	"miyav/internal/presence"
	"miyav/internal/push"
	"miyav/internal/registry"
	"miyav/internal/storage"
	"miyav/internal/ws"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("miyav", flag.ContinueOnError)
	notifyMsg := flags.String("notify", "", "Send a system notification with this text to connected users and exit")
	title := flags.String("title", "Miyav", "Title of the -notify notification")
	users := flags.String("users", "", "Comma separated user IDs for -notify (default: all connected users)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*notifyMsg != "")
	if err != nil {
		return err
	}

	if *notifyMsg != "" {
		var ids []string
		for id := range strings.SplitSeq(*users, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return commands.Notify(cfg, ids, *title, *notifyMsg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.JWTSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, authConfig, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	connections := registry.New()

	var offline notify.OfflineNotifier
	pushConfig := push.Config{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}
	if pushConfig.Enabled() {
		offline = push.NewNotifier(pushConfig, bbStorage)
		slog.Info("web push enabled")
	}

	dispatcher := notify.NewDispatcher(connections, bbStorage, offline)
	tracker := presence.NewTracker(bbStorage, dispatcher)

	hub := ws.NewHub(ws.HubConfig{
		Registry:    connections,
		Tracker:     tracker,
		Notifier:    dispatcher,
		Store:       bbStorage,
		HistorySize: cfg.RoomHistory,
	})
	gateway := ws.NewServer(authService, hub, cfg.AuthTimeout)

	handlers := api.New(ctx, authService,
		friends.NewService(bbStorage, dispatcher),
		games.NewService(bbStorage, tracker),
		bbStorage, files, connections,
		api.Config{
			MaxUploadSize:    cfg.MaxUploadSize,
			UploadsPerMinute: cfg.UploadsPerMinute,
			VAPIDPublicKey:   cfg.VAPIDPublicKey,
		},
	)

	adminServer := http.NewAdminServer(cfg.AdminAddr, api.NewAdminHandler(connections, dispatcher))
	apiServer := http.NewAPIServer(cfg.APIAddr, handlers, gateway)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")
		connections.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
