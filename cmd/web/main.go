package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/config"
	"github.com/AdamBeresnev/pinpoint/internal/db"
	"github.com/AdamBeresnev/pinpoint/internal/middleware"
	"github.com/AdamBeresnev/pinpoint/internal/presence"
	"github.com/AdamBeresnev/pinpoint/internal/service"
	"github.com/AdamBeresnev/pinpoint/internal/store"
	"github.com/AdamBeresnev/pinpoint/internal/ws"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// application bundles everything the routes need.
type application struct {
	sessionManager *scs.SessionManager
	hub            *ws.Hub
	presence       *presence.Service

	userStore    *store.UserStore
	pictureStore *store.PictureStore

	users       *service.UserService
	tournaments *service.TournamentService
	brackets    *service.BracketService
	matches     *service.MatchService
	challenges  *service.ChallengeService
	daily       *service.DailyService
}

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	database := db.InitDB(cfg.DBPath)
	defer database.Close()

	if err := db.RunMigrations(database.DB, cfg.MigrationsURL); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	middleware.InitAuth(cfg)

	sessionManager := scs.New()
	sessionManager.Lifetime = 24 * time.Hour
	sessionManager.Store = sqlite3store.New(database.DB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unreachable, presence and leaderboard degraded", slog.Any("err", err))
	}

	clock := clockwork.NewRealClock()
	hub := ws.NewHub(logger)
	presenceSvc := presence.New(rdb)

	userStore := store.NewUserStore(database)
	pictureStore := store.NewPictureStore(database)
	tournamentStore := store.NewTournamentStore(database)
	roundStore := store.NewRoundStore(database)
	challengeStore := store.NewChallengeStore(database)
	dailyStore := store.NewDailyStore(database)

	bracketService := service.NewBracketService(database, tournamentStore, userStore, clock, hub)

	app := &application{
		sessionManager: sessionManager,
		hub:            hub,
		presence:       presenceSvc,
		userStore:      userStore,
		pictureStore:   pictureStore,
		users:          service.NewUserService(userStore),
		tournaments:    service.NewTournamentService(database, tournamentStore, bracketService, clock, hub),
		brackets:       bracketService,
		matches:        service.NewMatchService(database, tournamentStore, roundStore, pictureStore, bracketService, clock, hub),
		challenges:     service.NewChallengeService(database, challengeStore, roundStore, pictureStore, userStore, presenceSvc, clock, hub),
		daily:          service.NewDailyService(database, dailyStore, pictureStore, userStore, presenceSvc, clock),
	}

	if _, err := app.users.EnsureGuestUser(context.Background()); err != nil {
		log.Fatal("Failed to ensure guest user:", err)
	}

	router := app.newRouter()

	logger.Info("server starting", slog.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatal(err)
	}
}
