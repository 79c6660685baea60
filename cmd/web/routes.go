package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AdamBeresnev/pinpoint/internal/bracket"
	"github.com/AdamBeresnev/pinpoint/internal/httputil"
	"github.com/AdamBeresnev/pinpoint/internal/middleware"
	"github.com/AdamBeresnev/pinpoint/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/markbates/goth/gothic"
)

func (app *application) newRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(app.sessionManager.LoadAndSave)

	r.Get("/auth/{provider}", app.beginAuth)
	r.Get("/auth/{provider}/callback", app.authCallback)
	r.Post("/auth/guest", app.guestLogin)
	r.Post("/auth/logout", app.logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(app.sessionManager, app.userStore))

		r.Get("/api/me", app.me)
		r.Post("/api/heartbeat", app.heartbeat)
		r.Get("/api/leaderboard", app.leaderboard)
		r.Get("/api/players", app.availablePlayers)

		r.Route("/api/daily", func(r chi.Router) {
			r.Get("/", app.dailyToday)
			r.Post("/start", app.dailyStart)
			r.Post("/guess", app.dailySubmit)
		})

		r.Route("/api/challenges", func(r chi.Router) {
			r.Get("/", app.listChallenges)
			r.Post("/", app.createChallenge)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.getChallenge)
				r.Post("/accept", app.challengeTransition(app.challenges.AcceptChallenge))
				r.Post("/decline", app.challengeTransition(app.challenges.DeclineChallenge))
				r.Post("/cancel", app.challengeTransition(app.challenges.CancelChallenge))
				r.Post("/forfeit", app.challengeTransition(app.challenges.ForfeitChallenge))
				r.Get("/rounds", app.challengeRounds)
				r.Post("/rounds/{round}/start", app.challengeStartRound)
				r.Post("/rounds/{round}/guess", app.challengeSubmitRound)
				r.Get("/results", app.challengeResults)
			})
		})

		r.Route("/api/tournaments", func(r chi.Router) {
			r.Get("/", app.listTournaments)
			r.With(middleware.RequireAdmin).Post("/", app.createTournament)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.getTournament)
				r.Post("/join", app.joinTournament)
				r.Post("/leave", app.leaveTournament)
				r.Post("/start", app.startTournament)
				r.Post("/cancel", app.cancelTournament)
				r.Get("/bracket", app.getBracket)
				r.Get("/next-match", app.nextMatch)
			})
		})

		r.Route("/api/matches/{id}", func(r chi.Router) {
			r.Get("/rounds", app.matchRounds)
			r.Post("/rounds/{round}/start", app.matchStartRound)
			r.Post("/rounds/{round}/guess", app.matchSubmitRound)
			r.Get("/status", app.matchStatus)
			r.Get("/results", app.matchResults)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/pictures", app.listPictures)
			r.Post("/pictures", app.createPicture)
			r.Put("/pictures/{id}", app.updatePicture)
			r.Delete("/pictures/{id}", app.deletePicture)
			r.Post("/matches/{id}/winner", app.adminSetWinner)
		})

		r.Get("/ws/{room}", app.serveWS)
	})

	return r
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", bracket.ErrValidation)
	}
	return nil
}

func roundNumber(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		return 0, fmt.Errorf("invalid round number: %w", bracket.ErrValidation)
	}
	return n, nil
}

// Auth

func (app *application) beginAuth(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(context.WithValue(r.Context(), gothic.ProviderParamKey, chi.URLParam(r, "provider")))
	gothic.BeginAuthHandler(w, r)
}

func (app *application) authCallback(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(context.WithValue(r.Context(), gothic.ProviderParamKey, chi.URLParam(r, "provider")))
	gothUser, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		httputil.BadRequest(w, "authentication failed", err)
		return
	}

	user, err := app.users.FindOrCreateUserByProvider(r.Context(), gothUser)
	if err != nil {
		httputil.InternalServerError(w, "failed to sign in", err)
		return
	}

	app.sessionManager.Put(r.Context(), "username", user.Username)
	http.Redirect(w, r, "/", http.StatusFound)
}

// guestLogin signs the caller in as the shared guest account, which can
// play the daily challenge but not competitive modes.
func (app *application) guestLogin(w http.ResponseWriter, r *http.Request) {
	user, err := app.users.EnsureGuestUser(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "failed to sign in as guest", err)
		return
	}
	app.sessionManager.Put(r.Context(), "username", user.Username)
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (app *application) logout(w http.ResponseWriter, r *http.Request) {
	app.sessionManager.Remove(r.Context(), "username")
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) me(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, middleware.GetAuthenticatedUser(r.Context()))
}

// Presence and leaderboard

func (app *application) heartbeat(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	if err := app.presence.Touch(r.Context(), username); err != nil {
		// Redis being down should not break the client loop.
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": false})
		return
	}
	if err := app.userStore.TouchLastSeen(r.Context(), username, time.Now()); err != nil {
		slog.Warn("failed to touch last seen", "user", username, "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (app *application) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := app.presence.Top(r.Context(), 20)
	if err != nil || len(entries) == 0 {
		// Fall back to the durable totals.
		top, err := app.userStore.TopByPoints(r.Context(), 20)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, top)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (app *application) availablePlayers(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	players, err := app.challenges.GetAvailablePlayers(r.Context(), username, limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, players)
}

// Daily

func (app *application) dailyToday(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	view, err := app.daily.GetToday(r.Context(), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (app *application) dailyStart(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	start, err := app.daily.Start(r.Context(), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, start)
}

func (app *application) dailySubmit(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	var params service.SubmitGuessParams
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	result, err := app.daily.Submit(r.Context(), username, params)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// Challenges

func (app *application) requireRegistered(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	if username == middleware.GuestUsername {
		httputil.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "guests cannot play competitive modes"})
		return "", false
	}
	return username, true
}

func (app *application) createChallenge(w http.ResponseWriter, r *http.Request) {
	username, ok := app.requireRegistered(w, r)
	if !ok {
		return
	}
	var params struct {
		Opponent string `json:"opponent"`
	}
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	challenge, err := app.challenges.CreateChallenge(r.Context(), username, params.Opponent)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, challenge)
}

func (app *application) listChallenges(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	challenges, err := app.challenges.GetChallengesForUser(r.Context(), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, challenges)
}

func (app *application) getChallenge(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	challenge, err := app.challenges.GetChallenge(r.Context(), chi.URLParam(r, "id"), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, challenge)
}

func (app *application) challengeTransition(fn func(context.Context, string, string) (*bracket.Challenge, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := app.requireRegistered(w, r)
		if !ok {
			return
		}
		challenge, err := fn(r.Context(), chi.URLParam(r, "id"), username)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, challenge)
	}
}

func (app *application) challengeRounds(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	rounds, err := app.challenges.GetChallengeRounds(r.Context(), chi.URLParam(r, "id"), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rounds)
}

func (app *application) challengeStartRound(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	n, err := roundNumber(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	start, err := app.challenges.StartRound(r.Context(), chi.URLParam(r, "id"), n, username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, start)
}

func (app *application) challengeSubmitRound(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	n, err := roundNumber(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	var params service.SubmitGuessParams
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	result, err := app.challenges.SubmitRound(r.Context(), chi.URLParam(r, "id"), n, username, params)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (app *application) challengeResults(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	results, err := app.challenges.GetResults(r.Context(), chi.URLParam(r, "id"), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}

// Tournaments

func (app *application) listTournaments(w http.ResponseWriter, r *http.Request) {
	tournaments, err := app.tournaments.ListTournaments(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tournaments)
}

func (app *application) createTournament(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	var params service.CreateTournamentParams
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	tournament, err := app.tournaments.CreateTournament(r.Context(), username, params)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tournament)
}

func (app *application) getTournament(w http.ResponseWriter, r *http.Request) {
	detail, err := app.tournaments.GetTournament(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (app *application) joinTournament(w http.ResponseWriter, r *http.Request) {
	username, ok := app.requireRegistered(w, r)
	if !ok {
		return
	}
	if err := app.tournaments.JoinTournament(r.Context(), chi.URLParam(r, "id"), username); err != nil {
		httputil.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) leaveTournament(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	if err := app.tournaments.LeaveTournament(r.Context(), chi.URLParam(r, "id"), username); err != nil {
		httputil.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) startTournament(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	user := middleware.GetAuthenticatedUser(r.Context())
	if err := app.tournaments.StartTournament(r.Context(), chi.URLParam(r, "id"), username, user != nil && user.IsAdmin); err != nil {
		httputil.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) cancelTournament(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	user := middleware.GetAuthenticatedUser(r.Context())
	if err := app.tournaments.CancelTournament(r.Context(), chi.URLParam(r, "id"), username, user != nil && user.IsAdmin); err != nil {
		httputil.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) getBracket(w http.ResponseWriter, r *http.Request) {
	view, err := app.brackets.GetBracket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (app *application) nextMatch(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	match, err := app.tournaments.NextMatchFor(r.Context(), chi.URLParam(r, "id"), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

// Matches

func (app *application) matchRounds(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	rounds, err := app.matches.GetMatchRounds(r.Context(), chi.URLParam(r, "id"), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rounds)
}

func (app *application) matchStartRound(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	n, err := roundNumber(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	start, err := app.matches.StartRound(r.Context(), chi.URLParam(r, "id"), n, username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, start)
}

func (app *application) matchSubmitRound(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	n, err := roundNumber(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	var params service.SubmitGuessParams
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	result, err := app.matches.SubmitRound(r.Context(), chi.URLParam(r, "id"), n, username, params)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (app *application) matchStatus(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	status, err := app.matches.GetMatchStatus(r.Context(), chi.URLParam(r, "id"), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (app *application) matchResults(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	results, err := app.matches.GetMatchResults(r.Context(), chi.URLParam(r, "id"), username)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}

// Admin

func (app *application) listPictures(w http.ResponseWriter, r *http.Request) {
	pictures, err := app.pictureStore.ListPictures(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pictures)
}

type pictureParams struct {
	ImageURL     string             `json:"imageUrl"`
	Latitude     float64            `json:"latitude"`
	Longitude    float64            `json:"longitude"`
	Difficulty   bracket.Difficulty `json:"difficulty"`
	ShowInDaily  bool               `json:"showInDaily"`
	ShowInVersus bool               `json:"showInVersus"`
}

func (p pictureParams) validate() error {
	if p.ImageURL == "" {
		return fmt.Errorf("image url is required: %w", bracket.ErrValidation)
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("coordinates out of range: %w", bracket.ErrValidation)
	}
	switch p.Difficulty {
	case bracket.DifficultyEasy, bracket.DifficultyMedium, bracket.DifficultyHard:
		return nil
	default:
		return fmt.Errorf("unknown difficulty: %w", bracket.ErrValidation)
	}
}

func (app *application) createPicture(w http.ResponseWriter, r *http.Request) {
	var params pictureParams
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := params.validate(); err != nil {
		httputil.Error(w, err)
		return
	}

	picture := &bracket.Picture{
		ID:           uuid.New(),
		ImageURL:     params.ImageURL,
		Latitude:     params.Latitude,
		Longitude:    params.Longitude,
		Difficulty:   params.Difficulty,
		ShowInDaily:  params.ShowInDaily,
		ShowInVersus: params.ShowInVersus,
	}
	if err := app.pictureStore.CreatePicture(r.Context(), picture); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, picture)
}

func (app *application) updatePicture(w http.ResponseWriter, r *http.Request) {
	picture, err := app.pictureStore.GetPicture(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var params pictureParams
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := params.validate(); err != nil {
		httputil.Error(w, err)
		return
	}

	picture.ImageURL = params.ImageURL
	picture.Latitude = params.Latitude
	picture.Longitude = params.Longitude
	picture.Difficulty = params.Difficulty
	picture.ShowInDaily = params.ShowInDaily
	picture.ShowInVersus = params.ShowInVersus
	if err := app.pictureStore.UpdatePicture(r.Context(), picture); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, picture)
}

func (app *application) deletePicture(w http.ResponseWriter, r *http.Request) {
	if err := app.pictureStore.DeletePicture(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) adminSetWinner(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Winner string `json:"winner"`
	}
	if err := decodeJSON(r, &params); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := app.matches.AdminSetWinner(r.Context(), chi.URLParam(r, "id"), params.Winner); err != nil {
		httputil.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Websocket

func (app *application) serveWS(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.GetUsernameFromContext(r.Context())
	room := chi.URLParam(r, "room")
	if strings.HasPrefix(room, "user:") && room != "user:"+username {
		httputil.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "cannot subscribe to another user's feed"})
		return
	}
	app.hub.ServeRoom(w, r, room, username)
}
