package server

import (
	"context"
	"crypto/subtle"
	"encoding/gob"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AlexTLDR/irl/internal/attendance"
	"github.com/AlexTLDR/irl/internal/config"
	"github.com/AlexTLDR/irl/internal/database"
	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
	"github.com/AlexTLDR/irl/internal/server/handlers"
)

const sessionName = "auth-session"

func init() {
	// flashes are stored in the cookie session
	gob.Register(notify.Toast{})
}

// MemberStore resolves signed-in accounts to directory members
type MemberStore interface {
	GetMemberByEmail(ctx context.Context, email string) (*database.Member, error)
}

type Server struct {
	config       *config.Config
	store        attendance.GuestService
	members      MemberStore
	bus          *notify.Bus
	coordinator  *attendance.Coordinator
	directory    *attendance.Directory
	drafts       *handlers.Drafts
	sessionStore *sessions.CookieStore
	router       *http.ServeMux
	log          zerolog.Logger
	httpServer   *http.Server
}

// GetConfig implements handlers.Server interface
func (s *Server) GetConfig() *config.Config {
	return s.config
}

// GetStore implements handlers.Server interface
func (s *Server) GetStore() attendance.GuestService {
	return s.store
}

func (s *Server) GetCoordinator() *attendance.Coordinator {
	return s.coordinator
}

func (s *Server) GetDirectory() *attendance.Directory {
	return s.directory
}

func (s *Server) GetDrafts() *handlers.Drafts {
	return s.drafts
}

func (s *Server) GetBus() *notify.Bus {
	return s.bus
}

func (s *Server) GetLogger() *zerolog.Logger {
	return &s.log
}

// GetCurrentUser implements handlers.Server interface
func (s *Server) GetCurrentUser(r *http.Request) handlers.User {
	session, _ := s.sessionStore.Get(r, sessionName)
	email, _ := session.Values["email"].(string)
	name, _ := session.Values["name"].(string)
	memberUID, _ := session.Values["member_uid"].(string)
	teamUID, _ := session.Values["team_uid"].(string)
	return handlers.User{
		Email:     email,
		Name:      name,
		MemberUID: memberUID,
		TeamUID:   teamUID,
		Admin:     email != "" && s.config.IsAdmin(email),
	}
}

// AddFlash queues a toast for the next page render
func (s *Server) AddFlash(w http.ResponseWriter, r *http.Request, t notify.Toast) {
	session, _ := s.sessionStore.Get(r, sessionName)
	session.AddFlash(t)
	if err := session.Save(r, w); err != nil {
		s.log.Warn().Err(err).Msg("Failed to save flash")
	}
}

// Flashes pops the queued toasts
func (s *Server) Flashes(w http.ResponseWriter, r *http.Request) []notify.Toast {
	session, _ := s.sessionStore.Get(r, sessionName)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := session.Save(r, w); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear flashes")
	}

	toasts := make([]notify.Toast, 0, len(raw))
	for _, f := range raw {
		if t, ok := f.(notify.Toast); ok {
			toasts = append(toasts, t)
		}
	}
	return toasts
}

func New(cfg *config.Config, guests attendance.GuestService, members MemberStore, bus *notify.Bus, logger zerolog.Logger) *Server {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	store.Options.Secure = strings.HasPrefix(cfg.BaseURL, "https://")

	s := &Server{
		config:       cfg,
		store:        guests,
		members:      members,
		bus:          bus,
		coordinator:  attendance.NewCoordinator(guests, bus, logger),
		directory:    attendance.NewDirectory(guests, bus, logger, attendance.WithMaxAge(cfg.DirectoryCacheTTL)),
		drafts:       handlers.NewDrafts(),
		sessionStore: store,
		router:       http.NewServeMux(),
		log:          logger.With().Str("component", "server").Logger(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Public routes
	s.router.HandleFunc("GET /irl/{location}", handlers.HandleGuestsPage(s))

	// Auth routes
	s.router.HandleFunc("GET /auth/google", s.handleGoogleLogin)
	s.router.HandleFunc("GET /auth/google/callback", s.handleGoogleCallback)
	s.router.HandleFunc("GET /auth/logout", s.handleLogout)

	// Member routes (protected)
	s.router.HandleFunc("POST /irl/{location}/guests", s.requireAuth(handlers.HandleGuestSubmit(s)))
	s.router.HandleFunc("POST /irl/{location}/guests/remove", s.requireAuth(handlers.HandleRemoveGuests(s)))
	s.router.HandleFunc("POST /irl/{location}/follow", s.requireAuth(handlers.HandleFollow(s)))

	s.router.HandleFunc("GET /irl/{location}/form", s.requireAuth(handlers.HandleFormOpen(s)))
	s.router.HandleFunc("DELETE /irl/{location}/form", s.requireAuth(handlers.HandleFormDiscard(s)))
	s.router.HandleFunc("PATCH /irl/{location}/form", s.requireAuth(handlers.HandleFormDetails(s)))
	s.router.HandleFunc("POST /irl/{location}/form/submit", s.requireAuth(handlers.HandleFormSubmit(s)))
	s.router.HandleFunc("POST /irl/{location}/form/gatherings/{gathering}/toggle", s.requireAuth(handlers.HandleFormToggle(s)))
	s.router.HandleFunc("POST /irl/{location}/form/gatherings/{gathering}/host", s.requireAuth(handlers.HandleFormRole(s, irl.RoleHost)))
	s.router.HandleFunc("POST /irl/{location}/form/gatherings/{gathering}/speaker", s.requireAuth(handlers.HandleFormRole(s, irl.RoleSpeaker)))
	s.router.HandleFunc("POST /irl/{location}/form/gatherings/{gathering}/{role}/sub-events", s.requireAuth(handlers.HandleSubEventAdd(s)))
	s.router.HandleFunc("PATCH /irl/{location}/form/gatherings/{gathering}/{role}/sub-events/{id}", s.requireAuth(handlers.HandleSubEventUpdate(s)))
	s.router.HandleFunc("DELETE /irl/{location}/form/gatherings/{gathering}/{role}/sub-events/{id}", s.requireAuth(handlers.HandleSubEventRemove(s)))

	// Admin routes (protected)
	s.router.HandleFunc("GET /irl/{location}/guests.csv", s.requireAdmin(handlers.HandleDownloadCSV(s)))

	// Guest API
	s.router.HandleFunc("GET /api/v1/irl/locations/{location}/guests", s.requireAPIToken(handlers.HandleAPIListGuests(s)))
	s.router.HandleFunc("POST /api/v1/irl/locations/{location}/guests", s.requireAPIToken(handlers.HandleAPICreateGuest(s)))
	s.router.HandleFunc("PUT /api/v1/irl/locations/{location}/guests/{member}", s.requireAPIToken(handlers.HandleAPIEditGuest(s)))
	s.router.HandleFunc("DELETE /api/v1/irl/locations/{location}/guests", s.requireAPIToken(handlers.HandleAPIDeleteGuests(s)))
	s.router.HandleFunc("GET /api/v1/irl/locations/{location}/followers", s.requireAPIToken(handlers.HandleAPIFollowers(s)))
	s.router.HandleFunc("GET /api/v1/member-subscriptions", s.requireAPIToken(handlers.HandleAPIListSubscriptions(s)))
	s.router.HandleFunc("POST /api/v1/member-subscriptions", s.requireAPIToken(handlers.HandleAPICreateSubscription(s)))
	s.router.HandleFunc("PUT /api/v1/member-subscriptions/{uid}", s.requireAPIToken(handlers.HandleAPIUpdateSubscription(s)))
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.router)
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for background guest refreshes
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.directory.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// requireAuth is a middleware that checks if user is authenticated
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.GetCurrentUser(r).LoggedIn() {
			if r.Method == http.MethodGet && !strings.Contains(r.Header.Get("Accept"), "application/json") {
				http.Redirect(w, r, "/auth/google?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// requireAdmin lets only whitelisted emails through
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !s.GetCurrentUser(r).Admin {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

// requireAPIToken checks the bearer token of Guest API calls. An empty
// API_TOKEN leaves the API open, which is only meant for local development.
func (s *Server) requireAPIToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIToken)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}
