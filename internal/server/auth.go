package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/AlexTLDR/irl/internal/database"
)

const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type googleUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *Server) getGoogleOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.config.GoogleClientID,
		ClientSecret: s.config.GoogleClientSecret,
		RedirectURL:  s.config.GoogleRedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	session, _ := s.sessionStore.Get(r, sessionName)
	session.Values["oauth_state"] = state
	if next := r.URL.Query().Get("next"); len(next) > 1 && next[0] == '/' && next[1] != '/' {
		session.Values["next"] = next
	}
	if err := session.Save(r, w); err != nil {
		http.Error(w, "Failed to save session", http.StatusInternalServerError)
		return
	}

	url := s.getGoogleOAuthConfig().AuthCodeURL(state, oauth2.AccessTypeOnline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	session, _ := s.sessionStore.Get(r, sessionName)
	want, _ := session.Values["oauth_state"].(string)
	if want == "" || r.URL.Query().Get("state") != want {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	delete(session.Values, "oauth_state")

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	user, err := s.fetchGoogleUser(r, code)
	if err != nil {
		s.log.Error().Err(err).Msg("Google login failed")
		http.Error(w, "Failed to sign in with Google", http.StatusInternalServerError)
		return
	}

	// Members register themselves; admins may sign in without a member record
	var memberUID, teamUID string
	member, err := s.members.GetMemberByEmail(r.Context(), user.Email)
	switch {
	case err == nil:
		memberUID, teamUID = member.UID, member.TeamUID
		if user.Name == "" {
			user.Name = member.Name
		}
	case errors.Is(err, database.ErrNotFound):
		if !s.config.IsAdmin(user.Email) {
			s.log.Info().Str("email", user.Email).Msg("Rejected login for unknown member")
			http.Error(w, "Unauthorized: no member is registered with this email", http.StatusUnauthorized)
			return
		}
	default:
		s.log.Error().Err(err).Msg("Failed to look up member")
		http.Error(w, "Failed to look up member", http.StatusInternalServerError)
		return
	}

	session.Values["email"] = user.Email
	session.Values["name"] = user.Name
	session.Values["member_uid"] = memberUID
	session.Values["team_uid"] = teamUID
	next, _ := session.Values["next"].(string)
	delete(session.Values, "next")
	if err := session.Save(r, w); err != nil {
		http.Error(w, "Failed to save session", http.StatusInternalServerError)
		return
	}

	s.log.Info().Str("email", user.Email).Str("member", memberUID).Msg("User signed in")
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) fetchGoogleUser(r *http.Request, code string) (*googleUser, error) {
	oauthConfig := s.getGoogleOAuthConfig()
	token, err := oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	resp, err := oauthConfig.Client(r.Context(), token).Get(userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info: %w", err)
	}

	var u googleUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if u.Email == "" {
		return nil, errors.New("google account has no email")
	}
	return &u, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := s.sessionStore.Get(r, sessionName)
	for _, k := range []string{"email", "name", "member_uid", "team_uid"} {
		delete(session.Values, k)
	}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear session")
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
