package server

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/auth"
	"jokes/internal/ledger"
	"jokes/internal/policy"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, apperr.InvalidInput("malformed form"))
		return
	}
	_, confirm := r.PostForm["confirm"]
	u, err := s.svc.Register(r.Context(), auth.Registration{
		Email:           r.PostFormValue("email"),
		Nickname:        r.PostFormValue("nickname"),
		Password:        r.PostFormValue("password"),
		Confirm:         r.PostFormValue("confirm"),
		ConfirmRequired: confirm,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.logins.allow(r) {
		log.WithField("remote", r.RemoteAddr).Warn("login throttled")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many login attempts. Try again later.", Kind: "throttled"})
		return
	}
	login := r.FormValue("login")
	if login == "" {
		login = r.FormValue("email")
	}
	u, err := s.svc.Login(r.Context(), login, r.FormValue("password"))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.svc.StartSession(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.CookieName); err == nil {
		if err := s.svc.EndSession(r.Context(), cookie.Value); err != nil {
			writeError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: s.CookieName, Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"redirect": "/"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	u, err := s.svc.Me(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListJokes(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	scope := ledger.ScopeAll
	switch {
	case strings.HasSuffix(r.URL.Path, "/mine"):
		scope = ledger.ScopeMine
	case strings.HasSuffix(r.URL.Path, "/others"):
		scope = ledger.ScopeOthers
	}
	jokes, err := s.svc.ListJokes(r.Context(), p, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jokes": jokes})
}

func (s *Server) handleNewJoke(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	id, err := s.svc.CreatePost(r.Context(), p, r.FormValue("title"), r.FormValue("body"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleJoke(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	detail, paid, err := s.svc.ViewPost(r.Context(), p, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"joke": detail, "credit_spent": paid})
}

func (s *Server) handleUpdateJoke(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.UpdatePost(r.Context(), p, id, r.FormValue("body")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleDeleteJoke(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.DeletePost(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	value, err := formInt(r, "value", "Rating must be an integer between 1 and 5.")
	if err != nil {
		writeError(w, err)
		return
	}
	agg, err := s.svc.RatePost(r.Context(), p, id, value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.svc.CommentOnPost(r.Context(), p, id, r.FormValue("body"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.DeleteComment(r.Context(), p, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	users, err := s.svc.ListUsers(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	s.moderate(w, r, func(target int64) error {
		return s.svc.PromoteUser(r.Context(), p, target)
	})
}

func (s *Server) handleDemote(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	s.moderate(w, r, func(target int64) error {
		return s.svc.DemoteUser(r.Context(), p, target)
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, p policy.Principal) {
	s.moderate(w, r, func(target int64) error {
		// refuse non-moderators before looking at their input
		if err := policy.CanModerate(p).Err(); err != nil {
			return err
		}
		balance, err := formInt(r, "balance", "Balance must be a non-negative integer.")
		if err != nil {
			return err
		}
		return s.svc.SetUserBalance(r.Context(), p, target, balance)
	})
}

func (s *Server) moderate(w http.ResponseWriter, r *http.Request, action func(target int64) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := action(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "redirect": "/admin/users"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if strings.HasSuffix(r.URL.Path, "/users") {
		writeJSON(w, http.StatusOK, map[string]int{"users": st.Users})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"jokes": st.Jokes})
}
