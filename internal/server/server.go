package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/metrics"
	"jokes/internal/service"
)

// Options tune the transport. Zero values fall back to defaults.
type Options struct {
	CookieSecure    bool
	LoginRatePerMin int
}

type Server struct {
	svc     *service.Service
	metrics *metrics.Metrics
	gather  prometheus.Gatherer
	logins  *loginLimiter
	router  *mux.Router

	CookieName   string
	CookieSecure bool
}

// New wires the routes. m must be the collectors the service records into,
// and g the registry holding them.
func New(svc *service.Service, m *metrics.Metrics, g prometheus.Gatherer, opts Options) *Server {
	if opts.LoginRatePerMin <= 0 {
		opts.LoginRatePerMin = 10
	}
	s := &Server{
		svc:          svc,
		metrics:      m,
		gather:       g,
		logins:       newLoginLimiter(opts.LoginRatePerMin, time.Now),
		CookieName:   "session_id",
		CookieSecure: opts.CookieSecure,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet)

	r.HandleFunc("/jokes", s.requireAuth(s.handleListJokes)).Methods(http.MethodGet)
	r.HandleFunc("/jokes/mine", s.requireAuth(s.handleListJokes)).Methods(http.MethodGet)
	r.HandleFunc("/jokes/others", s.requireAuth(s.handleListJokes)).Methods(http.MethodGet)
	r.HandleFunc("/jokes", s.requireAuth(s.handleNewJoke)).Methods(http.MethodPost)
	r.HandleFunc("/jokes/{id:[0-9]+}", s.requireAuth(s.handleJoke)).Methods(http.MethodGet)
	r.HandleFunc("/jokes/{id:[0-9]+}", s.requireAuth(s.handleUpdateJoke)).Methods(http.MethodPut)
	r.HandleFunc("/jokes/{id:[0-9]+}", s.requireAuth(s.handleDeleteJoke)).Methods(http.MethodDelete)
	r.HandleFunc("/jokes/{id:[0-9]+}/rate", s.requireAuth(s.handleRate)).Methods(http.MethodPost)
	r.HandleFunc("/jokes/{id:[0-9]+}/comments", s.requireAuth(s.handleComment)).Methods(http.MethodPost)
	r.HandleFunc("/comments/{id:[0-9]+}", s.requireAuth(s.handleDeleteComment)).Methods(http.MethodDelete)

	r.HandleFunc("/admin/users", s.requireAuth(s.handleUsers)).Methods(http.MethodGet)
	r.HandleFunc("/admin/users/{id:[0-9]+}/promote", s.requireAuth(s.handlePromote)).Methods(http.MethodPost)
	r.HandleFunc("/admin/users/{id:[0-9]+}/demote", s.requireAuth(s.handleDemote)).Methods(http.MethodPost)
	r.HandleFunc("/admin/users/{id:[0-9]+}/balance", s.requireAuth(s.handleBalance)).Methods(http.MethodPost)

	r.HandleFunc("/api/status/users", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/status/jokes", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("writing response")
	}
}

type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Field    string `json:"field,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// writeError answers with the status of err's kind. Readers out of credit are
// sent to their own jokes, where publishing earns more.
func writeError(w http.ResponseWriter, err error) {
	err = apperr.Translate(err)
	body := errorBody{Error: err.Error(), Kind: apperr.KindOf(err).String()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Field = ae.Field
		if ae.Kind == apperr.KindInsufficientCredit {
			body.Redirect = "/jokes/mine"
		}
	}
	writeJSON(w, apperr.KindOf(err).HTTPStatus(), body)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound("not found")
	}
	return id, nil
}

func formInt(r *http.Request, field, message string) (int, error) {
	n, err := strconv.Atoi(r.FormValue(field))
	if err != nil {
		return 0, apperr.InvalidField(field, "%s", message)
	}
	return n, nil
}
