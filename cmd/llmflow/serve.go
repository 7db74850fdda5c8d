package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/emit"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/workflows/dataframe"
	"github.com/dshills/llm-workflows/workflows/router"
	"github.com/dshills/llm-workflows/workflows/sqlgen"
)

func newServeCmd() *cobra.Command {
	var recordsFile, insuranceFile, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflows over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(settings)
			defer a.Close()
			ctx := cmd.Context()

			routerWF, err := buildRouter(ctx, a, recordsFile, insuranceFile)
			if err != nil {
				return err
			}
			sqlWF, err := buildSQL(a)
			if err != nil {
				return err
			}
			m, err := a.chatModel(model.LowVariability)
			if err != nil {
				return err
			}
			agents, err := dataframeAgents(a, m)
			if err != nil {
				return err
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := &server{
				router:   routerWF,
				sql:      sqlWF,
				agents:   agents,
				events:   a.events,
				registry: a.registry,
				forget:   a.forgetRun,
			}
			return listen(addr, srv.routes())
		},
	}
	cmd.Flags().StringVar(&recordsFile, "records", "", "Text file to ingest into the medical records corpus")
	cmd.Flags().StringVar(&insuranceFile, "insurance", "", "Text file to ingest into the insurance FAQ corpus")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	return cmd
}

// listen serves handler until SIGINT or SIGTERM, then drains requests.
func listen(addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("llmflow listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		return err
	case <-sig:
	}

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

type server struct {
	router   *router.Workflow
	sql      *sqlgen.Workflow
	agents   agentFactory
	events   *emit.BufferedEmitter
	registry *prometheus.Registry

	// forget drops a run's stored steps before its reply is written.
	forget func(ctx context.Context, runID string)
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/route", s.handleRoute).Methods("POST")
	r.HandleFunc("/v1/sql", s.handleSQL).Methods("POST")
	r.HandleFunc("/v1/dataframe", s.handleDataframe).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

type queryRequest struct {
	Query string `json:"query"`
}

type dataframeRequest struct {
	Query string `json:"query"`
	CSV   string `json:"csv"`
	Table string `json:"table"`
}

// response wraps a workflow output. Events are included when the request
// asks for ?trace=true.
type response struct {
	RunID  string       `json:"run_id"`
	Output interface{}  `json:"output"`
	Events []emit.Event `json:"events,omitempty"`
}

func (s *server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	runID := uuid.NewString()
	out, err := s.router.RunWithID(r.Context(), runID, router.Input{UserQuery: req.Query})
	s.reply(w, r, runID, out, err)
}

func (s *server) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	runID := uuid.NewString()
	out, err := s.sql.RunWithID(r.Context(), runID, sqlgen.Input{UserQuery: req.Query})
	s.reply(w, r, runID, out, err)
}

func (s *server) handleDataframe(w http.ResponseWriter, r *http.Request) {
	var req dataframeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Table == "" {
		req.Table = "data"
	}
	if strings.TrimSpace(req.CSV) == "" {
		writeError(w, http.StatusBadRequest, "csv is required")
		return
	}

	db, err := dataframe.OpenMemoryDB()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer db.Close()
	frame, err := dataframe.LoadCSV(r.Context(), db, req.Table, strings.NewReader(req.CSV))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agent, err := s.agents(db, frame)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runID := uuid.NewString()
	out, err := agent.RunWithID(r.Context(), runID, dataframe.Input{Query: req.Query})
	s.reply(w, r, runID, out, err)
}

// reply writes a run's result. The run's events and stored steps are dropped
// before the response goes out.
func (s *server) reply(w http.ResponseWriter, r *http.Request, runID string, out interface{}, err error) {
	var events []emit.Event
	if err == nil && r.URL.Query().Get("trace") == "true" {
		events = s.events.History(runID)
	}
	s.events.Clear(runID)
	if s.forget != nil {
		s.forget(context.Background(), runID)
	}

	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Str("path", r.URL.Path).Msg("workflow failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response{RunID: runID, Output: out, Events: events})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, router.ErrEmptyQuery), errors.Is(err, sqlgen.ErrEmptyQuery), errors.Is(err, dataframe.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch graph.ErrorCode(err) {
	case router.CodeUnclassifiedDomain, sqlgen.CodeEmptySQL, dataframe.CodeMaxIterations:
		return http.StatusUnprocessableEntity
	case graph.CodeNodeTimeout:
		return http.StatusGatewayTimeout
	case graph.CodeNodeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
