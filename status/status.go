// Package status serves the run journal of a node over HTTP.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/flynn/mongorole/facts"
	"github.com/flynn/mongorole/journal"
	"github.com/flynn/mongorole/reconcile"
	"github.com/inconshreveable/log15"
	"github.com/julienschmidt/httprouter"
)

const defaultRunLimit = 20

// Server is a read-only view of the journal at JournalPath. The journal
// is opened per request so a concurrent apply can take the write lock.
type Server struct {
	JournalPath string
	// LockWait bounds how long a request waits for a running apply.
	LockWait time.Duration
	// Daemon, when set, is queried for live daemon facts on /status.
	Daemon func(ctx context.Context) (*facts.Daemon, error)
	Logger log15.Logger
}

// Summary is the body of GET /status.
type Summary struct {
	// Running is set while an apply holds the journal.
	Running bool          `json:"running"`
	LastRun *RunSummary   `json:"last_run,omitempty"`
	Daemon  *DaemonStatus `json:"daemon,omitempty"`
}

type RunSummary struct {
	ID              uint64          `json:"id"`
	Node            string          `json:"node"`
	DryRun          bool            `json:"dry_run"`
	Started         time.Time       `json:"started"`
	Finished        time.Time       `json:"finished"`
	Duration        string          `json:"duration"`
	Failed          bool            `json:"failed"`
	Tally           reconcile.Tally `json:"tally"`
	ReplicaSetState string          `json:"replset_state,omitempty"`
}

type DaemonStatus struct {
	Reachable     bool           `json:"reachable"`
	Authenticated bool           `json:"authenticated"`
	SetName       string         `json:"set_name,omitempty"`
	Primary       string         `json:"primary,omitempty"`
	Writable      bool           `json:"writable"`
	Members       []MemberStatus `json:"members,omitempty"`
	Error         string         `json:"error,omitempty"`
}

type MemberStatus struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Healthy bool   `json:"healthy"`
}

func summarize(e *journal.Entry) *RunSummary {
	r := e.Report
	return &RunSummary{
		ID:              e.ID,
		Node:            r.Node,
		DryRun:          r.DryRun,
		Started:         r.Started,
		Finished:        r.Finished,
		Duration:        r.Duration().String(),
		Failed:          r.Failed(),
		Tally:           r.Tally(),
		ReplicaSetState: r.ReplicaSetState,
	}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/ping", s.ping)
	router.GET("/status", s.status)
	router.GET("/runs", s.runs)
	router.GET("/runs/:id", s.run)
	return &requestLogger{handler: router, logger: s.Logger}
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.Logger.Info("serving status", "addr", addr, "journal", s.JournalPath)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) ping(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	w.WriteHeader(200)
}

type journalState int

const (
	journalOpen journalState = iota
	journalMissing
	// journalLocked means an apply holds the write lock.
	journalLocked
	// journalFailed means the error response has been written.
	journalFailed
)

func (s *Server) openJournal(w http.ResponseWriter) (*journal.Journal, journalState) {
	j, err := journal.OpenReadOnly(s.JournalPath, s.LockWait)
	switch {
	case err == journal.ErrLocked:
		return nil, journalLocked
	case os.IsNotExist(err):
		return nil, journalMissing
	case err != nil:
		s.Logger.Error("error opening journal", "fn", "openJournal", "err", err)
		errorJSON(w, 500, err.Error())
		return nil, journalFailed
	}
	return j, journalOpen
}

func (s *Server) status(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var sum Summary
	j, state := s.openJournal(w)
	switch state {
	case journalFailed:
		return
	case journalLocked:
		sum.Running = true
	case journalOpen:
		last, err := j.Last()
		j.Close()
		if err != nil {
			errorJSON(w, 500, err.Error())
			return
		}
		if last != nil {
			sum.LastRun = summarize(last)
		}
	}
	if s.Daemon != nil {
		sum.Daemon = s.daemonStatus(req.Context())
	}
	writeJSON(w, 200, sum)
}

func (s *Server) daemonStatus(ctx context.Context) *DaemonStatus {
	d, err := s.Daemon(ctx)
	if err != nil {
		return &DaemonStatus{Error: err.Error()}
	}
	st := &DaemonStatus{Reachable: d.Reachable, Authenticated: d.Authenticated}
	if h := d.Hello; h != nil {
		st.SetName = h.SetName
		st.Primary = h.Primary
		st.Writable = h.IsWritablePrimary
	}
	if d.Status != nil {
		for _, m := range d.Status.Members {
			st.Members = append(st.Members, MemberStatus{Name: m.Name, State: m.State.String(), Healthy: m.Health == 1})
		}
	}
	return st
}

func (s *Server) runs(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	limit := defaultRunLimit
	if v := req.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errorJSON(w, 400, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	j, state := s.openJournal(w)
	switch state {
	case journalFailed:
		return
	case journalLocked:
		errorJSON(w, 503, "a run is in progress")
		return
	case journalMissing:
		writeJSON(w, 200, []*RunSummary{})
		return
	}
	defer j.Close()
	entries, err := j.List(limit)
	if err != nil {
		errorJSON(w, 500, err.Error())
		return
	}
	out := make([]*RunSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summarize(e))
	}
	writeJSON(w, 200, out)
}

func (s *Server) run(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
	id, err := strconv.ParseUint(params.ByName("id"), 10, 64)
	if err != nil {
		errorJSON(w, 400, "invalid run id")
		return
	}
	j, state := s.openJournal(w)
	switch state {
	case journalFailed:
		return
	case journalLocked:
		errorJSON(w, 503, "a run is in progress")
		return
	case journalMissing:
		errorJSON(w, 404, "run not found")
		return
	}
	defer j.Close()
	e, err := j.Get(id)
	switch {
	case err != nil:
		errorJSON(w, 500, err.Error())
	case e == nil:
		errorJSON(w, 404, "run not found")
	default:
		writeJSON(w, 200, e)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

type requestLogger struct {
	handler http.Handler
	logger  log15.Logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (l *requestLogger) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: 200}
	l.handler.ServeHTTP(rec, req)
	l.logger.Debug("request completed", "method", req.Method, "path", req.URL.Path, "status", rec.status, "duration", time.Since(start))
}
