package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/matzehuels/layoutsched/pkg/buildinfo"
	"github.com/matzehuels/layoutsched/pkg/errors"
	"github.com/matzehuels/layoutsched/pkg/forest"
	"github.com/matzehuels/layoutsched/pkg/node"
	"github.com/matzehuels/layoutsched/pkg/scenario"
)

const (
	// sizeRequestWait is how long POST /resources/{id}/size waits for a
	// negotiated outcome before answering 202.
	sizeRequestWait = 2 * time.Second

	shutdownTimeout = 5 * time.Second
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <scenario.toml>",
		Short: "Replay a scenario in real time behind an HTTP API",
		Long: `Replay a scenario on the wall clock and expose the live scheduler over HTTP.

Endpoints:
  GET  /snapshot                 scheduler state as JSON
  GET  /decisions                size negotiation decisions so far
  GET  /timeline                 recorded timeline
  GET  /forest.svg               managed forest rendered with Graphviz
  GET  /version                  build information
  POST /scroll                   {"top": 1200, "velocity": 1.5}
  POST /visibility               {"state": "hidden"}
  POST /resources/{id}/size      {"height": 400, "force": false, "user": true}`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeScenario,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			opts, err := c.options(10000)
			if err != nil {
				return err
			}
			opts.Context = cmd.Context()
			sess, err := scenario.NewSession(sc, opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), loggerFromContext(cmd.Context()), addr, sess)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "listen address")
	return cmd
}

func serve(ctx context.Context, logger *log.Logger, addr string, sess *scenario.Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(sess, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()

	printInfo("Serving %s on http://%s", sess.Name(), addr)
	err := srv.ListenAndServe()
	cancel()
	if runErr := <-done; runErr != nil {
		return runErr
	}
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// =============================================================================
// Router
// =============================================================================

type api struct {
	sess   *scenario.Session
	logger *log.Logger
}

func newRouter(sess *scenario.Session, logger *log.Logger) http.Handler {
	a := &api{sess: sess, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/snapshot", a.snapshot)
	r.Get("/decisions", a.decisions)
	r.Get("/timeline", a.timeline)
	r.Get("/forest.svg", a.forestSVG)
	r.Get("/version", a.version)
	r.Post("/scroll", a.scroll)
	r.Post("/visibility", a.visibility)
	r.Post("/resources/{id}/size", a.changeSize)
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"took", time.Since(start).Round(time.Microsecond), "request", middleware.GetReqID(r.Context()))
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (a *api) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sess.Snapshot(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) decisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sess.Recorder().Decisions())
}

func (a *api) timeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sess.Recorder().Entries())
}

func (a *api) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Get())
}

func (a *api) forestSVG(w http.ResponseWriter, r *http.Request) {
	snap, err := a.sess.Snapshot(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	detailed := r.URL.Query().Get("detailed") != ""
	svg, err := forest.RenderSVG(r.Context(), forest.ToDOT(snap, forest.Options{Detailed: detailed}))
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(svg)
}

type scrollRequest struct {
	Top      float64 `json:"top"`
	Velocity float64 `json:"velocity"`
}

func (a *api) scroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.sess.Scroll(r.Context(), req.Top, req.Velocity); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type visibilityRequest struct {
	State string `json:"state"`
}

func (a *api) visibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.sess.SetVisibility(r.Context(), req.State); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sizeRequest struct {
	Height *float64 `json:"height"`
	Width  *float64 `json:"width"`
	Force  bool     `json:"force"`
	User   bool     `json:"user"`
}

type sizeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (a *api) changeSize(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodePrecondition, "bad resource id %q", chi.URLParam(r, "id")))
		return
	}
	var req sizeRequest
	if !a.decode(w, r, &req) {
		return
	}
	change := node.SizeChange{Height: req.Height, Width: req.Width}
	if change.IsEmpty() {
		writeError(w, http.StatusBadRequest, errors.New(errors.ErrCodePrecondition, "height or width required"))
		return
	}

	o, ok, err := a.sess.ChangeSize(r.Context(), id, change, req.Force, req.User, sizeRequestWait)
	if err != nil {
		a.fail(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusAccepted, sizeResponse{Status: "pending"})
		return
	}
	resp := sizeResponse{Status: o.Status.String()}
	if o.Err != nil {
		resp.Error = errors.UserMessage(o.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrCodeNotManaged):
		status = http.StatusNotFound
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "err", err)
	}
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"code":  string(errors.GetCode(err)),
		"error": errors.UserMessage(err),
	})
}
