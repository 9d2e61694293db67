package hadmin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// DebugServer is a small read-only HTTP introspection surface over this
// node's registry and orchestrator: which task libraries and task states
// are live, and how many workers are running.
// It is entirely optional scaffolding around the admin task state, not a
// substitute for the task-dispatched verbs above.
type DebugServer struct {
	state  *State
	router *mux.Router
	srv    *http.Server
}

// NewDebugServer wires up the introspection routes. addr is the listen
// address (e.g. ":6368"); the server is not started until Serve is called.
func NewDebugServer(addr string, state *State) *DebugServer {
	d := &DebugServer{state: state, router: mux.NewRouter()}
	d.router.HandleFunc("/debug/states", d.handleStates).Methods(http.MethodGet)
	d.router.HandleFunc("/debug/libs", d.handleLibs).Methods(http.MethodGet)
	d.router.HandleFunc("/debug/workers", d.handleWorkers).Methods(http.MethodGet)
	d.srv = &http.Server{Addr: addr, Handler: d.router}
	return d
}

// Serve blocks running the debug HTTP server until Close is called.
func (d *DebugServer) Serve() error {
	err := d.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the debug server down.
func (d *DebugServer) Close() error { return d.srv.Close() }

func (d *DebugServer) handleStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.state.rt.Registry.Snapshot())
}

func (d *DebugServer) handleLibs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.state.rt.Registry.LibNames())
}

type workerSummary struct {
	NumWorkers int `json:"num_workers"`
}

func (d *DebugServer) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, workerSummary{NumWorkers: d.state.orch.NumWorkers()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
