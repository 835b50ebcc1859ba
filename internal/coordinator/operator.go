package coordinator

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/mirror"
)

// Pinger reports whether an external dependency is reachable. *mirror.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OperatorServer serves read-only HTTP endpoints over a running coordinator.
type OperatorServer struct {
	addr     string
	c        *Coordinator
	server   *http.Server
	listener net.Listener
}

// NewOperatorServer creates a new operator server for c on addr.
func NewOperatorServer(addr string, c *Coordinator) *OperatorServer {
	return &OperatorServer{
		addr: addr,
		c:    c,
	}
}

// Handler returns the HTTP routes. Exposed for tests.
func (o *OperatorServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", o.healthCheckHandler)
	mux.HandleFunc("/negotiations", o.negotiationsHandler)
	mux.HandleFunc("/negotiations/{id}", o.negotiationHandler)
	mux.HandleFunc("/knowledge", o.knowledgeHandler)
	mux.HandleFunc("/stats", o.statsHandler)
	return mux
}

// Start binds the listen address and serves in the background.
func (o *OperatorServer) Start() error {
	listener, err := net.Listen("tcp", o.addr)
	if err != nil {
		return err
	}
	o.listener = listener

	o.server = &http.Server{
		Handler:      o.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Start server in background
	go func() {
		if err := o.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[Operator] Server error: %v", err)
		}
	}()

	log.Printf("[Operator] Listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (o *OperatorServer) Addr() string {
	if o.listener != nil {
		return o.listener.Addr().String()
	}
	return o.addr
}

// Shutdown gracefully shuts down the operator server.
func (o *OperatorServer) Shutdown(ctx context.Context) error {
	if o.server == nil {
		return nil
	}
	return o.server.Shutdown(ctx)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status   string `json:"status"`
	Instance string `json:"instance"`
	Redis    string `json:"redis,omitempty"`
	Error    string `json:"error,omitempty"`
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK when the coordinator is up and any configured store is reachable, 503 otherwise.
func (o *OperatorServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	response := HealthResponse{
		Status:   "healthy",
		Instance: o.c.instanceName,
	}

	if o.c.pinger != nil {
		// Check Redis connectivity with timeout
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := o.c.pinger.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Redis = "disconnected"
			response.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response.Redis = "connected"
	}

	writeJSON(w, http.StatusOK, response)
}

// negotiationsHandler handles GET /negotiations.
func (o *OperatorServer) negotiationsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	negotiations := o.c.Negotiations()
	records := make([]*mirror.NegotiationRecord, 0, len(negotiations))
	for _, n := range negotiations {
		records = append(records, mirror.NewNegotiationRecord(n))
	}
	writeJSON(w, http.StatusOK, records)
}

// negotiationHandler handles GET /negotiations/{id} with the full snapshot including bids.
func (o *OperatorServer) negotiationHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	n, ok := o.c.contracts.Negotiation(r.PathValue("id"))
	if !ok {
		http.Error(w, "negotiation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// knowledgeHandler handles GET /knowledge and GET /knowledge?area=<area>.
func (o *OperatorServer) knowledgeHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	area := r.URL.Query().Get("area")
	if area == "" {
		writeJSON(w, http.StatusOK, o.c.Knowledge())
		return
	}

	if err := blackboard.Area(area).Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries := o.c.board.QueryArea(blackboard.Area(area))
	if entries == nil {
		entries = []blackboard.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// statsHandler handles GET /stats.
func (o *OperatorServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, o.c.Stats())
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Operator] Failed to encode response: %v", err)
	}
}
