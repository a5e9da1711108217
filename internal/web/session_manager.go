package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionHeader carries the session id on the MCP endpoint. The server
// assigns it on the initialize response and the client echoes it on every
// subsequent request.
const SessionHeader = "Mcp-Session-Id"

// SessionHandler handles all requests for one session. Each session owns
// an independent instance so one client's in-flight operation cannot block
// or corrupt another session.
type SessionHandler interface {
	http.Handler
	Close() error
}

// HandlerFactory builds a fresh SessionHandler for a new session id.
type HandlerFactory interface {
	NewSessionHandler(sessionID string) (SessionHandler, error)
}

// managedSession is one live session in the table.
type managedSession struct {
	id        string
	handler   SessionHandler
	createdAt time.Time

	// lastActivity is guarded by the manager's mutex.
	lastActivity time.Time

	// inFlight counts requests currently executing against this session.
	// The sweep skips sessions with in-flight requests.
	inFlight atomic.Int32

	// mu serializes POST requests on this session. GET streams are not
	// serialized; they hold the connection open for server events.
	mu sync.Mutex
}

// SessionManager maps opaque session ids to isolated handler instances and
// expires idle sessions. It is safe for concurrent use and lives exactly as
// long as the HTTP listener process.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession
	factory  HandlerFactory
	timeout  time.Duration
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewSessionManager creates a session manager. Sessions idle longer than
// timeout are removed by Sweep.
func NewSessionManager(factory HandlerFactory, timeout time.Duration, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*managedSession),
		factory:  factory,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Timeout returns the configured idle timeout.
func (sm *SessionManager) Timeout() time.Duration {
	return sm.timeout
}

// ServeHTTP routes a request to its session's handler, creating a new
// session when the request is an initialize handshake with no session id.
func (sm *SessionManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID != "" {
		sm.serveExisting(w, r, sessionID)
		return
	}
	sm.serveNew(w, r)
}

// serveExisting routes to a known session, or rejects the id. An unknown
// id never creates a session silently: the client believes the session
// exists, so masking the loss would corrupt its state.
func (sm *SessionManager) serveExisting(w http.ResponseWriter, r *http.Request, sessionID string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if ok {
		sess.lastActivity = sm.now()
		sess.inFlight.Add(1)
	}
	sm.mu.Unlock()

	if !ok {
		sm.logger.Debug("request for unknown session", "session_id", sessionID)
		writeJSONRPCError(w, http.StatusNotFound, CodeSessionNotFound,
			"session expired or unknown, reinitialize", requestID(r))
		return
	}
	defer sess.inFlight.Add(-1)

	if r.Method == http.MethodPost {
		sess.mu.Lock()
		defer sess.mu.Unlock()
	}
	sess.handler.ServeHTTP(w, r)
}

// serveNew handles a request carrying no session id. Only an initialize
// handshake may create a session; anything else is rejected.
func (sm *SessionManager) serveNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	isInit, reqID, err := peekInitialize(r)
	if err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !isInit {
		writeJSONRPCError(w, http.StatusBadRequest, CodeInvalidRequest,
			"no session: send an initialize request first", reqID)
		return
	}

	sessionID := uuid.NewString()
	handler, err := sm.factory.NewSessionHandler(sessionID)
	if err != nil {
		sm.logger.Error("failed to create session handler", "error", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	// The id is committed to the table only after the handler confirms
	// the handshake succeeded.
	w.Header().Set(SessionHeader, sessionID)
	rec := &statusRecorder{ResponseWriter: w}
	handler.ServeHTTP(rec, r)

	if rec.Status() >= 400 {
		sm.logger.Warn("initialize failed, discarding session",
			"session_id", sessionID, "status", rec.Status())
		if err := handler.Close(); err != nil {
			sm.logger.Debug("failed to close rejected handler", "error", err)
		}
		return
	}

	now := sm.now()
	sm.mu.Lock()
	sm.sessions[sessionID] = &managedSession{
		id:           sessionID,
		handler:      handler,
		createdAt:    now,
		lastActivity: now,
	}
	total := len(sm.sessions)
	sm.mu.Unlock()

	sm.logger.Info("session created", "session_id", sessionID, "total_sessions", total)
}

// Sweep removes every session idle strictly longer than the timeout and
// returns the removed and remaining counts. Sessions idle for exactly the
// timeout are retained. Sessions with in-flight requests are skipped; they
// are caught on a later pass once idle. Handler close failures are logged,
// never propagated.
func (sm *SessionManager) Sweep(now time.Time) (removed, remaining int) {
	sm.mu.Lock()
	var expired []*managedSession
	for id, sess := range sm.sessions {
		if now.Sub(sess.lastActivity) > sm.timeout && sess.inFlight.Load() == 0 {
			expired = append(expired, sess)
			delete(sm.sessions, id)
		}
	}
	remaining = len(sm.sessions)
	sm.mu.Unlock()

	for _, sess := range expired {
		if err := sess.handler.Close(); err != nil {
			sm.logger.Warn("failed to close expired session",
				"session_id", sess.id, "error", err)
		}
	}

	if len(expired) > 0 {
		sm.logger.Info("swept idle sessions",
			"removed", len(expired), "remaining", remaining)
	}
	return len(expired), remaining
}

// StartSweeper runs Sweep on the given interval until ctx is canceled.
func (sm *SessionManager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.Sweep(sm.now())
			}
		}
	}()
}

// ForceExpire removes one session regardless of its idle time. Returns
// false if the id is unknown.
func (sm *SessionManager) ForceExpire(sessionID string) bool {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if !ok {
		return false
	}
	if err := sess.handler.Close(); err != nil {
		sm.logger.Warn("failed to close expired session",
			"session_id", sessionID, "error", err)
	}
	sm.logger.Info("session force-expired", "session_id", sessionID)
	return true
}

// Clear removes all sessions and returns how many were removed. Used for
// operational recovery without restarting the process.
func (sm *SessionManager) Clear() int {
	sm.mu.Lock()
	sessions := make([]*managedSession, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	sm.sessions = make(map[string]*managedSession)
	sm.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.handler.Close(); err != nil {
			sm.logger.Warn("failed to close session",
				"session_id", sess.id, "error", err)
		}
	}

	if len(sessions) > 0 {
		sm.logger.Info("cleared all sessions", "count", len(sessions))
	}
	return len(sessions)
}

// CloseAll closes every session on shutdown. Best effort.
func (sm *SessionManager) CloseAll() {
	sm.Clear()
}

// statusRecorder captures the status code written to a ResponseWriter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the recorded status, defaulting to 200 when the handler
// wrote nothing explicit.
func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// peekInitialize reports whether the request body is a JSON-RPC initialize
// request, restoring the body for the downstream handler. It also returns
// the request id for use in error responses.
func peekInitialize(r *http.Request) (bool, any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return false, nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	var msg struct {
		Method string `json:"method"`
		ID     any    `json:"id"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		// Batch or malformed payloads are not initialize handshakes;
		// let the rejection path produce the structured error.
		return false, nil, nil
	}
	return msg.Method == "initialize", msg.ID, nil
}

// requestID best-effort extracts the JSON-RPC id from a request body for
// error responses, restoring the body afterwards.
func requestID(r *http.Request) any {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return nil
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	var msg struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil
	}
	return msg.ID
}
