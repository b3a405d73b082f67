package testhelper

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// SSEEvent is one event written by the fake chat endpoint. Data is written
// as is.
type SSEEvent struct {
	Event string
	Data  string
}

type NebulaSession struct {
	ID         string                   `json:"id"`
	CanExecute bool                     `json:"can_execute"`
	Config     json.RawMessage          `json:"execute_config"`
	Title      *string                  `json:"title"`
	History    []map[string]interface{} `json:"history"`
	CreatedAt  string                   `json:"created_at"`
	UpdatedAt  string                   `json:"updated_at"`
}

// NebulaServer is an in memory Nebula service. Every request must carry
// "Bearer <token>".
type NebulaServer struct {
	*httptest.Server

	token string

	lk        sync.Mutex
	sessions  map[string]*NebulaSession
	order     []string
	failing   map[string]bool
	chats     []map[string]interface{}
	feedback  []map[string]interface{}
	script    []SSEEvent
	pauseAt   int
	resume    chan struct{}
	paused    chan struct{}
	echoOnPut bool
}

func NewNebulaServer(token string) *NebulaServer {
	s := &NebulaServer{
		token:     token,
		sessions:  make(map[string]*NebulaSession),
		failing:   make(map[string]bool),
		pauseAt:   -1,
		echoOnPut: true,
	}

	r := mux.NewRouter()
	r.Use(s.auth)
	r.HandleFunc("/session", s.failable("create", s.createSession)).Methods(http.MethodPost)
	r.HandleFunc("/session/list", s.failable("list", s.listSessions)).Methods(http.MethodGet)
	r.HandleFunc("/session/{id}", s.failable("update", s.updateSession)).Methods(http.MethodPut)
	r.HandleFunc("/session/{id}", s.failable("delete", s.deleteSession)).Methods(http.MethodDelete)
	r.HandleFunc("/session/{id}", s.failable("get", s.getSession)).Methods(http.MethodGet)
	r.HandleFunc("/feedback", s.failable("feedback", s.submitFeedback)).Methods(http.MethodPost)
	r.HandleFunc("/chat", s.failable("chat", s.chat)).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	return s
}

// SetFail makes the named operation answer 500: create, list, update,
// delete, get, feedback or chat.
func (s *NebulaServer) SetFail(op string, fail bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.failing[op] = fail
}

// SetScript replaces the events streamed by the chat endpoint. The default
// script is built from the request.
func (s *NebulaServer) SetScript(events []SSEEvent) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.script = events
}

// PauseAfter stops the chat stream after n events until the returned resume
// func is called or the client goes away. The paused channel is closed when
// the stream reaches the pause.
func (s *NebulaServer) PauseAfter(n int) (paused <-chan struct{}, resume func()) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.pauseAt = n
	s.resume = make(chan struct{})
	s.paused = make(chan struct{})
	var once sync.Once
	resumeCh := s.resume
	return s.paused, func() { once.Do(func() { close(resumeCh) }) }
}

// EchoSessionIDOnUpdate controls whether updates return the session id.
func (s *NebulaServer) EchoSessionIDOnUpdate(echo bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.echoOnPut = echo
}

func (s *NebulaServer) Session(id string) (*NebulaSession, bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

func (s *NebulaServer) SessionCount() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.sessions)
}

// ChatRequests returns the decoded bodies sent to the chat endpoint.
func (s *NebulaServer) ChatRequests() []map[string]interface{} {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([]map[string]interface{}{}, s.chats...)
}

func (s *NebulaServer) Feedback() []map[string]interface{} {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([]map[string]interface{}{}, s.feedback...)
}

func (s *NebulaServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *NebulaServer) failable(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lk.Lock()
		fail := s.failing[op]
		s.lk.Unlock()
		if fail {
			http.Error(w, "mock error", http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
}

type sessionRequest struct {
	CanExecute bool            `json:"can_execute"`
	Config     json.RawMessage `json:"config"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *NebulaServer) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := &NebulaSession{
		ID:         uuid.NewString(),
		CanExecute: req.CanExecute,
		Config:     req.Config,
		History:    []map[string]interface{}{},
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	s.lk.Lock()
	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	s.lk.Unlock()

	writeResult(w, map[string]string{"id": session.ID})
}

func (s *NebulaServer) updateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.lk.Lock()
	session, ok := s.sessions[id]
	if ok {
		session.CanExecute = req.CanExecute
		session.Config = req.Config
		session.UpdatedAt = now()
	}
	echo := s.echoOnPut
	s.lk.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if echo {
		writeResult(w, map[string]string{"session_id": id})
		return
	}
	writeResult(w, nil)
}

func (s *NebulaServer) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.lk.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.lk.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeResult(w, map[string]string{"session_id": id})
}

func (s *NebulaServer) listSessions(w http.ResponseWriter, _ *http.Request) {
	s.lk.Lock()
	list := make([]map[string]interface{}, 0, len(s.order))
	for _, id := range s.order {
		session := s.sessions[id]
		list = append(list, map[string]interface{}{
			"id":         session.ID,
			"title":      session.Title,
			"created_at": session.CreatedAt,
			"updated_at": session.UpdatedAt,
		})
	}
	s.lk.Unlock()
	writeResult(w, list)
}

func (s *NebulaServer) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.lk.Lock()
	session, ok := s.sessions[id]
	var data []byte
	var err error
	if ok {
		data, err = json.Marshal(session)
	}
	s.lk.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeResult(w, json.RawMessage(data))
}

func (s *NebulaServer) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.lk.Lock()
	s.feedback = append(s.feedback, body)
	s.lk.Unlock()
	writeResult(w, nil)
}

func (s *NebulaServer) chat(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sessionID, _ := body["session_id"].(string)
	message, _ := body["message"].(string)
	requestID := uuid.NewString()

	s.lk.Lock()
	s.chats = append(s.chats, body)
	session, ok := s.sessions[sessionID]
	script := s.script
	pauseAt, resume, paused := s.pauseAt, s.resume, s.paused
	s.lk.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if script == nil {
		script = []SSEEvent{
			{Event: "init", Data: fmt.Sprintf(`{"session_id":%q,"request_id":%q}`, sessionID, requestID)},
			{Event: "presence", Data: fmt.Sprintf(`{"session_id":%q,"request_id":%q,"source":"reviewer","data":"Thinking"}`, sessionID, requestID)},
			{Event: "delta", Data: `{"v":"You said: "}`},
			{Event: "delta", Data: fmt.Sprintf(`{"v":%q}`, message)},
		}
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var answer strings.Builder
	for i, event := range script {
		if i == pauseAt {
			s.lk.Lock()
			s.pauseAt = -1
			s.lk.Unlock()
			close(paused)
			select {
			case <-resume:
			case <-r.Context().Done():
				return
			}
		}
		if event.Event != "" {
			fmt.Fprintf(w, "event: %s\n", event.Event)
		}
		for _, line := range strings.Split(event.Data, "\n") {
			fmt.Fprintf(w, "data: %s\n", line)
		}
		fmt.Fprint(w, "\n")
		if flusher != nil {
			flusher.Flush()
		}
		if event.Event == "delta" {
			var delta struct {
				V string `json:"v"`
			}
			if json.Unmarshal([]byte(event.Data), &delta) == nil {
				answer.WriteString(delta.V)
			}
		}
	}

	s.lk.Lock()
	if session.Title == nil {
		title := message
		session.Title = &title
	}
	ts := time.Now().Unix()
	session.History = append(session.History,
		map[string]interface{}{"role": "user", "content": message, "timestamp": ts},
		map[string]interface{}{"role": "assistant", "content": answer.String(), "timestamp": ts},
	)
	s.lk.Unlock()
}
