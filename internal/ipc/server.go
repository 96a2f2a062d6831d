// Package ipc exposes the robot's status and a few operator commands over
// HTTP, with a websocket that streams every published pose.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"biped/internal/actuator"
	"biped/internal/control"
	"biped/internal/core"
	"biped/internal/logging"
	"biped/pkg/types"
)

// Robot is the actuator side of the API.
type Robot interface {
	Snapshot() actuator.Pose
	SetTorqueTarget(ctx context.Context, on bool, target string) error
}

// Cycle is the control side of the API.
type Cycle interface {
	Pause()
	Start()
	Status() control.Status
}

// Workers reports the scheduler state.
type Workers interface {
	Status() []core.WorkerStatus
}

// Message is the envelope of every websocket frame sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Command is a websocket or POST body from an operator.
type Command struct {
	Command string `json:"command"` // pause, start, torque
	On      bool   `json:"on"`
	Target  string `json:"target"`
}

type StatusReport struct {
	Cycle   control.Status      `json:"cycle"`
	Workers []core.WorkerStatus `json:"workers"`
	Pose    actuator.Pose       `json:"pose"`
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

const (
	clientBuffer = 16
	writeWait    = 10 * time.Second
	commandWait  = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	config  types.StatusServerConfig
	robot   Robot
	cycle   Cycle
	workers Workers
	router  *mux.Router
	http    *http.Server
	logger  *logging.Logger

	clients     map[string]*client
	clientsLock sync.RWMutex
	wg          sync.WaitGroup
}

func NewServer(config types.StatusServerConfig, robot Robot, cycle Cycle, workers Workers) *Server {
	s := &Server{
		config:  config,
		robot:   robot,
		cycle:   cycle,
		workers: workers,
		clients: make(map[string]*client),
		logger:  logging.GetLogger("ipc"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/actuators/{name}", s.handleActuator).Methods(http.MethodGet)
	r.HandleFunc("/api/torque", s.handleTorque).Methods(http.MethodPost)
	r.HandleFunc("/api/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/api/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/ws", s.handleSocket)
	s.router = r
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to start status server: %w", err)
	}
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", "error", err)
		}
	}()

	s.logger.Info("Status server started", "address", ln.Addr().String())
	return nil
}

// Stop shuts the HTTP server down and disconnects every websocket client.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	s.clientsLock.Lock()
	for _, c := range s.clients {
		s.closeClient(c)
	}
	s.clients = make(map[string]*client)
	s.clientsLock.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) report() StatusReport {
	return StatusReport{
		Cycle:   s.cycle.Status(),
		Workers: s.workers.Status(),
		Pose:    s.robot.Snapshot(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.report())
}

func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	joint, ok := s.robot.Snapshot().Joint(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", actuator.ErrInvalidActuator, name))
		return
	}
	s.writeJSON(w, http.StatusOK, joint)
}

func (s *Server) handleTorque(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd.Command = "torque"
	if err := s.execute(r.Context(), cmd); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.robot.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.cycle.Pause()
	s.writeJSON(w, http.StatusOK, s.cycle.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.cycle.Start()
	s.writeJSON(w, http.StatusOK, s.cycle.Status())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, actuator.ErrInvalidActuator), errors.Is(err, actuator.ErrInvalidGroup):
		return http.StatusNotFound
	case errors.Is(err, errUnknownCommand):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

var errUnknownCommand = errors.New("unknown command")

func (s *Server) execute(ctx context.Context, cmd Command) error {
	switch cmd.Command {
	case "pause":
		s.cycle.Pause()
	case "start":
		s.cycle.Start()
	case "torque":
		if cmd.Target == "" {
			cmd.Target = types.GroupAllMotors.String()
		}
		s.logger.Info("Torque command", "target", cmd.Target, "on", cmd.On)
		return s.robot.SetTorqueTarget(ctx, cmd.On, cmd.Target)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
	return nil
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		closed: make(chan struct{}),
	}
	if data, err := json.Marshal(Message{Type: "status", Data: s.report()}); err == nil {
		c.send <- data
	}

	s.clientsLock.Lock()
	s.clients[c.id] = c
	s.clientsLock.Unlock()
	s.logger.Info("Client connected", "client", c.id, "remote", r.RemoteAddr)

	s.wg.Add(2)
	go s.readClient(c)
	go s.writeClient(c)
}

func (s *Server) closeClient(c *client) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
		s.logger.Info("Client disconnected", "client", c.id)
	})
}

func (s *Server) dropClient(c *client) {
	s.clientsLock.Lock()
	delete(s.clients, c.id)
	s.clientsLock.Unlock()
	s.closeClient(c)
}

func (s *Server) readClient(c *client) {
	defer s.wg.Done()
	defer s.dropClient(c)

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Client read ended", "client", c.id, "error", err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandWait)
		reply := Message{Type: "ack", Data: cmd.Command}
		if err := s.execute(ctx, cmd); err != nil {
			reply = Message{Type: "error", Data: err.Error()}
		}
		cancel()
		s.enqueue(c, reply)
	}
}

func (s *Server) writeClient(c *client) {
	defer s.wg.Done()
	defer s.dropClient(c)

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("Send to client failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (s *Server) enqueue(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("Failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		s.logger.Debug("Client send buffer full", "client", c.id)
	}
}

// Observe broadcasts pose to every connected client. A client whose buffer
// is full misses this pose.
func (s *Server) Observe(pose actuator.Pose) {
	data, err := json.Marshal(Message{Type: "pose", Data: pose})
	if err != nil {
		s.logger.Warn("Failed to marshal pose", "error", err)
		return
	}

	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}
