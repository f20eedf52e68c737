package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"logosnode/config"
	"logosnode/dispatch"
	"logosnode/protocol"
)

const (
	maxMessageBytes = 1 << 20
	writeTimeout    = 10 * time.Second
)

// Submitter is what the gateway needs from the dispatcher.
type Submitter interface {
	Submit(modelName, prompt string, contextSize int, reqTier string) *dispatch.Handle
	Cancel(taskID string) error
}

// StatusFunc supplies the node digest for status queries.
type StatusFunc func() protocol.GatewayStatus

// ConnHook observes client connections coming and going.
type ConnHook interface {
	ClientConnected(remoteAddr string)
	ClientDisconnected(remoteAddr string)
}

// Server is the websocket front door. The contract is strictly one message,
// one response: a client sends a command and blocks for its reply; commands
// on one connection are handled in arrival order.
type Server struct {
	nodeID    string
	tier      string
	cfg       config.GatewayConfig
	submitter Submitter
	status    StatusFunc
	hooks     ConnHook

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(nodeID, tier string, cfg config.GatewayConfig, submitter Submitter, status StatusFunc, hooks ConnHook) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		nodeID:    nodeID,
		tier:      tier,
		cfg:       cfg,
		submitter: submitter,
		status:    status,
		hooks:     hooks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The public tier takes connections from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(map[*websocket.Conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ListenAndServe blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	log.Printf("gateway: listening on ws://%s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting upgrades and closes every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	go s.serveConn(conn, r.RemoteAddr)
}

func (s *Server) serveConn(conn *websocket.Conn, remoteAddr string) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	if s.hooks != nil {
		s.hooks.ClientConnected(remoteAddr)
	}
	log.Printf("gateway: client connected from %s", remoteAddr)

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		if s.hooks != nil {
			s.hooks.ClientDisconnected(remoteAddr)
		}
		log.Printf("gateway: client disconnected from %s", remoteAddr)
	}()

	conn.SetReadLimit(maxMessageBytes)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("gateway: read from %s: %v", remoteAddr, err)
			}
			return
		}
		reply := s.handleCommand(data)
		if err := s.writeReply(conn, reply); err != nil {
			log.Printf("gateway: write to %s: %v", remoteAddr, err)
			return
		}
	}
}

func (s *Server) handleCommand(data []byte) protocol.Reply {
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return s.errorReply("", protocol.ErrCodePolicyViolation, "malformed command: "+err.Error())
	}

	switch cmd.Action {
	case protocol.ActionProcess:
		return s.handleProcess(&cmd)
	case protocol.ActionStatus:
		st := s.status()
		return protocol.Reply{
			Status:    "ok",
			Node:      s.nodeID,
			Tier:      s.tier,
			Timestamp: time.Now().UTC(),
			NodeState: &st,
		}
	case protocol.ActionCancel:
		if cmd.TaskID == "" {
			return s.errorReply("", protocol.ErrCodePolicyViolation, "cancel requires task_id")
		}
		if err := s.submitter.Cancel(cmd.TaskID); err != nil {
			return s.errorReply(cmd.TaskID, protocol.ErrCodeCancelled, err.Error())
		}
		return protocol.Reply{
			Status:    "ok",
			Node:      s.nodeID,
			Tier:      s.tier,
			TaskID:    cmd.TaskID,
			Result:    "cancelled",
			Timestamp: time.Now().UTC(),
		}
	default:
		return s.errorReply("", protocol.ErrCodePolicyViolation, fmt.Sprintf("unknown action %q", cmd.Action))
	}
}

func (s *Server) handleProcess(cmd *protocol.Command) protocol.Reply {
	h := s.submitter.Submit(cmd.Model, cmd.Prompt, cmd.ContextSize, cmd.Tier)
	res, err := h.Wait(s.ctx)
	if err != nil {
		// Server shutdown while the task was in flight.
		return s.errorReply(h.TaskID(), protocol.ErrCodeCancelled, "node shutting down")
	}
	if res.State == dispatch.StateCompleted {
		return protocol.Reply{
			Status:    "ok",
			Node:      s.nodeID,
			Tier:      s.tier,
			TaskID:    res.TaskID,
			Result:    res.Output,
			Timestamp: time.Now().UTC(),
		}
	}
	reply := s.errorReply(res.TaskID, res.ErrCode, res.Detail)
	reply.Retryable = res.Retryable()
	return reply
}

func (s *Server) errorReply(taskID, code, detail string) protocol.Reply {
	return protocol.Reply{
		Status:    "error",
		Node:      s.nodeID,
		Tier:      s.tier,
		TaskID:    taskID,
		Error:     detail,
		ErrorCode: code,
		Retryable: protocol.Retryable(code),
		Timestamp: time.Now().UTC(),
	}
}

func (s *Server) writeReply(conn *websocket.Conn, reply protocol.Reply) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(reply)
}
