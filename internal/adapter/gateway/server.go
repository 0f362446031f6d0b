package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agentcore/internal/domain"
	"agentcore/internal/infra/middleware"
)

const (
	defaultMaxMessageBytes = 1 << 20
	sendQueueSize          = 64
	writeTimeout           = 5 * time.Second
)

// RPCHandler handles a single RPC method call. The returned value is
// JSON-encoded into the response payload.
type RPCHandler func(ctx context.Context, call *Call, payload json.RawMessage) (any, error)

// Call identifies the request being served and lets a handler stream chunk
// frames back before its response.
type Call struct {
	ID     uint64
	Method string
	cc     *clientConn
}

// Stream sends one chunk frame for this call. It blocks while the client's
// send queue is full and fails once the connection is gone.
func (c *Call) Stream(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	frame := Frame{Type: FrameTypeChunk, ID: c.ID, Method: c.Method, Payload: payload}
	select {
	case c.cc.sendCh <- frame:
		return nil
	case <-c.cc.done:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the WebSocket gateway that exposes RPC methods and forwards events.
type Server struct {
	bus             domain.EventBus
	clients         sync.Map // connID (uint64) -> *clientConn
	handlersMu      sync.RWMutex
	handlers        map[string]RPCHandler
	logger          *slog.Logger
	addr            string
	maxMessageBytes int64
	httpSrv         *http.Server
	boundAddr       atomic.Value // string
	ready           chan struct{}
	nextID          atomic.Uint64
	unsubAll        func()
	httpRoutes      []httpRoute // additional HTTP routes
	middleware      []func(http.Handler) http.Handler
	stopOnce        sync.Once
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a gateway server. maxMessageBytes bounds inbound frames;
// zero takes the default of 1 MiB.
func NewServer(bus domain.EventBus, addr string, maxMessageBytes int64, logger *slog.Logger) *Server {
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	return &Server{
		bus:             bus,
		handlers:        make(map[string]RPCHandler),
		logger:          logger,
		addr:            addr,
		maxMessageBytes: maxMessageBytes,
		ready:           make(chan struct{}),
	}
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Use wraps every HTTP request, including the WebSocket handshake. The
// first middleware added sees the request first. Call before Start.
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw...)
}

// Start begins accepting WebSocket connections. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{
		Handler:           middleware.Chain(mux, s.middleware...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Forward every bus event to connected clients.
	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(s.broadcast)
	}

	s.logger.Info("gateway started", "addr", s.BoundAddr())
	close(s.ready)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.unsubAll != nil {
			s.unsubAll()
		}

		s.clients.Range(func(key, value any) bool {
			cc := value.(*clientConn)
			cc.close()
			cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			s.clients.Delete(key)
			return true
		})

		if s.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = s.httpSrv.Shutdown(shutdownCtx)
		}
		s.logger.Info("gateway stopped")
	})
	return err
}

// BoundAddr returns the actual address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

func (s *Server) broadcast(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("gateway: marshal event failed", "type", event.Type, "error", err)
		return
	}
	frame := Frame{Type: FrameTypeEvent, Method: string(event.Type), Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "conn_id", cc.id, "type", event.Type)
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Allow localhost for dev and same-origin requests.
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(s.maxMessageBytes)

	connID := s.nextID.Add(1)
	cc := &clientConn{
		id:     connID,
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)

	s.logger.Info("gateway client connected", "conn_id", connID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	go s.writeLoop(cc)
	s.readLoop(ctx, cc)

	// In-flight handlers see the cancellation and stop streaming.
	cancel()
	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return // connection closed or error
		}

		if frame.Type != FrameTypeRequest {
			continue
		}

		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				cc.close()
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.NewDomainError("gateway.dispatch", domain.ErrRPCMethodNotFound, req.Method))
		return
	}

	result, err := s.invoke(ctx, handler, &Call{ID: req.ID, Method: req.Method, cc: cc}, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

// invoke runs handler and converts a panic into an error response.
func (s *Server) invoke(ctx context.Context, handler RPCHandler, call *Call, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gateway: handler panic", "method", call.Method, "panic", r)
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, call, payload)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result any, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	} else if result != nil {
		payload, mErr := json.Marshal(result)
		if mErr != nil {
			resp.Error = fmt.Sprintf("marshal result: %v", mErr)
			resp.Code = string(domain.CodeUnknown)
		} else {
			resp.Payload = payload
		}
	}

	// Responses wait for queue space so a burst of events cannot starve them.
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	case <-time.After(writeTimeout):
		s.logger.Warn("gateway: dropped RPC response for slow client", "conn_id", cc.id, "frame_id", id)
	}
}
