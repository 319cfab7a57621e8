package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/satchelhq/satchel/internal/schema"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":7420". Use "127.0.0.1:0" in
	// tests to get an ephemeral port.
	Addr string

	// Logger for server activity. Nil falls back to a prefixed
	// stderr logger.
	Logger *log.Logger
}

// Server serves the document store over WebSocket and pushes full
// per-owner snapshots to subscribed connections after every write.
type Server struct {
	db     *DB
	addr   string
	logger *log.Logger

	listener net.Listener
	server   *http.Server

	// Subscribers by owner id. One connection may subscribe to at
	// most one owner; resubscribing switches it.
	subsMu sync.Mutex
	subs   map[string]map[*conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// conn is one WebSocket client with a serialized outbound queue, so
// request results and pushed snapshots never interleave mid-write.
type conn struct {
	ws    *websocket.Conn
	out   chan Response
	owner string
}

// NewServer creates a server over an open database.
func NewServer(db *DB, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[docstore] ", log.LstdFlags)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":7420"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		db:     db,
		addr:   cfg.Addr,
		logger: cfg.Logger,
		subs:   make(map[string]map[*conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins listening. It returns once the listener is bound; use
// Addr() to discover the bound address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 0, // WebSocket connections are long-lived
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("document store listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.logger.Println("stopping document store")
	s.cancel()

	s.subsMu.Lock()
	for _, conns := range s.subs {
		for c := range conns {
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
	s.subs = make(map[string]map[*conn]struct{})
	s.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the WebSocket endpoint for clients.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/ws"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.subsMu.Lock()
	n := 0
	for _, conns := range s.subs {
		n += len(conns)
	}
	s.subsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "subscribers": n})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &conn{ws: ws, out: make(chan Response, 64)}

	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) readLoop(c *conn) {
	defer s.wg.Done()
	defer s.dropConn(c)

	for {
		var req Request
		if err := wsjson.Read(s.ctx, c.ws, &req); err != nil {
			return
		}
		resp := s.dispatch(s.ctx, c, req)
		resp.ID = req.ID
		resp.Kind = KindResult
		c.send(resp)
	}
}

func (s *Server) writeLoop(c *conn) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case resp, ok := <-c.out:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			err := wsjson.Write(ctx, c.ws, resp)
			cancel()
			if err != nil {
				s.logger.Printf("failed to write to client: %v", err)
				s.dropConn(c)
				return
			}
		}
	}
}

func (c *conn) send(resp Response) {
	select {
	case c.out <- resp:
	default:
		// Slow consumer; drop rather than block the store.
	}
}

// dispatch executes one request against the database and triggers the
// snapshot broadcast for any write. The returned Response has its ID
// and Kind filled in by the caller.
func (s *Server) dispatch(ctx context.Context, c *conn, req Request) Response {
	switch req.Op {
	case OpCreate:
		if req.Item == nil {
			return errResponse(CodeBadRequest, "create requires an item")
		}
		item := schema.Normalize(*req.Item)
		if err := s.db.PutItem(ctx, item); err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		s.broadcastItems(item.OwnerID)
		return Response{Item: &item}

	case OpUpdate:
		if req.ItemID == "" {
			return errResponse(CodeBadRequest, "update requires item_id")
		}
		owner, err := s.db.ApplyPatch(ctx, req.ItemID, req.Patch)
		if errors.Is(err, ErrNotFound) {
			return errResponse(CodeNotFound, err.Error())
		}
		if err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		s.broadcastItems(owner)
		return Response{}

	case OpDelete:
		if req.ItemID == "" {
			return errResponse(CodeBadRequest, "delete requires item_id")
		}
		owner, err := s.db.DeleteItem(ctx, req.ItemID)
		if errors.Is(err, ErrNotFound) {
			return errResponse(CodeNotFound, err.Error())
		}
		if err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		s.broadcastItems(owner)
		return Response{}

	case OpGet:
		if req.ItemID == "" {
			return errResponse(CodeBadRequest, "get requires item_id")
		}
		item, err := s.db.GetItem(ctx, req.ItemID)
		if errors.Is(err, ErrNotFound) {
			return errResponse(CodeNotFound, err.Error())
		}
		if err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		return Response{Item: item}

	case OpList:
		if req.OwnerID == "" {
			return errResponse(CodeBadRequest, "list requires owner_id")
		}
		items, err := s.db.ListByOwner(ctx, req.OwnerID)
		if err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		return Response{OwnerID: req.OwnerID, Items: items}

	case OpBatch:
		if len(req.Items) == 0 {
			return errResponse(CodeBadRequest, "batch requires items")
		}
		items := make([]schema.Item, len(req.Items))
		owners := make(map[string]struct{})
		for i, it := range req.Items {
			items[i] = schema.Normalize(it)
			owners[items[i].OwnerID] = struct{}{}
		}
		if err := s.db.ApplyBatch(ctx, items); err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		for owner := range owners {
			s.broadcastItems(owner)
		}
		return Response{}

	case OpSubscribe:
		if req.OwnerID == "" {
			return errResponse(CodeBadRequest, "subscribe requires owner_id")
		}
		s.subscribe(c, req.OwnerID)
		// The first snapshot is pushed immediately after the result.
		s.pushSnapshot(c, req.OwnerID)
		s.pushMeta(c, req.OwnerID)
		return Response{OwnerID: req.OwnerID}

	case OpPutMeta:
		if req.OwnerID == "" || req.Meta == nil {
			return errResponse(CodeBadRequest, "put_meta requires owner_id and meta")
		}
		if err := s.db.PutMeta(ctx, req.OwnerID, *req.Meta); err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		s.broadcastMeta(req.OwnerID)
		return Response{}

	case OpGetMeta:
		if req.OwnerID == "" {
			return errResponse(CodeBadRequest, "get_meta requires owner_id")
		}
		meta, err := s.db.GetMeta(ctx, req.OwnerID)
		if errors.Is(err, ErrNotFound) {
			return errResponse(CodeNotFound, err.Error())
		}
		if err != nil {
			return errResponse(CodeInternal, err.Error())
		}
		return Response{Meta: meta}

	default:
		return errResponse(CodeBadRequest, fmt.Sprintf("unknown op %q", req.Op))
	}
}

func errResponse(code, msg string) Response {
	return Response{Code: code, Error: msg}
}

func (s *Server) subscribe(c *conn, owner string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if c.owner != "" {
		if conns := s.subs[c.owner]; conns != nil {
			delete(conns, c)
		}
	}
	c.owner = owner
	if s.subs[owner] == nil {
		s.subs[owner] = make(map[*conn]struct{})
	}
	s.subs[owner][c] = struct{}{}
	s.logger.Printf("subscriber added for owner %s (%d total)", owner, len(s.subs[owner]))
}

func (s *Server) dropConn(c *conn) {
	s.subsMu.Lock()
	if c.owner != "" {
		if conns := s.subs[c.owner]; conns != nil {
			delete(conns, c)
		}
		c.owner = ""
	}
	s.subsMu.Unlock()
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

// broadcastItems pushes a fresh full snapshot to every subscriber of
// the owner. Snapshots replace, never diff.
func (s *Server) broadcastItems(owner string) {
	for _, c := range s.subscribers(owner) {
		s.pushSnapshot(c, owner)
	}
}

func (s *Server) broadcastMeta(owner string) {
	for _, c := range s.subscribers(owner) {
		s.pushMeta(c, owner)
	}
}

func (s *Server) subscribers(owner string) []*conn {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	conns := make([]*conn, 0, len(s.subs[owner]))
	for c := range s.subs[owner] {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) pushSnapshot(c *conn, owner string) {
	items, err := s.db.ListByOwner(s.ctx, owner)
	if err != nil {
		s.logger.Printf("failed to build snapshot for %s: %v", owner, err)
		return
	}
	c.send(Response{Kind: KindSnapshot, OwnerID: owner, Items: items})
}

func (s *Server) pushMeta(c *conn, owner string) {
	meta, err := s.db.GetMeta(s.ctx, owner)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Printf("failed to read meta for %s: %v", owner, err)
		return
	}
	c.send(Response{Kind: KindMeta, OwnerID: owner, Meta: meta})
}
