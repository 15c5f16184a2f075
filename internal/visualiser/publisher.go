// Package visualiser streams placement session events to remote viewers
// over gRPC.
//
// Events are encoded as google.protobuf.Struct messages so viewers need no
// generated code; see EventToStruct for the field layout.
package visualiser

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/arplace/internal/session"
)

// ErrTooManyClients is returned when MaxClients streams are already open.
var ErrTooManyClients = errors.New("too many streaming clients")

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is the per-client queue depth. A client whose queue is
	// full misses events rather than stalling the session.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   5,
		ClientBuffer: 32,
	}
}

// Publisher fans session events out to connected stream clients.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	clients   map[uint64]*clientStream
	clientsMu sync.RWMutex
	nextID    uint64

	published atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

type clientStream struct {
	id     uint64
	kinds  map[session.EventKind]bool // nil means all kinds
	events chan *structpb.Struct
}

func (c *clientStream) wants(kind session.EventKind) bool {
	return c.kinds == nil || c.kinds[kind]
}

// NewPublisher creates a Publisher. Zero config fields take their defaults.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[uint64]*clientStream),
	}
}

// Start binds ListenAddr and serves the event stream in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the event stream on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterEventStreamServer(p.server, NewServer(p))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Visualiser] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.events)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	log.Printf("[Visualiser] gRPC server stopped")
}

// Publish queues ev for every interested client without blocking.
// Use it directly as a session subscriber.
func (p *Publisher) Publish(ev session.Event) {
	msg, err := EventToStruct(ev)
	if err != nil {
		log.Printf("[Visualiser] encode event %d: %v", ev.Seq, err)
		return
	}
	p.published.Add(1)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		if !c.wants(ev.Kind) {
			continue
		}
		select {
		case c.events <- msg:
		default:
			p.dropped.Add(1)
		}
	}
}

func (p *Publisher) addClient(kinds map[session.EventKind]bool) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, ErrTooManyClients
	}
	p.nextID++
	c := &clientStream{
		id:     p.nextID,
		kinds:  kinds,
		events: make(chan *structpb.Struct, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	log.Printf("[Visualiser] Client connected: %d (total: %d)", c.id, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(id uint64) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if c, ok := p.clients[id]; ok {
		close(c.events)
		delete(p.clients, id)
		log.Printf("[Visualiser] Client disconnected: %d (remaining: %d)", id, len(p.clients))
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.clientsMu.RLock()
	n := len(p.clients)
	p.clientsMu.RUnlock()
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Clients:   n,
		Running:   p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int    `json:"clients"`
	Running   bool   `json:"running"`
}

// EventToStruct encodes a session event:
//
//	seq, kind, from, to                  always
//	plane_id, position, heading_deg,
//	valid                                when the event carries a pose
//	error                                when the event carries an error
func EventToStruct(ev session.Event) (*structpb.Struct, error) {
	m := map[string]any{
		"seq":  ev.Seq,
		"kind": string(ev.Kind),
		"from": string(ev.From),
		"to":   string(ev.To),
	}
	if ev.Pose.SourcePlaneID != "" {
		pos := ev.Pose.Position
		m["plane_id"] = string(ev.Pose.SourcePlaneID)
		m["position"] = []any{pos.X(), pos.Y(), pos.Z()}
		m["heading_deg"] = ev.Pose.HeadingDeg
		m["valid"] = ev.Pose.Valid
	}
	if ev.Err != nil {
		m["error"] = ev.Err.Error()
	}
	return structpb.NewStruct(m)
}
