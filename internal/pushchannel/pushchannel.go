// Package pushchannel implements the Push Channel Registry (§4.1): an
// in-process mapping of principal -> open peer handles, fanning
// JSON-serializable events out to every peer of a principal and pruning
// dead peers silently on send failure.
//
// Grounded on chat-service/internal/handlers/chat_handler.go's Hub/Client
// (per-peer send channel + writer goroutine so one slow peer never blocks
// delivery to the others, connection caps, atomic metrics) combined with
// internal/handlers/websocket_handler.go's simpler keepalive timing. The
// transport (gorilla/websocket connection, HTTP upgrade) is intentionally
// kept out of this package behind the Conn interface; internal/transport/
// websocket supplies the concrete adapter.
package pushchannel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/metrics"
)

// AuthCloseCode is the dedicated WebSocket close code (§4.1 "a dedicated
// close code (4001 in the wire protocol)") a transport must send when
// session validation fails at attach time, before closing the connection
// without registering it.
const AuthCloseCode = 4001

var (
	// ErrAuthenticationFailed is returned by Attach when the supplied
	// session token does not validate.
	ErrAuthenticationFailed = errors.New("pushchannel: session token invalid")
	// ErrTooManyConnections is returned by Attach when principal already
	// holds the configured maximum number of peers.
	ErrTooManyConnections = errors.New("pushchannel: per-principal connection limit reached")
)

// Event is an arbitrary JSON-serializable payload.
type Event = map[string]any

// Conn is the minimal transport seam a peer writes through. Implementations
// must be safe for WriteMessage to be called from a single goroutine (the
// peer's own writer goroutine serializes all writes).
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// SessionValidator resolves a session token to the principal it belongs to;
// backed by the sessions store (§3 Session).
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (domain.PrincipalID, error)
}

// PeerID identifies one attached connection.
type PeerID string

// NewPeerID creates a new peer ID.
func NewPeerID() PeerID { return PeerID(uuid.New().String()) }

// Config configures a Registry.
type Config struct {
	// MaxPeersPerPrincipal bounds concurrent connections per principal
	// (multiple devices/tabs are allowed up to this cap).
	MaxPeersPerPrincipal int
	// SendBufferSize is the per-peer outbound channel depth; a peer whose
	// buffer is full when a new event arrives is dropped rather than
	// allowed to block delivery to other peers.
	SendBufferSize int
	// KeepaliveInterval is the period of the {type: "ping"} keepalive send.
	KeepaliveInterval time.Duration
	// WriteTimeout bounds how long a single peer write may take.
	WriteTimeout time.Duration
}

// DefaultConfig mirrors the teacher's connection/keepalive constants.
func DefaultConfig() Config {
	return Config{
		MaxPeersPerPrincipal: 5,
		SendBufferSize:       256,
		KeepaliveInterval:    54 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

// Registry is the Push Channel Registry.
type Registry struct {
	cfg       Config
	validator SessionValidator
	logger    *logrus.Entry
	metrics   *metrics.Metrics

	mu          sync.RWMutex
	peers       map[PeerID]*Peer
	byPrincipal map[domain.PrincipalID]map[PeerID]struct{}

	activeConnections int64
}

// New builds a Registry. validator may be nil only in tests that attach
// peers directly via AttachPrincipal. m may be nil in tests.
func New(cfg Config, validator SessionValidator, m *metrics.Metrics, logger *logrus.Entry) *Registry {
	return &Registry{
		cfg:         cfg,
		validator:   validator,
		logger:      logger,
		metrics:     m,
		peers:       make(map[PeerID]*Peer),
		byPrincipal: make(map[domain.PrincipalID]map[PeerID]struct{}),
	}
}

// Attach validates token, then registers conn as a new peer for the
// resolved principal (§4.1 attach). On validation failure the caller must
// close conn with AuthCloseCode; Attach never registers an unauthenticated
// peer.
func (r *Registry) Attach(ctx context.Context, token string, conn Conn) (*Peer, error) {
	principalID, err := r.validator.ValidateSession(ctx, token)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return r.AttachPrincipal(principalID, conn)
}

// AttachPrincipal registers conn for an already-authenticated principal,
// skipping session validation. Exposed for callers that validate elsewhere
// (and for tests).
func (r *Registry) AttachPrincipal(principalID domain.PrincipalID, conn Conn) (*Peer, error) {
	r.mu.Lock()
	if r.cfg.MaxPeersPerPrincipal > 0 && len(r.byPrincipal[principalID]) >= r.cfg.MaxPeersPerPrincipal {
		r.mu.Unlock()
		return nil, ErrTooManyConnections
	}

	peer := &Peer{
		id:          NewPeerID(),
		principalID: principalID,
		conn:        conn,
		send:        make(chan []byte, r.cfg.SendBufferSize),
		done:        make(chan struct{}),
	}
	r.peers[peer.id] = peer
	if r.byPrincipal[principalID] == nil {
		r.byPrincipal[principalID] = make(map[PeerID]struct{})
	}
	r.byPrincipal[principalID][peer.id] = struct{}{}
	r.activeConnections++
	count := r.activeConnections
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PushChannelConnections.Set(float64(count))
	}

	go r.runPeer(peer)
	return peer, nil
}

// Detach removes peer from the registry and stops its writer goroutine
// (§4.1 detach: "if last, remove the principal key").
func (r *Registry) Detach(peer *Peer) {
	r.mu.Lock()
	if _, ok := r.peers[peer.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, peer.id)
	if set := r.byPrincipal[peer.principalID]; set != nil {
		delete(set, peer.id)
		if len(set) == 0 {
			delete(r.byPrincipal, peer.principalID)
		}
	}
	r.activeConnections--
	count := r.activeConnections
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PushChannelConnections.Set(float64(count))
	}

	peer.close()
}

// SendToPrincipal delivers event to every peer of principalID. A peer whose
// send fails (full buffer) is pruned silently; no error is ever returned
// (§4.1 send_to_principal).
func (r *Registry) SendToPrincipal(_ context.Context, principalID domain.PrincipalID, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("marshaling push event")
		}
		return
	}

	r.mu.RLock()
	peerIDs := r.byPrincipal[principalID]
	peers := make([]*Peer, 0, len(peerIDs))
	for id := range peerIDs {
		peers = append(peers, r.peers[id])
	}
	r.mu.RUnlock()

	for _, peer := range peers {
		if peer == nil {
			continue
		}
		select {
		case peer.send <- data:
		default:
			r.Detach(peer)
		}
	}
}

// SendToPeer sends event directly to one peer; unlike SendToPrincipal, a
// failure (full buffer, already closed) propagates to the caller (§4.1
// send_to_peer: "exceptions propagate").
func (r *Registry) SendToPeer(_ context.Context, peer *Peer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case <-peer.done:
		return errors.New("pushchannel: peer closed")
	default:
	}
	select {
	case peer.send <- data:
		return nil
	case <-peer.done:
		return errors.New("pushchannel: peer closed")
	default:
		return errors.New("pushchannel: peer send buffer full")
	}
}

// ActiveConnections reports the current number of attached peers.
func (r *Registry) ActiveConnections() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeConnections
}

// PrincipalPeerCount reports how many peers principalID currently holds.
func (r *Registry) PrincipalPeerCount(principalID domain.PrincipalID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal[principalID])
}

var pingEvent = func() []byte {
	data, _ := json.Marshal(Event{"type": "ping"})
	return data
}()

// runPeer drains peer.send to peer.conn and emits the periodic keepalive
// ping. It returns (unregistering the peer) the first time a write fails,
// mirroring the teacher's writePump/cleanup split but collapsed into one
// goroutine per peer since each peer already has its own buffered channel.
func (r *Registry) runPeer(peer *Peer) {
	ticker := time.NewTicker(r.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-peer.send:
			if !ok {
				return
			}
			if err := peer.conn.WriteMessage(data); err != nil {
				r.Detach(peer)
				return
			}
		case <-ticker.C:
			// Keepalive ping: failure exits the loop cleanly without
			// surfacing an error (§4.1 "the keepalive loop exits cleanly
			// without raising").
			if err := peer.conn.WriteMessage(pingEvent); err != nil {
				r.Detach(peer)
				return
			}
		case <-peer.done:
			return
		}
	}
}

// Peer is one attached duplex connection. WriteTimeout enforcement (§4.1:
// "bounded write budget per peer") is the Conn implementation's
// responsibility -- e.g. the websocket adapter calls SetWriteDeadline using
// Config.WriteTimeout before each Conn.WriteMessage.
type Peer struct {
	id          PeerID
	principalID domain.PrincipalID
	conn        Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
}

// ID returns the peer's identifier.
func (p *Peer) ID() PeerID { return p.id }

// PrincipalID returns the owning principal.
func (p *Peer) PrincipalID() domain.PrincipalID { return p.principalID }

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
