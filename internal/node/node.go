// Package node runs a linkchat node: it owns the link-layer socket, drives
// the receive, announce and janitor loops, and exposes the send operations.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rudransh-shrivastava/linkchat/internal/archive"
	"github.com/rudransh-shrivastava/linkchat/internal/config"
	"github.com/rudransh-shrivastava/linkchat/internal/dispatch"
	"github.com/rudransh-shrivastava/linkchat/internal/logger"
	"github.com/rudransh-shrivastava/linkchat/internal/netif"
	"github.com/rudransh-shrivastava/linkchat/internal/peer"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"github.com/rudransh-shrivastava/linkchat/internal/transfer"
	"github.com/rudransh-shrivastava/linkchat/internal/transport"
	"github.com/sirupsen/logrus"
)

const receiveErrorBackoff = 100 * time.Millisecond

var (
	ErrAlreadyRunning = errors.New("node already running")
	ErrNotRunning     = errors.New("node not running")
	ErrStopped        = errors.New("node stopped")
)

type Options struct {
	// Interface is resolved when Conn is nil; empty means auto-detect.
	Interface        string
	Name             string
	NodeID           string
	OutputDir        string
	AnnounceInterval time.Duration
	PeerTTL          time.Duration
	SessionTimeout   time.Duration
	ChunkSize        int
	// Conn replaces the raw socket, mainly for tests.
	Conn           transport.Conn
	Messages       dispatch.MessageSink
	Journal        transfer.Journal
	Archiver       transfer.Archiver
	ProgressOutput io.Writer
	Logger         *logrus.Logger
}

type Node struct {
	opts   Options
	ifi    *net.Interface
	addr   net.HardwareAddr
	conn   transport.Conn
	logger *logrus.Logger

	peers      *peer.Table
	transfers  *transfer.Manager
	sender     *transfer.Sender
	dispatcher *dispatch.Dispatcher

	running atomic.Bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// New prepares a node. The socket is only opened by Start.
func New(opts Options) (*Node, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	if opts.NodeID == "" {
		opts.NodeID = config.NewNodeID()
	}
	if opts.Name == "" {
		opts.Name = opts.NodeID
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = protocol.AnnounceInterval
	}
	if opts.Archiver == nil {
		opts.Archiver = archive.TarGz{}
	}

	n := &Node{
		opts:   opts,
		logger: log,
		peers:  peer.NewTable(opts.PeerTTL),
	}

	if opts.Conn != nil {
		n.conn = opts.Conn
		n.addr = opts.Conn.HardwareAddr()
	} else {
		ifi, err := netif.Resolve(opts.Interface)
		if err != nil {
			return nil, err
		}
		n.ifi = ifi
		n.addr = ifi.HardwareAddr
	}
	if len(n.addr) != protocol.AddrSize {
		return nil, protocol.ErrBadAddress
	}

	n.transfers = transfer.NewManager(transfer.ManagerOptions{
		OutputDir:      opts.OutputDir,
		SessionTimeout: opts.SessionTimeout,
		Archiver:       opts.Archiver,
		Journal:        opts.Journal,
		Logger:         log,
	})
	n.sender = transfer.NewSender(n, transfer.SenderOptions{
		ChunkSize: opts.ChunkSize,
		Archiver:  opts.Archiver,
		Logger:    log,
		Progress:  opts.ProgressOutput,
	})

	messages := opts.Messages
	if messages == nil {
		messages = dispatch.MessageSinkFunc(func(src string, msg protocol.Message) {
			log.Infof("[%s] %s: %s", src, msg.From, msg.Text)
		})
	}
	n.dispatcher = dispatch.New(dispatch.Options{
		Peers:     n.peers,
		Transfers: n.transfers,
		Messages:  messages,
		Logger:    log,
	})

	return n, nil
}

// Start opens the socket if needed and launches the background loops. The
// loops end when Stop is called or ctx is cancelled. A stopped node cannot
// be started again.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return ErrStopped
	}
	if n.running.Load() {
		return ErrAlreadyRunning
	}

	if n.conn == nil {
		conn, err := transport.Listen(n.ifi)
		if err != nil {
			return fmt.Errorf("opening %s: %w", n.ifi.Name, err)
		}
		n.conn = conn
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.running.Store(true)

	n.wg.Add(3)
	go n.receiveLoop(runCtx)
	go n.announceLoop(runCtx)
	go n.janitorLoop(runCtx)

	go func() {
		<-runCtx.Done()
		n.running.Store(false)
		_ = n.conn.Close()
	}()

	n.logger.Infof("Node %s (%s) listening on %s", n.opts.Name, n.opts.NodeID, n.addr)
	return nil
}

// Stop ends the loops, closes the socket and every open receive session.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return nil
	}
	n.stopped = true
	n.running.Store(false)

	var err error
	if n.cancel != nil {
		n.cancel()
	}
	if n.conn != nil {
		err = n.conn.Close()
	}
	n.wg.Wait()
	n.transfers.CloseAll()

	n.logger.Info("Node stopped")
	return err
}

func (n *Node) Running() bool {
	return n.running.Load()
}

func (n *Node) receiveLoop(ctx context.Context) {
	defer n.wg.Done()

	buf := make([]byte, protocol.MaxFrameSize)
	for n.running.Load() {
		size, err := n.conn.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			n.logger.Warnf("Receive failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}
		n.dispatcher.Dispatch(buf[:size])
	}
}

func (n *Node) announceLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.opts.AnnounceInterval)
	defer ticker.Stop()

	for {
		if err := n.Announce(); err != nil && !errors.Is(err, transport.ErrClosed) && !errors.Is(err, ErrNotRunning) {
			n.logger.Warnf("Announce failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// janitorLoop evicts silent peers and reaps idle receive sessions.
func (n *Node) janitorLoop(ctx context.Context) {
	defer n.wg.Done()

	if n.opts.PeerTTL <= 0 && n.opts.SessionTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(n.opts.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, addr := range n.peers.Evict(now) {
				n.logger.Infof("Peer %s timed out", addr)
			}
			if reaped := n.transfers.Reap(now); reaped > 0 {
				n.logger.Warnf("Closed %d idle transfer(s)", reaped)
			}
		}
	}
}

// SendFrame encodes and transmits one frame from this node.
func (n *Node) SendFrame(dst net.HardwareAddr, t protocol.FrameType, payload []byte) error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	frame, err := protocol.Encode(dst, n.addr, t, payload)
	if err != nil {
		return err
	}
	return n.conn.WriteFrame(frame)
}

// Announce broadcasts this node's name, node id and address.
func (n *Node) Announce() error {
	payload, err := protocol.EncodeRecord(protocol.Announce{
		Name:   n.opts.Name,
		NodeID: n.opts.NodeID,
		MAC:    n.addr.String(),
	})
	if err != nil {
		return err
	}
	return n.SendFrame(protocol.BroadcastAddr, protocol.FrameAnnounce, payload)
}

// SendMessage sends text to dst, which may be the broadcast address.
func (n *Node) SendMessage(dst, text string) error {
	addr, err := protocol.ParseAddr(dst)
	if err != nil {
		return fmt.Errorf("invalid destination %q: %w", dst, err)
	}
	payload, err := protocol.EncodeRecord(protocol.Message{
		From:   n.opts.Name,
		NodeID: n.opts.NodeID,
		Text:   text,
	})
	if err != nil {
		return err
	}
	return n.SendFrame(addr, protocol.FrameMessage, payload)
}

func (n *Node) Broadcast(text string) error {
	return n.SendMessage(protocol.BroadcastAddrText, text)
}

// SendFile streams the file at path to dst and returns its transfer id.
func (n *Node) SendFile(ctx context.Context, dst, path string) (string, error) {
	addr, err := protocol.ParseAddr(dst)
	if err != nil {
		return "", fmt.Errorf("invalid destination %q: %w", dst, err)
	}
	if !n.running.Load() {
		return "", ErrNotRunning
	}
	return n.sender.SendFile(ctx, addr, path)
}

// SendDirectory archives dir and sends the archive to dst.
func (n *Node) SendDirectory(ctx context.Context, dst, dir string) (string, error) {
	addr, err := protocol.ParseAddr(dst)
	if err != nil {
		return "", fmt.Errorf("invalid destination %q: %w", dst, err)
	}
	if !n.running.Load() {
		return "", ErrNotRunning
	}
	return n.sender.SendDirectory(ctx, addr, dir)
}

func (n *Node) Peers() []peer.Peer {
	return n.peers.List()
}

func (n *Node) Transfers() []transfer.SessionInfo {
	return n.transfers.Sessions()
}

func (n *Node) Addr() net.HardwareAddr {
	return n.addr
}

func (n *Node) Name() string {
	return n.opts.Name
}

func (n *Node) NodeID() string {
	return n.opts.NodeID
}
