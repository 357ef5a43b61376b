// Package dispatch routes decoded frames to the peer table, the transfer
// manager and the message sink.
package dispatch

import (
	"errors"
	"time"

	"github.com/rudransh-shrivastava/linkchat/internal/logger"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"github.com/rudransh-shrivastava/linkchat/internal/transfer"
	"github.com/sirupsen/logrus"
)

type PeerObserver interface {
	Observe(addr string, now time.Time)
	ObserveAnnounce(addr, name, nodeID string)
}

type TransferHandler interface {
	OnBegin(src string, payload []byte) error
	OnChunk(src string, payload []byte) error
	OnEnd(src string, payload []byte) error
}

// MessageSink receives every successfully decoded MESSAGE.
type MessageSink interface {
	DeliverMessage(src string, msg protocol.Message)
}

// MessageSinkFunc adapts a plain function to MessageSink.
type MessageSinkFunc func(src string, msg protocol.Message)

func (f MessageSinkFunc) DeliverMessage(src string, msg protocol.Message) { f(src, msg) }

type Options struct {
	Peers     PeerObserver
	Transfers TransferHandler
	Messages  MessageSink
	Logger    *logrus.Logger
	Now       func() time.Time
}

// Dispatcher never returns an error: every failure is absorbed here so the
// receive loop keeps running.
type Dispatcher struct {
	peers     PeerObserver
	transfers TransferHandler
	messages  MessageSink
	now       func() time.Time
	logger    *logrus.Entry
}

func New(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		peers:     opts.Peers,
		transfers: opts.Transfers,
		messages:  opts.Messages,
		now:       now,
		logger:    log.WithField("component", "dispatch"),
	}
}

// Dispatch handles one raw frame. Frames that fail to decode are dropped
// without a trace.
func (d *Dispatcher) Dispatch(raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		return
	}
	d.Handle(frame)
}

// Handle routes an already decoded frame.
func (d *Dispatcher) Handle(frame *protocol.Frame) {
	src := frame.SrcString()
	if d.peers != nil {
		d.peers.Observe(src, d.now())
	}

	switch frame.Type {
	case protocol.FrameAnnounce:
		d.handleAnnounce(src, frame.Payload)
	case protocol.FrameMessage:
		d.handleMessage(src, frame.Payload)
	case protocol.FrameTransferBegin, protocol.FrameTransferChunk, protocol.FrameTransferEnd:
		d.handleTransfer(src, frame.Type, frame.Payload)
	default:
		d.logger.WithField("peer", src).Debugf("Ignoring frame type %d", frame.Type)
	}
}

func (d *Dispatcher) handleAnnounce(src string, payload []byte) {
	a, err := protocol.DecodeAnnounce(payload)
	if err != nil {
		d.logger.WithField("peer", src).Debugf("Bad announce: %v", err)
		return
	}
	if d.peers != nil {
		d.peers.ObserveAnnounce(src, a.Name, a.NodeID)
	}
}

func (d *Dispatcher) handleMessage(src string, payload []byte) {
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		d.logger.WithField("peer", src).Debugf("Bad message: %v", err)
		return
	}
	if d.messages != nil {
		d.messages.DeliverMessage(src, msg)
	}
}

func (d *Dispatcher) handleTransfer(src string, t protocol.FrameType, payload []byte) {
	if d.transfers == nil {
		return
	}

	var err error
	switch t {
	case protocol.FrameTransferBegin:
		err = d.transfers.OnBegin(src, payload)
	case protocol.FrameTransferChunk:
		err = d.transfers.OnChunk(src, payload)
	case protocol.FrameTransferEnd:
		err = d.transfers.OnEnd(src, payload)
	}

	log := d.logger.WithFields(logrus.Fields{"peer": src, "type": t.String()})
	switch {
	case err == nil, errors.Is(err, transfer.ErrNoSession):
	case errors.Is(err, protocol.ErrMalformedRecord):
		log.Debugf("Bad transfer frame: %v", err)
	case errors.Is(err, transfer.ErrOutOfOrder):
		log.Warnf("Dropping chunk: %v", err)
	default:
		log.Warnf("Transfer error: %v", err)
	}
}
