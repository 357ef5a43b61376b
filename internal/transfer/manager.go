// Package transfer implements both halves of the chunked file transfer:
// receive sessions keyed by (sender, transfer id) and the synchronous
// sender.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/linkchat/internal/archive"
	"github.com/rudransh-shrivastava/linkchat/internal/logger"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoSession  = errors.New("no receiving session")
	ErrOutOfOrder = errors.New("chunk out of order")
)

// Archiver creates and unpacks directory archives.
type Archiver interface {
	Create(srcDir, dst string) error
	Extract(src, dstDir string) error
}

// Journal records receive sessions once they are finished or abandoned.
type Journal interface {
	RecordTransfer(ctx context.Context, rec Record) error
}

type Record struct {
	Sender       string
	TransferID   string
	Filename     string
	OutputPath   string
	DeclaredSize int64
	ReceivedSize int64
	Complete     bool
	ExtractedTo  string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type ManagerOptions struct {
	OutputDir      string
	SessionTimeout time.Duration
	Archiver       Archiver
	Journal        Journal
	Logger         *logrus.Logger
	Now            func() time.Time
}

// SessionInfo is a read-only view of an in-flight receive session.
type SessionInfo struct {
	Sender       string
	TransferID   string
	Filename     string
	OutputPath   string
	DeclaredSize int64
	Received     int64
	ExpectedSeq  uint64
	LastActivity time.Time
}

type sessionKey struct {
	src string
	id  string
}

type session struct {
	file         *os.File
	expectedSeq  uint64
	filename     string
	size         int64
	outPath      string
	written      int64
	started      time.Time
	lastActivity time.Time
}

// Manager owns every receive session and its file handle. All methods are
// safe for concurrent use.
type Manager struct {
	opts     ManagerOptions
	logger   *logrus.Entry
	sessions map[sessionKey]*session
	mu       sync.Mutex
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Manager{
		opts:     opts,
		logger:   log.WithField("component", "transfer"),
		sessions: make(map[sessionKey]*session),
	}
}

// OnBegin opens the output file for a new session. A BEGIN for a session
// that is already receiving closes the earlier handle and starts over.
func (m *Manager) OnBegin(src string, payload []byte) error {
	begin, err := protocol.DecodeTransferBegin(payload)
	if err != nil {
		return fmt.Errorf("transfer begin from %s: %w", src, err)
	}

	key := sessionKey{src: src, id: begin.TransferID}
	now := m.opts.Now()

	m.mu.Lock()
	var restarted *finished
	if prev, exists := m.sessions[key]; exists {
		m.logger.WithFields(logrus.Fields{"peer": src, "transfer": begin.TransferID}).
			Warn("Duplicate transfer begin, restarting session")
		restarted = m.detach(key, prev, false)
	}
	err = m.open(key, begin, now)
	m.mu.Unlock()

	if restarted != nil {
		m.complete(restarted)
	}
	return err
}

// open starts a session for key. Callers hold m.mu.
func (m *Manager) open(key sessionKey, begin protocol.TransferBegin, now time.Time) error {
	outPath := BuildOutputPath(m.opts.OutputDir, begin.TransferID, begin.Filename)
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", outPath, err)
	}

	m.sessions[key] = &session{
		file:         f,
		filename:     begin.Filename,
		size:         begin.Size,
		outPath:      outPath,
		started:      now,
		lastActivity: now,
	}

	m.logger.WithFields(logrus.Fields{
		"peer":     key.src,
		"transfer": begin.TransferID,
		"size":     begin.Size,
		"path":     outPath,
	}).Infof("Receiving file %s", begin.Filename)
	return nil
}

// OnChunk appends the chunk when its sequence number is the expected one.
// Anything else is dropped; there is no reorder buffer.
func (m *Manager) OnChunk(src string, payload []byte) error {
	h, data, err := protocol.DecodeChunk(payload)
	if err != nil {
		return fmt.Errorf("transfer chunk from %s: %w", src, err)
	}

	key := sessionKey{src: src, id: h.TransferID}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[key]
	if !exists {
		return ErrNoSession
	}
	if h.Seq != s.expectedSeq {
		return fmt.Errorf("%w: transfer %s expected %d, got %d", ErrOutOfOrder, h.TransferID, s.expectedSeq, h.Seq)
	}

	data = trimPadding(data, s.size-s.written)
	if err := s.append(data); err != nil {
		return fmt.Errorf("writing chunk %d of %s: %w", h.Seq, h.TransferID, err)
	}
	s.expectedSeq++
	s.lastActivity = m.opts.Now()

	m.logger.WithFields(logrus.Fields{"transfer": h.TransferID, "seq": h.Seq, "bytes": len(data)}).
		Debug("Chunk received")
	return nil
}

// trimPadding drops trailing zero bytes that would carry the file past its
// declared size. Frames shorter than the Ethernet minimum arrive zero-padded
// and a chunk carries no length of its own. Non-zero overflow is kept.
func trimPadding(data []byte, remaining int64) []byte {
	if remaining < 0 {
		remaining = 0
	}
	if int64(len(data)) <= remaining {
		return data
	}
	end := len(data)
	for int64(end) > remaining && data[end-1] == 0 {
		end--
	}
	return data[:end]
}

// append writes data and syncs it. On failure the file is cut back to the
// last accepted offset.
func (s *session) append(data []byte) error {
	n, err := s.file.Write(data)
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		_ = s.file.Truncate(s.written)
		_, _ = s.file.Seek(s.written, io.SeekStart)
		return err
	}
	s.written += int64(n)
	return nil
}

// OnEnd closes the session's file, unpacks archives and drops the session.
// An END for an unknown session is ignored.
func (m *Manager) OnEnd(src string, payload []byte) error {
	end, err := protocol.DecodeTransferEnd(payload)
	if err != nil {
		return fmt.Errorf("transfer end from %s: %w", src, err)
	}

	key := sessionKey{src: src, id: end.TransferID}

	m.mu.Lock()
	s, exists := m.sessions[key]
	var done *finished
	if exists {
		done = m.detach(key, s, true)
	}
	m.mu.Unlock()

	if done != nil {
		m.complete(done)
	}
	return nil
}

// finished is a session removed from the table whose archive and journal
// work is still pending.
type finished struct {
	rec   Record
	ended bool
	log   *logrus.Entry
}

// detach removes the session and closes its file. Callers hold m.mu and
// pass the result to complete once it is released.
func (m *Manager) detach(key sessionKey, s *session, ended bool) *finished {
	delete(m.sessions, key)
	log := m.logger.WithFields(logrus.Fields{"peer": key.src, "transfer": key.id, "path": s.outPath})

	closeErr := s.file.Close()
	if closeErr != nil {
		log.Warnf("Failed to close received file: %v", closeErr)
	}

	received := s.written
	if info, err := os.Stat(s.outPath); err == nil {
		received = info.Size()
	} else {
		log.Warnf("Received file missing: %v", err)
	}

	rec := Record{
		Sender:       key.src,
		TransferID:   key.id,
		Filename:     s.filename,
		OutputPath:   s.outPath,
		DeclaredSize: s.size,
		ReceivedSize: received,
		Complete:     ended && closeErr == nil && received == s.size,
		StartedAt:    s.started,
		FinishedAt:   m.opts.Now(),
	}

	switch {
	case !ended:
		log.Warnf("Transfer abandoned after %d of %d bytes", received, s.size)
	case received != s.size:
		log.Warnf("Transfer finished with %d of %d bytes", received, s.size)
	default:
		log.Infof("Transfer %s complete (%d bytes)", key.id, received)
	}
	return &finished{rec: rec, ended: ended, log: log}
}

// complete unpacks archives and journals the session. Every failure is
// logged and swallowed. It must run without m.mu held.
func (m *Manager) complete(f *finished) {
	rec := f.rec
	if f.ended && m.opts.Archiver != nil && archive.IsArchive(rec.OutputPath) {
		dir := BuildExtractDir(rec.OutputPath)
		if err := m.opts.Archiver.Extract(rec.OutputPath, dir); err != nil {
			f.log.Warnf("Could not extract archive: %v", err)
		} else {
			rec.ExtractedTo = dir
			f.log.Infof("Archive extracted to %s", dir)
		}
	}

	if m.opts.Journal != nil {
		if err := m.opts.Journal.RecordTransfer(context.Background(), rec); err != nil {
			f.log.Warnf("Failed to journal transfer: %v", err)
		}
	}
}

// Reap closes sessions idle for longer than the session timeout and returns
// how many were dropped. Partial files stay on disk.
func (m *Manager) Reap(now time.Time) int {
	if m.opts.SessionTimeout <= 0 {
		return 0
	}

	var done []*finished
	m.mu.Lock()
	for key, s := range m.sessions {
		if now.Sub(s.lastActivity) <= m.opts.SessionTimeout {
			continue
		}
		done = append(done, m.detach(key, s, false))
	}
	m.mu.Unlock()

	for _, f := range done {
		m.complete(f)
	}
	return len(done)
}

// CloseAll releases every open session; used on shutdown.
func (m *Manager) CloseAll() {
	var done []*finished
	m.mu.Lock()
	for key, s := range m.sessions {
		done = append(done, m.detach(key, s, false))
	}
	m.mu.Unlock()

	for _, f := range done {
		m.complete(f)
	}
}

func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for key, s := range m.sessions {
		out = append(out, SessionInfo{
			Sender:       key.src,
			TransferID:   key.id,
			Filename:     s.filename,
			OutputPath:   s.outPath,
			DeclaredSize: s.size,
			Received:     s.written,
			ExpectedSeq:  s.expectedSeq,
			LastActivity: s.lastActivity,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Sender != out[j].Sender {
			return out[i].Sender < out[j].Sender
		}
		return out[i].TransferID < out[j].TransferID
	})
	return out
}
