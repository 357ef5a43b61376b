package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/linkchat/internal/archive"
	"github.com/rudransh-shrivastava/linkchat/internal/logger"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPeer = "aa:bb:cc:dd:ee:01"

type memJournal struct {
	records []Record
	mu      sync.Mutex
}

func (j *memJournal) RecordTransfer(_ context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) all() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Record(nil), j.records...)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, opts ManagerOptions) *Manager {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	opts.Logger = logger.Discard()
	return NewManager(opts)
}

func beginPayload(t *testing.T, id, name string, size int64) []byte {
	t.Helper()
	b, err := protocol.EncodeRecord(protocol.TransferBegin{TransferID: id, Filename: name, Size: size})
	require.NoError(t, err)
	return b
}

func chunkPayload(t *testing.T, id string, seq uint64, data string) []byte {
	t.Helper()
	b, err := protocol.EncodeChunk(protocol.ChunkHeader{TransferID: id, Seq: seq}, []byte(data))
	require.NoError(t, err)
	return b
}

func endPayload(t *testing.T, id string) []byte {
	t.Helper()
	b, err := protocol.EncodeRecord(protocol.TransferEnd{TransferID: id})
	require.NoError(t, err)
	return b
}

func TestManagerInOrderTransfer(t *testing.T) {
	dir := t.TempDir()
	journal := &memJournal{}
	m := newTestManager(t, ManagerOptions{OutputDir: dir, Journal: journal})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 11)))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "hello ")))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 1, "world")))

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, uint64(2), sessions[0].ExpectedSeq)
	assert.Equal(t, int64(11), sessions[0].Received)

	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t1")))
	assert.Empty(t, m.Sessions())

	got, err := os.ReadFile(filepath.Join(dir, "received_t1_a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	recs := journal.all()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Complete)
	assert.Equal(t, int64(11), recs[0].ReceivedSize)
	assert.Equal(t, testPeer, recs[0].Sender)
}

func TestManagerDropsOutOfOrderChunk(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerOptions{OutputDir: dir})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 6)))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "abc")))

	err := m.OnChunk(testPeer, chunkPayload(t, "t1", 2, "xyz"))
	assert.ErrorIs(t, err, ErrOutOfOrder)

	err = m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "abc"))
	assert.ErrorIs(t, err, ErrOutOfOrder)

	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 1, "def")))
	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t1")))

	got, err := os.ReadFile(filepath.Join(dir, "received_t1_a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))
}

func TestManagerChunkWithoutSession(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})

	err := m.OnChunk(testPeer, chunkPayload(t, "nope", 0, "x"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManagerSessionsKeyedBySender(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerOptions{OutputDir: dir})
	other := "aa:bb:cc:dd:ee:02"

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 1)))

	err := m.OnChunk(other, chunkPayload(t, "t1", 0, "x"))
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, m.OnEnd(other, endPayload(t, "t1")))
	assert.Len(t, m.Sessions(), 1)
}

func TestManagerEndWithoutSession(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	assert.NoError(t, m.OnEnd(testPeer, endPayload(t, "ghost")))
}

func TestManagerEndWithShortFile(t *testing.T) {
	dir := t.TempDir()
	journal := &memJournal{}
	m := newTestManager(t, ManagerOptions{OutputDir: dir, Journal: journal})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 100)))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "short")))
	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t1")))

	recs := journal.all()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Complete)
	assert.Equal(t, int64(5), recs[0].ReceivedSize)
	assert.Equal(t, int64(100), recs[0].DeclaredSize)
}

func TestManagerDuplicateBeginRestarts(t *testing.T) {
	dir := t.TempDir()
	journal := &memJournal{}
	m := newTestManager(t, ManagerOptions{OutputDir: dir, Journal: journal})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 3)))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "old")))

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 3)))
	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, uint64(0), sessions[0].ExpectedSeq)

	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "new")))
	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t1")))

	got, err := os.ReadFile(filepath.Join(dir, "received_t1_a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	recs := journal.all()
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Complete)
	assert.True(t, recs[1].Complete)
}

func TestManagerRejectsMalformedPayloads(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})

	tests := []struct {
		name string
		call func() error
	}{
		{"begin not json", func() error { return m.OnBegin(testPeer, []byte("{")) }},
		{"begin traversal only", func() error { return m.OnBegin(testPeer, beginPayload(t, "t1", "..", 1)) }},
		{"begin id climbs out", func() error { return m.OnBegin(testPeer, beginPayload(t, "/../../../pwn", "x.txt", 1)) }},
		{"chunk id with separator", func() error { return m.OnChunk(testPeer, chunkPayload(t, "a/b", 0, "x")) }},
		{"chunk too short", func() error { return m.OnChunk(testPeer, []byte{0}) }},
		{"end missing id", func() error { return m.OnEnd(testPeer, []byte(`{}`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), protocol.ErrMalformedRecord)
		})
	}
	assert.Empty(t, m.Sessions())
}

func TestManagerSanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerOptions{OutputDir: dir})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "../../etc/passwd", 0)))
	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t1")))

	_, err := os.Stat(filepath.Join(dir, "received_t1_passwd"))
	assert.NoError(t, err)
}

func TestManagerTransferIDCannotLeaveOutputDir(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "a", "b", "out")
	require.NoError(t, os.MkdirAll(out, 0o755))
	m := newTestManager(t, ManagerOptions{OutputDir: out})

	id := "/../../../pwn"
	assert.Error(t, m.OnBegin(testPeer, beginPayload(t, id, "x.txt", 1)))
	assert.Error(t, m.OnChunk(testPeer, chunkPayload(t, id, 0, "x")))
	assert.Error(t, m.OnEnd(testPeer, endPayload(t, id)))

	for _, dir := range []string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b"), out} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.True(t, e.IsDir(), "unexpected file %s in %s", e.Name(), dir)
		}
	}
}

func TestManagerTrimsFramePadding(t *testing.T) {
	dir := t.TempDir()
	journal := &memJournal{}
	m := newTestManager(t, ManagerOptions{OutputDir: dir, Journal: journal})

	padded := chunkPayload(t, "t1", 1, "xyz")
	padded = append(padded, make([]byte, 20)...)

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.bin", 7)))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "abcd")))
	require.NoError(t, m.OnChunk(testPeer, padded))
	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t1")))

	got, err := os.ReadFile(filepath.Join(dir, "received_t1_a.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abcdxyz", string(got))

	recs := journal.all()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Complete)
}

func TestTrimPadding(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		remaining int64
		expected  []byte
	}{
		{"fits", []byte{1, 0, 0}, 3, []byte{1, 0, 0}},
		{"zero tail past size", []byte{1, 2, 0, 0, 0}, 2, []byte{1, 2}},
		{"zeros inside size kept", []byte{1, 0, 0, 0}, 2, []byte{1, 0}},
		{"non-zero overflow kept", []byte{1, 2, 3}, 1, []byte{1, 2, 3}},
		{"nothing remaining", []byte{0, 0}, 0, []byte{}},
		{"already past size", []byte{0, 5, 0}, -4, []byte{0, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, trimPadding(tt.data, tt.remaining))
		})
	}
}

type blockingArchiver struct {
	started chan struct{}
	release chan struct{}
}

func (blockingArchiver) Create(string, string) error { return nil }

func (a blockingArchiver) Extract(string, string) error {
	close(a.started)
	<-a.release
	return nil
}

func TestManagerExtractsWithoutHoldingLock(t *testing.T) {
	arch := blockingArchiver{started: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(t, ManagerOptions{Archiver: arch})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "big.tar.gz", 1)))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "x")))

	ended := make(chan error, 1)
	go func() { ended <- m.OnEnd(testPeer, endPayload(t, "t1")) }()
	<-arch.started

	other := make(chan error, 1)
	go func() {
		if err := m.OnBegin(testPeer, beginPayload(t, "t2", "b.txt", 1)); err != nil {
			other <- err
			return
		}
		other <- m.OnChunk(testPeer, chunkPayload(t, "t2", 0, "y"))
	}()

	select {
	case err := <-other:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive path blocked while an archive was extracting")
	}
	require.Len(t, m.Sessions(), 1)

	close(arch.release)
	require.NoError(t, <-ended)
}

func TestManagerBeginUnwritableDir(t *testing.T) {
	m := newTestManager(t, ManagerOptions{OutputDir: filepath.Join(t.TempDir(), "missing")})

	err := m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 1))
	assert.Error(t, err)
	assert.Empty(t, m.Sessions())
}

func TestManagerReap(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	journal := &memJournal{}
	m := newTestManager(t, ManagerOptions{SessionTimeout: time.Minute, Journal: journal, Now: clock.Now})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "stale", "a.txt", 10)))
	clock.now = clock.now.Add(50 * time.Second)
	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "fresh", "b.txt", 10)))

	assert.Equal(t, 0, m.Reap(clock.now))

	clock.now = clock.now.Add(20 * time.Second)
	assert.Equal(t, 1, m.Reap(clock.now))

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "fresh", sessions[0].TransferID)

	recs := journal.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "stale", recs[0].TransferID)
	assert.False(t, recs[0].Complete)
}

func TestManagerReapDisabled(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 1)))

	assert.Equal(t, 0, m.Reap(time.Now().Add(24*time.Hour)))
	m.CloseAll()
	assert.Empty(t, m.Sessions())
}

func TestManagerExtractsArchive(t *testing.T) {
	src := filepath.Join(t.TempDir(), "docs")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "readme.md"), []byte("# hi"), 0o644))

	tarball := filepath.Join(t.TempDir(), "docs.tar.gz")
	require.NoError(t, archive.Create(src, tarball))
	data, err := os.ReadFile(tarball)
	require.NoError(t, err)

	dir := t.TempDir()
	journal := &memJournal{}
	m := newTestManager(t, ManagerOptions{OutputDir: dir, Archiver: archive.TarGz{}, Journal: journal})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t9", "docs.tar.gz", int64(len(data)))))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t9", 0, string(data))))
	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t9")))

	extracted := filepath.Join(dir, "received_t9_docs.tar.gz_extracted")
	got, err := os.ReadFile(filepath.Join(extracted, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(got))

	recs := journal.all()
	require.Len(t, recs, 1)
	assert.Equal(t, extracted, recs[0].ExtractedTo)
}

type failingArchiver struct{}

func (failingArchiver) Create(string, string) error  { return errors.New("boom") }
func (failingArchiver) Extract(string, string) error { return errors.New("boom") }

func TestManagerKeepsArchiveWhenExtractFails(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerOptions{OutputDir: dir, Archiver: failingArchiver{}})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "x.tgz", 3)))
	require.NoError(t, m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "abc")))
	require.NoError(t, m.OnEnd(testPeer, endPayload(t, "t1")))

	_, err := os.Stat(filepath.Join(dir, "received_t1_x.tgz"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "received_t1_x.tgz_extracted"))
	assert.True(t, os.IsNotExist(err))
}

func TestManagerWriteFailure(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerOptions{OutputDir: dir})

	require.NoError(t, m.OnBegin(testPeer, beginPayload(t, "t1", "a.txt", 3)))

	m.mu.Lock()
	s := m.sessions[sessionKey{src: testPeer, id: "t1"}]
	require.NoError(t, s.file.Close())
	m.mu.Unlock()

	err := m.OnChunk(testPeer, chunkPayload(t, "t1", 0, "abc"))
	require.Error(t, err)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, uint64(0), sessions[0].ExpectedSeq)
	assert.Equal(t, int64(0), sessions[0].Received)
}

func TestBuildOutputPath(t *testing.T) {
	tests := []struct {
		dir, id, name string
		expected      string
	}{
		{"out", "ab12cd34", "a.txt", filepath.Join("out", "received_ab12cd34_a.txt")},
		{".", "x", "photos.tar.gz", "received_x_photos.tar.gz"},
	}

	for _, tt := range tests {
		got := BuildOutputPath(tt.dir, tt.id, tt.name)
		if got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
	assert.Equal(t, "p_extracted", BuildExtractDir("p"))
}

func TestCalculateTotalChunks(t *testing.T) {
	tests := []struct {
		size, chunk int64
		expected    int
	}{
		{0, 1024, 0},
		{1, 1024, 1},
		{1024, 1024, 1},
		{2500, 1024, 3},
		{10, 0, 0},
	}

	for _, tt := range tests {
		if got := CalculateTotalChunks(tt.size, tt.chunk); got != tt.expected {
			t.Errorf("CalculateTotalChunks(%d, %d): expected %d, got %d", tt.size, tt.chunk, tt.expected, got)
		}
	}
}

func TestNewTransferID(t *testing.T) {
	a, b := NewTransferID(), NewTransferID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
