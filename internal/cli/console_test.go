package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/linkchat/internal/peer"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"github.com/rudransh-shrivastava/linkchat/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		expected command
		err      error
	}{
		{"", command{}, nil},
		{"   ", command{}, nil},
		{"peers", command{name: "peers"}, nil},
		{"PEERS", command{name: "peers"}, nil},
		{"exit", command{name: "quit"}, nil},
		{"send 02:00:00:00:00:02 hello  there", command{name: "send", args: []string{"02:00:00:00:00:02", "hello  there"}}, nil},
		{"file bob /tmp/my file.txt", command{name: "file", args: []string{"bob", "/tmp/my file.txt"}}, nil},
		{"folder bob ./photos", command{name: "folder", args: []string{"bob", "./photos"}}, nil},
		{"broadcast hi all", command{name: "broadcast", args: []string{"hi all"}}, nil},
		{"send bob", command{}, errUsage},
		{"broadcast", command{}, errUsage},
		{"peers now", command{}, errUsage},
		{"dance", command{}, errUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, splitArgs(" a   b c ", 2))
	assert.Equal(t, []string{"a b c"}, splitArgs("a b c", 1))
	assert.Equal(t, []string{"a"}, splitArgs("a", 3))
	assert.Nil(t, splitArgs("   ", 2))
}

type sent struct {
	kind, dst, arg string
}

type fakeEngine struct {
	peers     []peer.Peer
	transfers []transfer.SessionInfo
	sent      []sent
	failSend  bool
	mu        sync.Mutex
}

func (f *fakeEngine) record(kind, dst, arg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{kind, dst, arg})
}

func (f *fakeEngine) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeEngine) SendMessage(dst, text string) error {
	if f.failSend {
		return errors.New("link down")
	}
	f.record("message", dst, text)
	return nil
}

func (f *fakeEngine) Broadcast(text string) error {
	return f.SendMessage(protocol.BroadcastAddrText, text)
}

func (f *fakeEngine) SendFile(_ context.Context, dst, path string) (string, error) {
	f.record("file", dst, path)
	return "id000001", nil
}

func (f *fakeEngine) SendDirectory(_ context.Context, dst, dir string) (string, error) {
	f.record("folder", dst, dir)
	return "id000002", nil
}

func (f *fakeEngine) Peers() []peer.Peer                { return f.peers }
func (f *fakeEngine) Transfers() []transfer.SessionInfo { return f.transfers }
func (f *fakeEngine) Addr() net.HardwareAddr            { return net.HardwareAddr{2, 0, 0, 0, 0, 1} }
func (f *fakeEngine) Name() string                      { return "alice" }

func runConsole(t *testing.T, e Engine, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := NewConsole(&out)
	c.Attach(e)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx, strings.NewReader(input)))
	return out.String()
}

func TestConsoleCommands(t *testing.T) {
	e := &fakeEngine{
		peers: []peer.Peer{
			{Addr: "02:00:00:00:00:02", Name: "bob", NodeID: "b0b0b0b0", LastSeen: time.Now()},
		},
	}

	out := runConsole(t, e, strings.Join([]string{
		"send bob hi bob",
		"send b0b0b0b0 by id",
		"send 02:00:00:00:00:03 by address",
		"broadcast hello everyone",
		"file bob /tmp/a.txt",
		"folder bob /tmp/photos",
		"send carol nobody home",
		"quit",
		"send bob never sent",
	}, "\n"))

	assert.Equal(t, []sent{
		{"message", "02:00:00:00:00:02", "hi bob"},
		{"message", "02:00:00:00:00:02", "by id"},
		{"message", "02:00:00:00:00:03", "by address"},
		{"message", protocol.BroadcastAddrText, "hello everyone"},
		{"file", "02:00:00:00:00:02", "/tmp/a.txt"},
		{"folder", "02:00:00:00:00:02", "/tmp/photos"},
	}, e.all())

	assert.Contains(t, out, "alice is up")
	assert.Contains(t, out, "id000001")
	assert.Contains(t, out, "unknown peer")
}

func TestConsoleTables(t *testing.T) {
	e := &fakeEngine{
		peers: []peer.Peer{{Addr: "02:00:00:00:00:02", Name: "bob", NodeID: "b0b0b0b0", LastSeen: time.Now()}},
		transfers: []transfer.SessionInfo{
			{Sender: "02:00:00:00:00:02", TransferID: "t1", Filename: "big.iso", Received: 2048, DeclaredSize: 4096, ExpectedSeq: 2},
		},
	}

	out := runConsole(t, e, "peers\ntransfers\nhelp\n")

	assert.Contains(t, out, "b0b0b0b0")
	assert.Contains(t, out, "big.iso")
	assert.Contains(t, out, "2048/4096")
	assert.Contains(t, out, "broadcast <text>")
}

func TestConsoleEmptyTables(t *testing.T) {
	out := runConsole(t, &fakeEngine{}, "peers\ntransfers\n")

	assert.Contains(t, out, "No peers discovered yet")
	assert.Contains(t, out, "No transfers in progress")
}

func TestConsoleReportsErrors(t *testing.T) {
	out := runConsole(t, &fakeEngine{failSend: true}, "broadcast x\nbogus\n")

	assert.Contains(t, out, "link down")
	assert.Contains(t, out, "unknown command")
}

func TestConsoleAmbiguousPeer(t *testing.T) {
	e := &fakeEngine{peers: []peer.Peer{
		{Addr: "02:00:00:00:00:02", Name: "bob"},
		{Addr: "02:00:00:00:00:03", Name: "bob"},
	}}
	c := NewConsole(&bytes.Buffer{})
	c.Attach(e)

	_, err := c.resolvePeer("bob")
	assert.ErrorContains(t, err, "more than one peer")
}

func TestConsoleDeliverMessage(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)

	c.DeliverMessage("02:00:00:00:00:02", protocol.Message{From: "bob", Text: "¡hola!"})
	assert.Contains(t, out.String(), "bob (02:00:00:00:00:02): ¡hola!")
}

func TestConsoleStopsOnContext(t *testing.T) {
	c := NewConsole(&bytes.Buffer{})
	c.Attach(&fakeEngine{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := net.Pipe()
	defer func() { _ = r.Close(); _ = w.Close() }()
	assert.NoError(t, c.Run(ctx, r))
}

func TestTransferStatus(t *testing.T) {
	assert.Equal(t, "incomplete", transferStatus(false, "x"))
	assert.Equal(t, "complete", transferStatus(true, ""))
	assert.Equal(t, "extracted to d", transferStatus(true, "d"))
}

func TestInterfaceTable(t *testing.T) {
	data := interfaceTable([]net.Interface{
		{Name: "eth0", MTU: 1500, HardwareAddr: net.HardwareAddr{2, 0, 0, 0, 0, 2}, Flags: net.FlagUp | net.FlagBroadcast},
		{Name: "wlan0", MTU: 1500, HardwareAddr: net.HardwareAddr{2, 0, 0, 0, 0, 3}, Flags: net.FlagUp},
	})

	require.Len(t, data, 3)
	assert.Equal(t, "eth0 (default)", data[1][0])
	assert.Equal(t, "up,broadcast", data[1][3])
	assert.Equal(t, "wlan0", data[2][0])
}
