package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pterm/pterm"
	"github.com/rudransh-shrivastava/linkchat/internal/peer"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"github.com/rudransh-shrivastava/linkchat/internal/transfer"
)

// Engine is what the console drives; *node.Node satisfies it.
type Engine interface {
	SendMessage(dst, text string) error
	Broadcast(text string) error
	SendFile(ctx context.Context, dst, path string) (string, error)
	SendDirectory(ctx context.Context, dst, dir string) (string, error)
	Peers() []peer.Peer
	Transfers() []transfer.SessionInfo
	Addr() net.HardwareAddr
	Name() string
}

var (
	errUnknownCommand = errors.New("unknown command")
	errUsage          = errors.New("usage")
	errUnknownPeer    = errors.New("unknown peer")
)

type command struct {
	name string
	args []string
}

var usages = map[string]string{
	"peers":     "peers",
	"send":      "send <peer> <text>",
	"file":      "file <peer> <path>",
	"folder":    "folder <peer> <path>",
	"broadcast": "broadcast <text>",
	"transfers": "transfers",
	"help":      "help",
	"quit":      "quit",
}

// argCounts is the number of arguments each command takes; the last one
// swallows the rest of the line.
var argCounts = map[string]int{
	"peers":     0,
	"send":      2,
	"file":      2,
	"folder":    2,
	"broadcast": 1,
	"transfers": 0,
	"help":      0,
	"quit":      0,
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}

	parts := splitArgs(line, 2)
	name := strings.ToLower(parts[0])
	if name == "exit" {
		name = "quit"
	}

	want, ok := argCounts[name]
	if !ok {
		return command{}, fmt.Errorf("%w: %s", errUnknownCommand, parts[0])
	}

	var args []string
	if len(parts) == 2 {
		if want == 0 {
			return command{}, fmt.Errorf("%w: %s", errUsage, usages[name])
		}
		args = splitArgs(parts[1], want)
	}
	if len(args) != want {
		return command{}, fmt.Errorf("%w: %s", errUsage, usages[name])
	}
	return command{name: name, args: args}, nil
}

// splitArgs splits s on whitespace into at most n fields; the last field
// keeps its inner spacing.
func splitArgs(s string, n int) []string {
	var out []string
	s = strings.TrimSpace(s)
	for s != "" && len(out) < n-1 {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, s[:i])
		s = strings.TrimLeftFunc(s[i:], unicode.IsSpace)
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// Console is the interactive front end. It also receives incoming messages
// and prints them between commands.
type Console struct {
	engine Engine
	out    io.Writer
	mu     sync.Mutex
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Attach(e Engine) {
	c.engine = e
}

func (c *Console) DeliverMessage(src string, msg protocol.Message) {
	c.print(pterm.Info.Sprintfln("%s (%s): %s", msg.From, src, msg.Text))
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

// Run reads commands from in until "quit", end of input, or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.print(pterm.Info.Sprintfln("%s is up as %s, type help for commands", c.engine.Name(), c.engine.Addr()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				c.print(pterm.Error.Sprintln(err))
				continue
			}
			if cmd.name == "quit" {
				return nil
			}
			if err := c.execute(ctx, cmd); err != nil {
				c.print(pterm.Error.Sprintln(err))
			}
		}
	}
}

func (c *Console) execute(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "":
		return nil
	case "help":
		c.printHelp()
	case "peers":
		c.printPeers(time.Now())
	case "transfers":
		c.printTransfers()
	case "broadcast":
		return c.engine.Broadcast(cmd.args[0])
	case "send":
		dst, err := c.resolvePeer(cmd.args[0])
		if err != nil {
			return err
		}
		return c.engine.SendMessage(dst, cmd.args[1])
	case "file", "folder":
		dst, err := c.resolvePeer(cmd.args[0])
		if err != nil {
			return err
		}
		send := c.engine.SendFile
		if cmd.name == "folder" {
			send = c.engine.SendDirectory
		}
		id, err := send(ctx, dst, cmd.args[1])
		if err != nil {
			return err
		}
		c.print(pterm.Success.Sprintfln("Sent %s to %s (transfer %s)", cmd.args[1], dst, id))
	}
	return nil
}

// resolvePeer accepts a hardware address, or the name or node id of a
// known peer.
func (c *Console) resolvePeer(arg string) (string, error) {
	if addr, err := protocol.ParseAddr(arg); err == nil {
		return addr.String(), nil
	}

	var match string
	for _, p := range c.engine.Peers() {
		if p.Name != arg && p.NodeID != arg {
			continue
		}
		if match != "" && match != p.Addr {
			return "", fmt.Errorf("%q matches more than one peer, use the address", arg)
		}
		match = p.Addr
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", errUnknownPeer, arg)
	}
	return match, nil
}

func (c *Console) printHelp() {
	data := pterm.TableData{{"Command", "Description"}}
	rows := []struct{ name, desc string }{
		{"peers", "list discovered peers"},
		{"send", "send a message to a peer (address, name or node id)"},
		{"file", "send a file"},
		{"folder", "send a folder as a tar.gz archive"},
		{"broadcast", "send a message to everyone"},
		{"transfers", "list files being received"},
		{"quit", "leave"},
	}
	for _, r := range rows {
		data = append(data, []string{usages[r.name], r.desc})
	}
	c.renderTable(data)
}

func (c *Console) printPeers(now time.Time) {
	peers := c.engine.Peers()
	if len(peers) == 0 {
		c.print(pterm.Warning.Sprintln("No peers discovered yet"))
		return
	}

	data := pterm.TableData{{"Address", "Name", "Node ID", "Last seen"}}
	for _, p := range peers {
		data = append(data, []string{p.Addr, p.Name, p.NodeID, now.Sub(p.LastSeen).Truncate(time.Second).String() + " ago"})
	}
	c.renderTable(data)
}

func (c *Console) printTransfers() {
	sessions := c.engine.Transfers()
	if len(sessions) == 0 {
		c.print(pterm.Info.Sprintln("No transfers in progress"))
		return
	}

	data := pterm.TableData{{"From", "ID", "File", "Received", "Next chunk"}}
	for _, s := range sessions {
		data = append(data, []string{
			s.Sender,
			s.TransferID,
			s.Filename,
			fmt.Sprintf("%d/%d", s.Received, s.DeclaredSize),
			fmt.Sprint(s.ExpectedSeq),
		})
	}
	c.renderTable(data)
}

func (c *Console) renderTable(data pterm.TableData) {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		c.print(pterm.Error.Sprintln(err))
		return
	}
	c.print(out + "\n")
}
