package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rudransh-shrivastava/linkchat/internal/archive"
	"github.com/rudransh-shrivastava/linkchat/internal/logger"
	"github.com/rudransh-shrivastava/linkchat/internal/protocol"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// FrameSender transmits one frame and blocks until the transport accepts it.
type FrameSender interface {
	SendFrame(dst net.HardwareAddr, t protocol.FrameType, payload []byte) error
}

type SenderOptions struct {
	ChunkSize int
	Archiver  Archiver
	TempDir   string
	Logger    *logrus.Logger
	// Progress receives a progress bar per file; nil disables it.
	Progress io.Writer
	NewID    func() string
}

// Sender streams files as BEGIN, CHUNK 0..n-1, END with no flow control.
type Sender struct {
	out    FrameSender
	opts   SenderOptions
	logger *logrus.Entry
}

func NewSender(out FrameSender, opts SenderOptions) *Sender {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = protocol.ChunkSize
	}
	if opts.Archiver == nil {
		opts.Archiver = archive.TarGz{}
	}
	if opts.NewID == nil {
		opts.NewID = NewTransferID
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Sender{
		out:    out,
		opts:   opts,
		logger: log.WithField("component", "sender"),
	}
}

// SendFile transmits the file at path to dst and returns the transfer id.
// Once BEGIN has gone out, END is always attempted, even when reading or
// sending a chunk fails or ctx is cancelled.
func (s *Sender) SendFile(ctx context.Context, dst net.HardwareAddr, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	id := s.opts.NewID()
	name := filepath.Base(path)
	total := info.Size()
	log := s.logger.WithFields(logrus.Fields{"peer": dst.String(), "transfer": id})

	begin, err := protocol.EncodeRecord(protocol.TransferBegin{TransferID: id, Filename: name, Size: total})
	if err != nil {
		return "", err
	}
	if err := s.out.SendFrame(dst, protocol.FrameTransferBegin, begin); err != nil {
		return "", fmt.Errorf("sending transfer begin: %w", err)
	}
	log.Infof("Sending file %s (%d bytes, %d chunks)", name, total,
		CalculateTotalChunks(total, int64(s.opts.ChunkSize)))

	bar := s.progressBar(total, name)
	sendErr := s.sendChunks(ctx, dst, id, f, func(n int) {
		if bar != nil {
			_ = bar.Add(n)
		}
	})

	end, err := protocol.EncodeRecord(protocol.TransferEnd{TransferID: id})
	if err == nil {
		err = s.out.SendFrame(dst, protocol.FrameTransferEnd, end)
	}
	if err != nil {
		err = fmt.Errorf("sending transfer end: %w", err)
	}

	if err := errors.Join(sendErr, err); err != nil {
		log.Warnf("File %s not sent completely: %v", name, err)
		return id, err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	log.Infof("File %s sent", name)
	return id, nil
}

func (s *Sender) sendChunks(ctx context.Context, dst net.HardwareAddr, id string, r io.Reader, sent func(int)) error {
	buf := make([]byte, s.opts.ChunkSize)
	var seq uint64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			payload, err := protocol.EncodeChunk(protocol.ChunkHeader{TransferID: id, Seq: seq}, buf[:n])
			if err != nil {
				return err
			}
			if err := s.out.SendFrame(dst, protocol.FrameTransferChunk, payload); err != nil {
				return fmt.Errorf("sending chunk %d: %w", seq, err)
			}
			sent(n)
			seq++
		}

		switch {
		case readErr == io.EOF || readErr == io.ErrUnexpectedEOF:
			return nil
		case readErr != nil:
			return fmt.Errorf("reading chunk %d: %w", seq, readErr)
		}
	}
}

// SendDirectory archives dir into a temporary .tar.gz named after the
// directory, sends it, and removes the archive on every path out.
func (s *Sender) SendDirectory(ctx context.Context, dst net.HardwareAddr, dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}

	tmpDir, err := os.MkdirTemp(s.opts.TempDir, "linkchat-")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			s.logger.Warnf("Failed to remove temporary archive: %v", err)
		}
	}()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	archivePath := filepath.Join(tmpDir, filepath.Base(abs)+".tar.gz")
	if err := s.opts.Archiver.Create(abs, archivePath); err != nil {
		return "", fmt.Errorf("archiving %s: %w", dir, err)
	}

	if info, err := os.Stat(archivePath); err == nil {
		s.logger.Debugf("Created archive %s (%d bytes)", archivePath, info.Size())
	}

	return s.SendFile(ctx, dst, archivePath)
}

// progressBar returns nil when progress output is off or there is nothing
// to send.
func (s *Sender) progressBar(total int64, name string) *progressbar.ProgressBar {
	w := s.opts.Progress
	if w == nil || total <= 0 {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
}
