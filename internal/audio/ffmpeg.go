package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegDevice implements Device using the ffmpeg CLI.
// Audio is encoded as Opus in an Ogg container and read from ffmpeg's stdout.
type FFmpegDevice struct {
	ffmpegPath  string
	format      string
	device      string
	probe       time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger
}

// DeviceOption configures an FFmpegDevice.
type DeviceOption func(*FFmpegDevice)

// WithProbe sets how long Open watches ffmpeg for an early exit before
// reporting the device as acquired.
func WithProbe(d time.Duration) DeviceOption {
	return func(f *FFmpegDevice) {
		f.probe = d
	}
}

// WithStopTimeout sets how long Stop waits for ffmpeg to finalize before killing it.
func WithStopTimeout(d time.Duration) DeviceOption {
	return func(f *FFmpegDevice) {
		f.stopTimeout = d
	}
}

// WithDeviceLogger sets the logger.
func WithDeviceLogger(logger *slog.Logger) DeviceOption {
	return func(f *FFmpegDevice) {
		f.logger = logger
	}
}

// NewFFmpegDevice creates a new FFmpegDevice.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
// format is the ffmpeg input format (alsa, pulse, avfoundation, dshow, lavfi)
// and device the input name for that format.
func NewFFmpegDevice(ffmpegPath, format, device string, opts ...DeviceOption) *FFmpegDevice {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	d := &FFmpegDevice{
		ffmpegPath:  ffmpegPath,
		format:      format,
		device:      device,
		probe:       500 * time.Millisecond,
		stopTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open starts ffmpeg on the configured input. Failures during the probe
// window are classified into ErrPermissionDenied, ErrDeviceNotFound or ErrDevice.
func (d *FFmpegDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	args := d.buildArgs(c)
	if c.EchoCancellation {
		d.logger.Debug("echo cancellation requested; ffmpeg capture has no canceller")
	}

	// The process outlives ctx, which only bounds acquisition.
	cmd := exec.Command(d.ffmpegPath, args...) // #nosec G204 - path and args come from configuration
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrDevice, err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %w", ErrDevice, err)
	}

	s := &ffmpegStream{
		cmd:         cmd,
		stdout:      stdout,
		stderr:      stderr,
		stopTimeout: d.stopTimeout,
		done:        make(chan struct{}),
		stopTick:    make(chan struct{}),
	}
	go s.read()

	select {
	case <-s.done:
		return nil, classifyFFmpegError(stderr.String(), s.exitErr)
	case <-ctx.Done():
		_ = s.Close()
		return nil, fmt.Errorf("%w: %w", ErrDevice, ctx.Err())
	case <-time.After(d.probe):
	}

	d.logger.Debug("capture device opened",
		slog.String("format", d.format),
		slog.String("device", d.device),
		slog.Int("pid", cmd.Process.Pid),
	)
	return s, nil
}

// buildArgs returns the ffmpeg arguments for a capture with constraints c.
func (d *FFmpegDevice) buildArgs(c Constraints) []string {
	rate := c.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if d.format == "lavfi" {
		// Virtual sources generate as fast as possible unless paced.
		args = append(args, "-re")
	}
	args = append(args, "-f", d.format, "-i", d.device)

	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	args = append(args,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(rate),
		"-c:a", "libopus",
		"-b:a", "64k",
		"-f", "ogg",
		"-flush_packets", "1",
		"pipe:1",
	)
	return args
}

// classifyFFmpegError maps ffmpeg's diagnostic output to a device error.
func classifyFFmpegError(stderr string, exitErr error) error {
	lower := strings.ToLower(stderr)
	detail := lastLine(stderr)
	if detail == "" && exitErr != nil {
		detail = exitErr.Error()
	}

	switch {
	case containsAny(lower, "permission denied", "operation not permitted", "not authorized", "access denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	case containsAny(lower, "no such file or directory", "no such device", "device not found",
		"cannot open audio device", "could not find audio", "unknown input format", "no such audio device"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, detail)
	default:
		if detail == "" {
			detail = "ffmpeg exited during device acquisition"
		}
		return fmt.Errorf("%w: %s", ErrDevice, detail)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// ffmpegStream is a running ffmpeg capture process.
type ffmpegStream struct {
	cmd         *exec.Cmd
	stdout      io.ReadCloser
	stderr      *syncBuffer
	stopTimeout time.Duration

	mu      sync.Mutex
	deliver sync.Mutex // keeps chunks in order across ticker and Stop
	pending bytes.Buffer
	onChunk func([]byte)
	started bool

	done     chan struct{} // closed once stdout hit EOF and the process was reaped
	exitErr  error
	stopTick chan struct{}
	tickOnce sync.Once
}

func (s *ffmpegStream) MimeType() string {
	return "audio/ogg"
}

// read copies stdout into the pending buffer until EOF, then reaps the process.
func (s *ffmpegStream) read() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.pending.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			break
		}
	}
	s.exitErr = s.cmd.Wait()
	close(s.done)
}

// Start begins periodic delivery. Bytes produced before Start (the container
// header) are part of the first chunk.
func (s *ffmpegStream) Start(timeslice time.Duration, onChunk func([]byte)) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStreamStarted
	}
	s.started = true
	s.onChunk = onChunk
	s.mu.Unlock()

	if timeslice <= 0 {
		timeslice = time.Second
	}
	go func() {
		ticker := time.NewTicker(timeslice)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.flush()
			case <-s.stopTick:
				return
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Stop interrupts ffmpeg so it finalizes the container, waits for it to exit
// and delivers the remaining bytes.
func (s *ffmpegStream) Stop() error {
	s.tickOnce.Do(func() { close(s.stopTick) })

	select {
	case <-s.done:
	default:
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = s.cmd.Process.Kill()
		}
		select {
		case <-s.done:
		case <-time.After(s.stopTimeout):
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	}

	s.flush()
	return nil
}

// Close kills ffmpeg if it is still running. Undelivered audio is dropped.
func (s *ffmpegStream) Close() error {
	s.tickOnce.Do(func() { close(s.stopTick) })

	select {
	case <-s.done:
		return nil
	default:
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill ffmpeg: %w", err)
	}
	<-s.done
	return nil
}

func (s *ffmpegStream) flush() {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if s.pending.Len() == 0 || s.onChunk == nil {
		s.mu.Unlock()
		return
	}
	chunk := bytes.Clone(s.pending.Bytes())
	s.pending.Reset()
	cb := s.onChunk
	s.mu.Unlock()

	cb(chunk)
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
