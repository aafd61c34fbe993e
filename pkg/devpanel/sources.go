package devpanel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logging"
)

// Publisher receives log lines for a target. *Server implements it.
type Publisher interface {
	Publish(target core.Target, line string)
}

// Tail follows path from its current end and publishes every new line to
// target until ctx is cancelled. A file that shrinks is read again from
// the start. The file must exist when Tail is called.
func Tail(ctx context.Context, path string, target core.Target, pub Publisher, poll time.Duration, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek %s: %w", path, err)
	}
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	logger.Info("tailing file", zap.String("path", path), zap.String("target", target.String()))

	reader := bufio.NewReader(f)
	var partial string
	for {
		line, err := reader.ReadString('\n')
		offset += int64(len(line))
		if err == nil {
			if l := strings.TrimRight(partial+line, "\r\n"); l != "" {
				pub.Publish(target, l)
			}
			partial = ""
			continue
		}
		partial += line

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(poll):
		}

		info, serr := f.Stat()
		if serr != nil {
			continue
		}
		if info.Size() < offset {
			logger.Info("file truncated, rereading", zap.String("path", path))
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("seek %s: %w", path, err)
			}
			offset = 0
			partial = ""
			reader.Reset(f)
		}
	}
}

// PublishLines copies r line by line into target until EOF.
func PublishLines(r io.Reader, target core.Target, pub Publisher) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		pub.Publish(target, scanner.Text())
	}
	return scanner.Err()
}

// Journal follows the systemd journal of unit into target until ctx is
// cancelled.
func Journal(ctx context.Context, unit string, target core.Target, pub Publisher, logger *zap.Logger) error {
	logging.OrNop(logger).Info("following journal", zap.String("unit", unit), zap.String("target", target.String()))
	return runCommand(ctx, target, pub, "journalctl", "-f", "-u", unit, "-o", "cat", "-n", "0")
}

// runCommand publishes the stdout of a long running command line by line.
func runCommand(ctx context.Context, target core.Target, pub Publisher, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s start: %w", name, err)
	}
	scanErr := PublishLines(stdout, target, pub)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if scanErr != nil {
		return scanErr
	}
	if waitErr != nil {
		return fmt.Errorf("%s: %w", name, waitErr)
	}
	return nil
}

// Generator publishes synthetic access log lines to a set of targets on
// a fixed tick, so a console has something to render.
type Generator struct {
	pub      Publisher
	targets  func() []core.Target
	interval time.Duration
	burst    int
	now      func() time.Time
	logger   *zap.Logger
}

// NewGenerator emits burst lines per target every interval.
func NewGenerator(pub Publisher, targets func() []core.Target, interval time.Duration, burst int, logger *zap.Logger) *Generator {
	if burst < 1 {
		burst = 1
	}
	return &Generator{
		pub:      pub,
		targets:  targets,
		interval: interval,
		burst:    burst,
		now:      time.Now,
		logger:   logging.OrNop(logger),
	}
}

// Run blocks until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	g.logger.Info("log generator started", zap.Duration("interval", g.interval), zap.Int("burst", g.burst))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Generator) tick() {
	for _, t := range g.targets() {
		for range g.burst {
			g.pub.Publish(t, g.line())
		}
	}
}

var (
	genProtocols = []string{"tcp", "udp"}
	genHosts     = []string{"www.google.com:443", "api.github.com:443", "1.1.1.1:53", "cdn.example.net:80"}
	genTags      = []string{"VLESS TCP", "VMess WS", "Trojan gRPC"}
)

func (g *Generator) line() string {
	ts := g.now().Format("2006/01/02 15:04:05")
	src := fmt.Sprintf("10.8.%d.%d:%d", rand.IntN(256), rand.IntN(256), 1024+rand.IntN(60000))
	return fmt.Sprintf("%s %s accepted %s:%s [%s >> direct] email: user%d",
		ts, src,
		genProtocols[rand.IntN(len(genProtocols))],
		genHosts[rand.IntN(len(genHosts))],
		genTags[rand.IntN(len(genTags))],
		rand.IntN(50),
	)
}
