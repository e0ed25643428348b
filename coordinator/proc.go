package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/xiaden/nomarr-sub002/errors"
)

// maxResponseLine bounds a single analyzer response. Tag vectors for a full
// album stay well under this.
const maxResponseLine = 16 * 1024 * 1024

// ProcConfig configures a subprocess-backed analyzer.
type ProcConfig struct {
	Command       string        // analyzer command line, shell-quoted
	ResourceClass string        // ledger class claimed per job
	Weight        int           // capacity units per job
	Processes     int           // warm processes kept alive between jobs
	IdleTimeout   time.Duration // recycle a warm process idle this long (0 = keep forever)
}

// ProcBackend runs analysis in long-lived child processes, one job at a
// time per process, speaking newline-delimited JSON over stdin/stdout.
//
// Model loading dominates analysis cost, so processes are reused warm across
// jobs. Isolation is the point: a segfault in native model code kills the
// child, surfaces as ErrWorkerCrashed, and never touches the daemon or other
// in-flight jobs.
type ProcBackend struct {
	name   string
	cfg    ProcConfig
	argv   []string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	idle   []*analyzerProc
	closed bool

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// procRequest is one job sent to an analyzer process.
type procRequest struct {
	ID      string          `json:"id"`
	Target  string          `json:"target"`
	Options json.RawMessage `json:"options,omitempty"`
}

// procResponse is the analyzer's reply.
type procResponse struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// analyzerProc is one live child process.
type analyzerProc struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	reader   *bufio.Reader
	lastUsed time.Time
}

// NewProcBackend creates a subprocess backend for one category.
func NewProcBackend(name string, cfg ProcConfig, logger *zap.SugaredLogger) (*ProcBackend, error) {
	argv, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid analyzer command for backend %s", name)
	}
	if len(argv) == 0 {
		return nil, errors.Newf("empty analyzer command for backend %s", name)
	}
	if cfg.Processes < 1 {
		cfg.Processes = 1
	}

	b := &ProcBackend{
		name:        name,
		cfg:         cfg,
		argv:        argv,
		logger:      logger.Named("analyzer").With("backend", name),
		janitorStop: make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		go b.janitor()
	}
	return b, nil
}

func (b *ProcBackend) Name() string          { return b.name }
func (b *ProcBackend) ResourceClass() string { return b.cfg.ResourceClass }

func (b *ProcBackend) Weight() int {
	if b.cfg.Weight < 1 {
		return 1
	}
	return b.cfg.Weight
}

// Process sends one job to a warm analyzer process and waits for its reply.
func (b *ProcBackend) Process(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
	proc, err := b.checkout()
	if err != nil {
		return nil, err
	}

	req := procRequest{
		ID:      uuid.NewString(),
		Target:  target,
		Options: options,
	}

	resp, err := b.roundTrip(ctx, proc, &req)
	if err != nil {
		// The process is in an unknown state - dead, wedged, or mid-write.
		// Destroy it; the next job gets a fresh one.
		b.destroy(proc)
		return nil, err
	}

	b.checkin(proc)

	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "analyzer reported failure without a message"
		}
		return nil, errors.Newf("analyzer error: %s", msg)
	}
	return resp.Result, nil
}

// roundTrip writes the request and reads exactly one response line.
func (b *ProcBackend) roundTrip(ctx context.Context, proc *analyzerProc, req *procRequest) (*procResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal analyzer request")
	}
	payload = append(payload, '\n')

	if _, err := proc.stdin.Write(payload); err != nil {
		return nil, errors.Wrapf(errors.ErrWorkerCrashed, "analyzer process rejected request: %v", err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	readCh := make(chan readResult, 1)
	go func() {
		line, err := proc.reader.ReadBytes('\n')
		readCh <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		// Shutdown path. Nobody will read the reply; the caller destroys
		// the process so it cannot linger past the daemon.
		return nil, ctx.Err()
	case r := <-readCh:
		if r.err != nil {
			return nil, errors.Wrapf(errors.ErrWorkerCrashed, "analyzer process died mid-job: %v", r.err)
		}
		var resp procResponse
		if err := json.Unmarshal(r.line, &resp); err != nil {
			return nil, errors.Wrapf(errors.ErrWorkerCrashed, "analyzer produced garbage: %v", err)
		}
		if resp.ID != req.ID {
			return nil, errors.Wrapf(errors.ErrWorkerCrashed,
				"analyzer answered job %s while processing %s", resp.ID, req.ID)
		}
		return &resp, nil
	}
}

// checkout returns a warm idle process or spawns a fresh one.
func (b *ProcBackend) checkout() (*analyzerProc, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.ErrEngineClosed
	}
	if n := len(b.idle); n > 0 {
		proc := b.idle[n-1]
		b.idle = b.idle[:n-1]
		b.mu.Unlock()
		return proc, nil
	}
	b.mu.Unlock()

	return b.spawn()
}

// checkin returns a process to the warm pool, recycling extras beyond the
// configured count.
func (b *ProcBackend) checkin(proc *analyzerProc) {
	proc.lastUsed = time.Now()

	b.mu.Lock()
	if b.closed || len(b.idle) >= b.cfg.Processes {
		b.mu.Unlock()
		b.destroy(proc)
		return
	}
	b.idle = append(b.idle, proc)
	b.mu.Unlock()
}

// spawn starts a new analyzer process.
func (b *ProcBackend) spawn() (*analyzerProc, error) {
	cmd := exec.Command(b.argv[0], b.argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open analyzer stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open analyzer stdout")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start analyzer %q", b.argv[0])
	}

	b.logger.Infow("Analyzer process started", "pid", cmd.Process.Pid)

	return &analyzerProc{
		cmd:      cmd,
		stdin:    stdin,
		reader:   bufio.NewReaderSize(stdout, maxResponseLine),
		lastUsed: time.Now(),
	}, nil
}

// destroy kills a process and reaps it.
func (b *ProcBackend) destroy(proc *analyzerProc) {
	proc.stdin.Close()
	if proc.cmd.Process != nil {
		proc.cmd.Process.Kill()
	}
	// Reap in the background; Wait can block until the child notices the
	// closed pipe.
	go proc.cmd.Wait()
}

// janitor recycles warm processes that have sat idle past the timeout.
func (b *ProcBackend) janitor() {
	interval := b.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.janitorStop:
			return
		case <-ticker.C:
			b.reapIdle()
		}
	}
}

func (b *ProcBackend) reapIdle() {
	cutoff := time.Now().Add(-b.cfg.IdleTimeout)

	b.mu.Lock()
	var keep, expired []*analyzerProc
	for _, proc := range b.idle {
		if proc.lastUsed.Before(cutoff) {
			expired = append(expired, proc)
		} else {
			keep = append(keep, proc)
		}
	}
	b.idle = keep
	b.mu.Unlock()

	for _, proc := range expired {
		b.logger.Debugw("Recycling idle analyzer process", "pid", proc.cmd.Process.Pid)
		b.destroy(proc)
	}
}

// Close kills all warm processes and stops the janitor. In-flight jobs keep
// their checked-out process until they finish.
func (b *ProcBackend) Close() {
	b.janitorOnce.Do(func() { close(b.janitorStop) })

	b.mu.Lock()
	procs := b.idle
	b.idle = nil
	b.closed = true
	b.mu.Unlock()

	for _, proc := range procs {
		b.destroy(proc)
	}
}
