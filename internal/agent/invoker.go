// Package agent invokes the external coding-agent CLI as a subprocess.
//
// The agent is an opaque black box: this package only manages process
// lifecycle — spawning, incremental output streaming, timeouts and
// cancellation — and reports every outcome as an Invocation value.
// Invoke never returns a Go error; missing binaries, spawn failures,
// timeouts and non-zero exits all surface as failed invocations.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// scanBufSize accommodates long single-line JSON output from the agent.
const scanBufSize = 1024 * 1024

// Spec describes one agent invocation.
type Spec struct {
	Prompt      string
	Dir         string        // working directory for the agent
	AutoApprove bool          // -y: headless auto-approve mode
	JSONOutput  bool          // --json: structured line-delimited output
	PlanMode    bool          // -p: plan before acting
	Model       string        // -m: model override
	Timeout     time.Duration // wall-clock limit from spawn; 0 uses the default
	Stdin       string        // piped input, e.g. a diff for review
	Env         map[string]string
	OnOutput    func(line string) // per-line stdout callback, best-effort
}

// Invoker runs agent processes under a global concurrency limit and
// keeps a registry of in-flight invocations for cancellation.
type Invoker struct {
	binary         string
	defaultTimeout time.Duration
	sem            *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*exec.Cmd
}

// New creates an Invoker for the given agent binary. At most
// maxConcurrent agent processes run at once; callers past the limit
// block in Invoke until a permit frees up.
func New(binary string, maxConcurrent int, defaultTimeout time.Duration) *Invoker {
	if binary == "" {
		binary = "cline"
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Minute
	}
	return &Invoker{
		binary:         binary,
		defaultTimeout: defaultTimeout,
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		active:         make(map[string]*exec.Cmd),
	}
}

// Invoke runs a single agent invocation, blocking until the process
// exits, times out, or is canceled. The returned invocation is
// immutable and always non-nil.
func (iv *Invoker) Invoke(ctx context.Context, spec Spec) *domain.Invocation {
	inv := &domain.Invocation{ID: newInvocationID()}
	start := time.Now()
	defer func() { inv.Duration = time.Since(start) }()

	if err := iv.sem.Acquire(ctx, 1); err != nil {
		inv.Success = false
		inv.ExitCode = 1
		inv.Error = fmt.Sprintf("invocation canceled before start: %v", err)
		return inv
	}
	defer iv.sem.Release(1)

	iv.run(ctx, spec, inv)
	return inv
}

// Cancel force-kills the in-flight invocation with the given id.
// Canceling an unknown id is a no-op returning false.
func (iv *Invoker) Cancel(id string) bool {
	iv.mu.Lock()
	cmd, ok := iv.active[id]
	iv.mu.Unlock()
	if !ok || cmd.Process == nil {
		return false
	}
	killTree(cmd)
	return true
}

// CancelAll force-kills every in-flight invocation.
func (iv *Invoker) CancelAll() {
	iv.mu.Lock()
	ids := make([]string, 0, len(iv.active))
	for id := range iv.active {
		ids = append(ids, id)
	}
	iv.mu.Unlock()
	for _, id := range ids {
		iv.Cancel(id)
	}
}

// ActiveCount returns the number of in-flight invocations.
func (iv *Invoker) ActiveCount() int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return len(iv.active)
}

func (iv *Invoker) run(ctx context.Context, spec Spec, inv *domain.Invocation) {
	log := clog.FromContext(ctx).With("invocation_id", inv.ID)

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = iv.defaultTimeout
	}

	cmd := exec.Command(iv.binary, buildArgs(spec)...)
	// Own process group: killing it reaches children that inherited the
	// output pipes, so a kill always unblocks the drain goroutines.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		failSpawn(inv, fmt.Sprintf("stdout pipe: %v", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		failSpawn(inv, fmt.Sprintf("stderr pipe: %v", err))
		return
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			inv.ExitCode = 127
			inv.Error = fmt.Sprintf("agent binary not found (%q): install it or set agent.binary in config.toml", iv.binary)
		} else {
			inv.ExitCode = 1
			inv.Error = fmt.Sprintf("spawning %s: %v", iv.binary, err)
		}
		inv.Success = false
		return
	}

	iv.mu.Lock()
	iv.active[inv.ID] = cmd
	iv.mu.Unlock()
	defer func() {
		iv.mu.Lock()
		delete(iv.active, inv.ID)
		iv.mu.Unlock()
	}()

	// Per-line callback runs on its own goroutine; a slow or lagging
	// consumer drops lines rather than stalling output collection.
	var cbCh chan string
	var cbDone chan struct{}
	if spec.OnOutput != nil {
		cbCh = make(chan string, 256)
		cbDone = make(chan struct{})
		go func() {
			defer close(cbDone)
			for line := range cbCh {
				callOutput(spec.OnOutput, line)
			}
		}()
	}

	// Drain stdout and stderr concurrently so a stalled agent can never
	// deadlock on a full pipe.
	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		drainLines(stdout, &outBuf, cbCh)
	}()
	go func() {
		defer wg.Done()
		drainLines(stderr, &errBuf, nil)
	}()

	// Wall-clock timeout from spawn time; expiry force-kills and the
	// Wait below reclaims the process.
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		killTree(cmd)
	})
	stop := context.AfterFunc(ctx, func() {
		killTree(cmd)
	})

	wg.Wait()
	waitErr := cmd.Wait()
	timer.Stop()
	stop()
	if cbCh != nil {
		close(cbCh)
		<-cbDone
	}

	inv.Stdout = outBuf.String()
	inv.Stderr = errBuf.String()
	inv.ExitCode = cmd.ProcessState.ExitCode()

	switch {
	case timedOut.Load():
		inv.Error = fmt.Sprintf("timed out after %s", timeout)
	case ctx.Err() != nil:
		inv.Error = fmt.Sprintf("canceled: %v", ctx.Err())
	case waitErr != nil && inv.ExitCode < 0:
		inv.Error = fmt.Sprintf("agent process killed: %v", waitErr)
	case waitErr != nil && inv.ExitCode == 0:
		inv.Error = fmt.Sprintf("agent process: %v", waitErr)
	}
	inv.Success = inv.ExitCode == 0 && inv.Error == ""

	if spec.JSONOutput && inv.Stdout != "" {
		inv.Messages = domain.ParseMessages(inv.Stdout)
	}

	log.With("exit_code", inv.ExitCode).
		With("success", inv.Success).
		Debug("agent invocation finished")
}

// buildArgs maps an invocation Spec onto the agent CLI's documented flags.
func buildArgs(spec Spec) []string {
	var args []string
	if spec.AutoApprove {
		args = append(args, "-y")
	}
	if spec.JSONOutput {
		args = append(args, "--json")
	}
	if spec.PlanMode {
		args = append(args, "-p")
	}
	if spec.Dir != "" {
		args = append(args, "-c", spec.Dir)
	}
	if spec.Model != "" {
		args = append(args, "-m", spec.Model)
	}
	if spec.Timeout > 0 {
		args = append(args, "--timeout", strconv.Itoa(int(spec.Timeout.Seconds())))
	}
	return append(args, spec.Prompt)
}

func drainLines(r io.Reader, buf *strings.Builder, cbCh chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufSize)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if cbCh != nil {
			select {
			case cbCh <- line:
			default:
			}
		}
	}
}

// killTree force-kills the agent's entire process group. Killing only
// the direct process would leave children holding the pipe write ends,
// stalling collection until they exit on their own.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

func callOutput(cb func(string), line string) {
	defer func() { _ = recover() }()
	cb(line)
}

func failSpawn(inv *domain.Invocation, msg string) {
	inv.Success = false
	inv.ExitCode = 1
	inv.Error = msg
}

func newInvocationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
