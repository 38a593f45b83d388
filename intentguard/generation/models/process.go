package models

import (
	"bufio"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// listeningPattern matches the line the server prints once it accepts connections.
var listeningPattern = regexp.MustCompile(`server listening at http://127\.0\.0\.1:(\d+)`)

// processWaitDelay bounds how long Wait blocks on output held open by orphaned children.
const processWaitDelay = 5 * time.Second

// serverProcess is one launched runtime process. exited is closed once the process has
// been reaped.
type serverProcess struct {
	cmd    *exec.Cmd
	exited chan struct{}
	port   chan int
}

// startServerProcess launches cmd and starts draining both output streams. The first
// listening line found on either stream is delivered on port.
func startServerProcess(cmd *exec.Cmd, logger zerolog.Logger) (*serverProcess, error) {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = processWaitDelay
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, err
	}

	p := &serverProcess{
		cmd:    cmd,
		exited: make(chan struct{}),
		port:   make(chan int, 1),
	}

	go p.drain(stdoutR, logger.With().Str("stream", "stdout").Logger())
	go p.drain(stderrR, logger.With().Str("stream", "stderr").Logger())

	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		logger.Debug().Err(err).Int("pid", cmd.Process.Pid).Msg("runtime process reaped")
		close(p.exited)
	}()

	return p, nil
}

// drain reads r until EOF so the child never blocks on a full pipe.
func (p *serverProcess) drain(r io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug().Msg(line)
		if m := listeningPattern.FindStringSubmatch(line); m != nil {
			if port, err := strconv.Atoi(m[1]); err == nil {
				select {
				case p.port <- port:
				default:
				}
			}
		}
	}
	// Keep consuming after an oversized line so the writer never stalls.
	_, _ = io.Copy(io.Discard, r)
}

func (p *serverProcess) pid() int { return p.cmd.Process.Pid }

func (p *serverProcess) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// exitCode is valid only after exited is closed.
func (p *serverProcess) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// stop kills the process if it is still running and waits until it is reaped.
func (p *serverProcess) stop() {
	if p.alive() {
		killProcess(p.cmd)
	}
	<-p.exited
}
