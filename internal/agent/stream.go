package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/p-arndt/sandkasten/protocol"
)

// handleExecStream runs the command the same way handleExec does, but
// flushes stdout/stderr as chunks arrive instead of buffering the whole
// run. A chunk is flushed at a newline or once 32 KiB have accumulated
// without one, whichever comes first.
func (s *Server) handleExecStream(w http.ResponseWriter, r *http.Request) {
	var req protocol.ExecRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = protocol.DefaultExecTimeoutMs
	}
	dir := resolvePath(req.Workdir)
	if dir == "" {
		dir = "/workspace"
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	send := func(chunk protocol.StreamChunk) {
		enc.Encode(chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}

	execCtx, cancel := context.WithTimeout(r.Context(), time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	c := exec.Command("/bin/sh", "-c", req.Cmd)
	c.Dir = dir
	c.Env = append(os.Environ(), s.sessionEnv()...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := c.StdoutPipe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stderrPipe, err := c.StderrPipe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := c.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Both pipes are pumped into a single channel drained by one writer
	// goroutine, so only that goroutine ever touches enc/flusher —
	// concurrent writes to a ResponseWriter are unsafe and would
	// interleave chunk framing on the wire.
	chunks := make(chan protocol.StreamChunk, 64)
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); pumpChannel(stdoutPipe, protocol.ChannelStdout, chunks) }()
	go func() { defer pumps.Done(); pumpChannel(stderrPipe, protocol.ChannelStderr, chunks) }()
	go func() { pumps.Wait(); close(chunks) }()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for chunk := range chunks {
			send(chunk)
		}
	}()

	// Wait closes the stdout/stderr pipes once the process exits, so it
	// must not run until both pumps have read them to EOF.
	waitDone := make(chan error, 1)
	go func() { pumps.Wait(); waitDone <- c.Wait() }()

	var timedOut bool
	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-execCtx.Done():
		timedOut = true
		killGroup(c.Process.Pid, syscall.SIGTERM)
		select {
		case waitErr = <-waitDone:
		case <-time.After(killGrace):
			killGroup(c.Process.Pid, syscall.SIGKILL)
			waitErr = <-waitDone
		}
	}

	// The exit chunk is the sole synchronization point between stdout
	// and stderr; it must not be sent until every prior chunk has been
	// written, so wait for the writer to drain the channel first.
	<-writerDone

	send(protocol.StreamChunk{Channel: protocol.ChannelExit, ExitCode: exitCodeOf(waitErr, timedOut), TimedOut: timedOut})
}

func pumpChannel(r io.Reader, channel protocol.StreamChannel, chunks chan<- protocol.StreamChunk) {
	reader := bufio.NewReaderSize(r, 32*1024)
	for {
		line, err := reader.ReadSlice('\n')
		if len(line) > 0 {
			chunks <- protocol.StreamChunk{Channel: channel, Data: string(line)}
		}
		if err != nil && err != bufio.ErrBufferFull {
			return
		}
	}
}
