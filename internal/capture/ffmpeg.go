package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// FFmpeg builds and runs capture subprocesses. Recording commands are
// returned unstarted so the session registry can own launch and lifetime;
// snapshots run synchronously here.
type FFmpeg struct {
	Bin       string // ffmpeg binary, default "ffmpeg"
	MediaRoot string // root for recordings (video/) and snapshots (image/)
	Transport string // RTSP transport, default "tcp"
}

func (f *FFmpeg) bin() string {
	if f.Bin == "" {
		return "ffmpeg"
	}
	return f.Bin
}

func (f *FFmpeg) transport() string {
	if f.Transport == "" {
		return "tcp"
	}
	return f.Transport
}

// Available reports whether the configured binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.bin())
	return err == nil
}

// outputName joins name and trace id into a stable artifact basename.
func outputName(name, traceID string) string {
	if traceID == "" {
		return name
	}
	return name + "_" + traceID
}

// RecordCommand builds the detached recording subprocess for source,
// writing to <root>/video/<name>/<name>_<traceID>.mp4. The stream is
// remuxed, not transcoded; the returned command has not been started.
func (f *FFmpeg) RecordCommand(name, source, traceID string) (*exec.Cmd, string, error) {
	dir := filepath.Join(f.MediaRoot, "video", name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", err
	}
	target := filepath.Join(dir, outputName(name, traceID)+".mp4")

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-rtsp_transport", f.transport(),
		"-i", source,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", target,
	}
	// #nosec G204 -- name/traceID are validated upstream, source is operator-supplied
	return exec.Command(f.bin(), args...), target, nil
}

// Snapshot grabs a single frame from source into
// <root>/image/<name>/<name>_<traceID>.jpg, blocking up to timeout for the
// connection and the frame. On failure the partially written target is
// removed and a CaptureError carrying ffmpeg's diagnostics is returned.
func (f *FFmpeg) Snapshot(ctx context.Context, name, source, traceID string, timeout time.Duration) (string, error) {
	dir := filepath.Join(f.MediaRoot, "image", name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	target := filepath.Join(dir, outputName(name, traceID)+".jpg")

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-rtsp_transport", f.transport(),
		// socket timeout is in microseconds
		"-timeout", strconv.FormatInt(timeout.Microseconds(), 10),
		"-i", source,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", target,
	}
	// #nosec G204
	cmd := exec.CommandContext(ctx, f.bin(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(target) // a partial frame is not a valid snapshot
		if ctx.Err() == context.DeadlineExceeded {
			return "", &CaptureError{Name: name, Output: tail(out), Err: fmt.Errorf("timed out after %s", timeout)}
		}
		return "", &CaptureError{Name: name, Output: tail(out), Err: err}
	}
	return target, nil
}

// tail keeps the last chunk of subprocess output for error reporting.
func tail(b []byte) string {
	const max = 2048
	if len(b) > max {
		b = b[len(b)-max:]
	}
	return string(b)
}
