package transfer

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
)

// Rclone moves files by shelling out to rclone. rclone owns the cloud
// protocol and deletes the source on success, which gives the move
// semantics the sweep relies on.
type Rclone struct {
	Bin       string // default "rclone"
	Remote    string // rclone destination, e.g. "s3:recordings"
	Transfers int    // bounded parallelism, default 4
	Checkers  int    // default 8
}

func (r *Rclone) bin() string {
	if r.Bin == "" {
		return "rclone"
	}
	return r.Bin
}

// Available reports whether the rclone binary can be found.
func (r *Rclone) Available() bool {
	_, err := exec.LookPath(r.bin())
	return err == nil
}

func (r *Rclone) Move(ctx context.Context, localPath, key string) error {
	transfers := r.Transfers
	if transfers <= 0 {
		transfers = 4
	}
	checkers := r.Checkers
	if checkers <= 0 {
		checkers = 8
	}
	args := []string{
		"moveto", localPath, r.Remote + "/" + key,
		"--transfers", strconv.Itoa(transfers),
		"--checkers", strconv.Itoa(checkers),
	}
	// #nosec G204 -- localPath comes from our own directory walk
	cmd := exec.CommandContext(ctx, r.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &TransferError{Path: localPath, Output: tail(stderr.Bytes()), Err: err}
	}
	return nil
}

func tail(b []byte) string {
	const max = 2048
	if len(b) > max {
		b = b[len(b)-max:]
	}
	return string(b)
}
