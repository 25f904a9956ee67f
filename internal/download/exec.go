package download

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
)

// Scanner buffer bounds; tool output lines can get long when a stack
// trace is printed on one line.
const (
	scanBufferInitial = 64 * 1024
	scanBufferMax     = 1024 * 1024
)

// commandRunner executes a tool in dir and streams its merged
// stdout/stderr line by line into onLine. It returns the exit code; a
// non-zero exit is not an error here, failing to run the tool is.
type commandRunner func(ctx context.Context, dir, name string, args []string, onLine func(string)) (int, error)

// runCommand is the production runner.
func runCommand(ctx context.Context, dir, name string, args []string, onLine func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	pr, pw, err := os.Pipe()
	if err != nil {
		return -1, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return -1, err
	}
	// The child holds its own copies of the write end.
	pw.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, scanBufferInitial), scanBufferMax)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// outputRunner executes a tool and captures its stdout, for the JSON
// probes that want a payload instead of a stream.
type outputRunner func(ctx context.Context, name string, args []string) ([]byte, error)

// commandOutput is the production output runner.
func commandOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}
