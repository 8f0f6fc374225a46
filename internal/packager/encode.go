package packager

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// encodeMP4 muxes a sequence of already-resized JPEG frames into an MP4 at
// exactly outputFPS, by piping them into ffmpeg as an image2pipe input.
// ffmpeg is looked up on PATH; a missing binary is an EncodeError, matching
// the "recoverable, current batch is dropped" failure semantics of §4.C.
func encodeMP4(ffmpegPath string, frames [][]byte, outputFPS float64, outPath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}

	cmd := exec.Command(resolved,
		"-y",
		"-f", "image2pipe",
		"-framerate", fmt.Sprintf("%g", outputFPS),
		"-i", "-",
		"-r", fmt.Sprintf("%g", outputFPS),
		"-pix_fmt", "yuv420p",
		"-vcodec", "libx264",
		outPath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go logStderr(stderr, logger)

	writeErr := writeFrames(stdin, frames)
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exited with error: %w", err)
	}
	if writeErr != nil {
		return fmt.Errorf("write frames to ffmpeg: %w", writeErr)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	return nil
}

func writeFrames(w io.Writer, frames [][]byte) error {
	bw := bufio.NewWriter(w)
	for _, f := range frames {
		if _, err := bw.Write(f); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func logStderr(stderr io.Reader, logger *slog.Logger) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(strings.ToLower(line), "error") {
			logger.Warn("ffmpeg", "line", line)
		} else {
			logger.Debug("ffmpeg", "line", line)
		}
	}
}
