package review

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"podiumgo/internal/client"
	"podiumgo/internal/media"
)

// Renderer produces preview images for a local file keyed by page number.
type Renderer interface {
	Render(ctx context.Context, path string) (map[int][]byte, error)
}

// ExecRenderer renders PDF pages with pdftoppm and the first video frame
// with ffmpeg. Audio files have no thumbnails.
type ExecRenderer struct {
	PDFToPPM string
	FFmpeg   media.ExecRunner
	MaxPages int
}

func (r ExecRenderer) Render(ctx context.Context, path string) (map[int][]byte, error) {
	dir, err := os.MkdirTemp("", "podium-thumbs-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	switch kindOf(path) {
	case client.KindDeck:
		return r.renderPDF(ctx, path, dir)
	case client.KindRecording:
		if !isVideo(path) {
			return nil, nil
		}
		out := filepath.Join(dir, "frame.png")
		if err := r.FFmpeg.Run(ctx, "-y", "-ss", "1", "-i", path, "-frames:v", "1", "-vf", "scale=320:-1", out); err != nil {
			return nil, fmt.Errorf("render video frame: %w", err)
		}
		img, err := os.ReadFile(out)
		if err != nil {
			return nil, err
		}
		return map[int][]byte{1: img}, nil
	}
	return nil, nil
}

func (r ExecRenderer) renderPDF(ctx context.Context, path, dir string) (map[int][]byte, error) {
	bin := r.PDFToPPM
	if bin == "" {
		bin = "pdftoppm"
	}
	last := r.MaxPages
	if last <= 0 {
		last = media.MaxPages
	}
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, bin, "-png", "-r", "40", "-f", "1", "-l", strconv.Itoa(last), path, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	thumbs := make(map[int][]byte, len(entries))
	for _, e := range entries {
		// page-01.png, page-1.png depending on page count
		name := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "page-"), ".png")
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		img, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		thumbs[n] = img
	}
	return thumbs, nil
}
