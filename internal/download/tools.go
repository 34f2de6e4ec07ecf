package download

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ProgressFunc receives a completion percentage in [0, 100].
type ProgressFunc func(percent float64)

// Media is the file left by the downloader.
type Media struct {
	Path  string
	Title string
}

// Fetcher downloads the job source into dir.
type Fetcher interface {
	Fetch(ctx context.Context, job Job, dir string, progress ProgressFunc) (Media, error)
}

// Transcoder converts src into an mp3 at dst.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string, progress ProgressFunc) error
}

const (
	mediaBaseName = "media"
	titleFileName = "title.txt"
	stderrTailMax = 2048
)

var (
	downloadPercentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)
	ffmpegDurationPattern  = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	ffmpegTimePattern      = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// YTDLP runs yt-dlp.
type YTDLP struct {
	Path      string
	MaxHeight int
	logger    *slog.Logger
}

func NewYTDLP(log *slog.Logger, path string, maxHeight int) *YTDLP {
	if log == nil {
		log = slog.Default()
	}
	if maxHeight <= 0 {
		maxHeight = 720
	}
	return &YTDLP{Path: path, MaxHeight: maxHeight, logger: log.With(slog.String("tool", "yt-dlp"))}
}

func (y *YTDLP) args(job Job, dir string) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--progress",
		"--no-simulate",
		"--print-to-file", "%(title)s", filepath.Join(dir, titleFileName),
		"-o", filepath.Join(dir, mediaBaseName+".%(ext)s"),
	}
	if job.Kind == KindAudio {
		args = append(args, "-f", "bestaudio/best")
	} else {
		h := strconv.Itoa(y.MaxHeight)
		args = append(args,
			"-f", "bestvideo[height<="+h+"][ext=mp4]+bestaudio[ext=m4a]/best[height<="+h+"][ext=mp4]/best[height<="+h+"]",
			"--merge-output-format", "mp4",
		)
	}
	return append(args, job.SourceURL)
}

func (y *YTDLP) Fetch(ctx context.Context, job Job, dir string, progress ProgressFunc) (Media, error) {
	err := runTool(ctx, y.Path, y.args(job, dir), func(line string) {
		if !strings.Contains(line, "[download]") {
			return
		}
		if pct, ok := ParseDownloadProgress(line); ok && progress != nil {
			progress(pct)
		}
	})
	if err != nil {
		return Media{}, stageError(StageFetch, err)
	}
	path, err := locateMedia(dir)
	if err != nil {
		return Media{}, stageError(StageLocate, err)
	}
	title := ""
	if raw, err := os.ReadFile(filepath.Join(dir, titleFileName)); err == nil {
		title = strings.TrimSpace(strings.SplitN(string(raw), "\n", 2)[0])
	}
	return Media{Path: path, Title: title}, nil
}

// locateMedia returns the largest finished media file in dir.
func locateMedia(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, mediaBaseName+".*"))
	if err != nil {
		return "", err
	}
	best := ""
	var bestSize int64 = -1
	for _, match := range matches {
		switch strings.ToLower(filepath.Ext(match)) {
		case ".part", ".ytdl", ".tmp", ".txt":
			continue
		}
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() > bestSize {
			best, bestSize = match, info.Size()
		}
	}
	if best == "" {
		return "", ErrNoOutput
	}
	return best, nil
}

// FFmpeg runs ffmpeg.
type FFmpeg struct {
	Path   string
	logger *slog.Logger
}

func NewFFmpeg(log *slog.Logger, path string) *FFmpeg {
	if log == nil {
		log = slog.Default()
	}
	return &FFmpeg{Path: path, logger: log.With(slog.String("tool", "ffmpeg"))}
}

func (f *FFmpeg) Transcode(ctx context.Context, src, dst string, progress ProgressFunc) error {
	args := []string{"-hide_banner", "-y", "-i", src, "-vn", "-codec:a", "libmp3lame", "-b:a", "192k", dst}
	tracker := &ffmpegProgress{}
	err := runTool(ctx, f.Path, args, func(line string) {
		if pct, ok := tracker.Feed(line); ok && progress != nil {
			progress(pct)
		}
	})
	if err != nil {
		return stageError(StageTranscode, err)
	}
	if _, err := os.Stat(dst); err != nil {
		return stageError(StageTranscode, ErrNoOutput)
	}
	return nil
}

// ParseDownloadProgress extracts the percentage from one yt-dlp progress line.
func ParseDownloadProgress(line string) (float64, bool) {
	m := downloadPercentPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// ffmpegProgress turns the Duration header and time= markers into a percentage.
type ffmpegProgress struct {
	total float64
}

func (p *ffmpegProgress) Feed(line string) (float64, bool) {
	if p.total <= 0 {
		if m := ffmpegDurationPattern.FindStringSubmatch(line); m != nil {
			p.total = clockSeconds(m[1], m[2], m[3])
		}
		return 0, false
	}
	m := ffmpegTimePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct := clockSeconds(m[1], m[2], m[3]) / p.total * 100
	return min(max(pct, 0), 100), true
}

func clockSeconds(h, m, s string) float64 {
	hours, _ := strconv.ParseFloat(h, 64)
	minutes, _ := strconv.ParseFloat(m, 64)
	seconds, _ := strconv.ParseFloat(s, 64)
	return hours*3600 + minutes*60 + seconds
}

// runTool executes path with args, feeding every stdout and stderr line to
// onLine. The process is killed when ctx is cancelled.
func runTool(ctx context.Context, path string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", filepath.Base(path), err)
	}

	tail := &tailBuffer{max: stderrTailMax}
	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		onLine(line)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, emit)
	}()
	go func() {
		defer wg.Done()
		scanLines(io.TeeReader(stderr, tail), emit)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if msg := strings.TrimSpace(tail.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(path), err, lastLine(msg))
		}
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func scanLines(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitCRLF)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			onLine(line)
		}
	}
}

// splitCRLF splits on '\n' and on the bare '\r' ffmpeg uses for progress.
func splitCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
