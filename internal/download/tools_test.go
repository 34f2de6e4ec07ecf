package download

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDownloadProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[download]  42.3% of 10.00MiB at 1.00MiB/s ETA 00:05", 42.3, true},
		{"[download] 100% of 10.00MiB in 00:10", 100, true},
		{"[download]   0.0% of ~5MiB", 0, true},
		{"[download] Destination: media.mp4", 0, false},
		{"[download] 250% nonsense", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDownloadProgress(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseDownloadProgress(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFFmpegProgress(t *testing.T) {
	t.Parallel()

	p := &ffmpegProgress{}
	_, ok := p.Feed("size=    0kB time=00:00:01.00 bitrate=0")
	assert.False(t, ok, "time before duration is ignored")

	_, ok = p.Feed("  Duration: 00:01:40.00, start: 0.000000, bitrate: 128 kb/s")
	assert.False(t, ok)

	pct, ok := p.Feed("size=  512kB time=00:00:25.00 bitrate=128.0kbits/s")
	require.True(t, ok)
	assert.InDelta(t, 25.0, pct, 0.001)

	pct, ok = p.Feed("size= 2048kB time=00:02:00.00 bitrate=128.0kbits/s")
	require.True(t, ok)
	assert.InDelta(t, 100.0, pct, 0.001, "clamped")
}

func TestSplitCRLF(t *testing.T) {
	t.Parallel()

	scanner := bufio.NewScanner(strings.NewReader("a\rb\nc\r\nd"))
	scanner.Split(splitCRLF)
	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	assert.Equal(t, []string{"a", "b", "c", "", "d"}, got)
}

func TestLocateMediaPicksLargestFinishedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name string, size int) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
	}
	write("media.part", 1000)
	write("media.txt", 900)
	write("media.webm", 10)
	write("media.mp4", 100)
	write("other.mp4", 5000)

	got, err := locateMedia(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "media.mp4"), got)
}

func TestLocateMediaEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media.part"), []byte("x"), 0o644))
	_, err := locateMedia(dir)
	require.ErrorIs(t, err, ErrNoOutput)
}

func TestYTDLPArgs(t *testing.T) {
	t.Parallel()

	y := NewYTDLP(nil, "yt-dlp", 0)
	job := testJob("a")

	args := y.args(job, "/work")
	assert.Equal(t, job.SourceURL, args[len(args)-1])
	assert.Contains(t, args, "--merge-output-format")
	assert.Contains(t, strings.Join(args, " "), "height<=720")

	job.Kind = KindAudio
	args = y.args(job, "/work")
	assert.Contains(t, args, "bestaudio/best")
	assert.NotContains(t, args, "--merge-output-format")
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	t.Parallel()

	tail := &tailBuffer{max: 4}
	_, _ = tail.Write([]byte("abc"))
	_, _ = tail.Write([]byte("defg"))
	assert.Equal(t, "defg", tail.String())
	assert.Equal(t, "last", lastLine("first\nsecond\rlast"))
}
