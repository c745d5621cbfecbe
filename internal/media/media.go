// Package media wraps yt-dlp for metadata lookup and direct-URL extraction.
// The binary is invoked with -J so all parsing happens on our side; no files
// are downloaded through this service.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBinary = "yt-dlp"

// UnavailableError signals that the yt-dlp binary is not installed.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("yt-dlp is not available: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// TimeoutError signals that extraction exceeded the configured deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("yt-dlp timed out after %s", e.Timeout)
}

// ExtractionError carries the failure reported by yt-dlp itself.
type ExtractionError struct {
	Detail string
}

func (e *ExtractionError) Error() string {
	return "extraction failed: " + e.Detail
}

// Extractor shells out to yt-dlp with a per-call timeout.
type Extractor struct {
	binary  string
	timeout time.Duration
}

// NewExtractor returns an Extractor with the given per-call timeout.
// An empty binary falls back to "yt-dlp" on PATH.
func NewExtractor(binary string, timeout time.Duration) *Extractor {
	if binary == "" {
		binary = defaultBinary
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Extractor{binary: binary, timeout: timeout}
}

// IsAvailable reports whether the yt-dlp binary can be found.
func (x *Extractor) IsAvailable() bool {
	_, err := exec.LookPath(x.binary)
	return err == nil
}

// Info holds the subset of yt-dlp metadata exposed to clients.
type Info struct {
	Title       string  `json:"title"`
	Duration    float64 `json:"duration,omitempty"`
	Uploader    string  `json:"uploader,omitempty"`
	ViewCount   int64   `json:"view_count,omitempty"`
	UploadDate  string  `json:"upload_date,omitempty"`
	Description string  `json:"description,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Platform    string  `json:"platform"`
}

// Result is the outcome of an Extract call: a direct media URL plus enough
// context for the client to name and play the file.
type Result struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Ext       string `json:"ext"`
	Quality   string `json:"quality"`
	Format    string `json:"format"`
	Platform  string `json:"platform"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type ytdlpFormat struct {
	URL            string  `json:"url"`
	Ext            string  `json:"ext"`
	FormatNote     string  `json:"format_note"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         int     `json:"height"`
	ABR            float64 `json:"abr"`
}

type ytdlpInfo struct {
	Title       string        `json:"title"`
	Duration    float64       `json:"duration"`
	Uploader    string        `json:"uploader"`
	ViewCount   int64         `json:"view_count"`
	UploadDate  string        `json:"upload_date"`
	Description string        `json:"description"`
	Thumbnail   string        `json:"thumbnail"`
	Ext         string        `json:"ext"`
	URL         string        `json:"url"`
	Formats     []ytdlpFormat `json:"formats"`
	Entries     []ytdlpInfo   `json:"entries"`
}

// Info fetches metadata for the given URL without choosing a format.
func (x *Extractor) Info(ctx context.Context, rawURL string) (*Info, error) {
	raw, err := x.dump(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return &Info{
		Title:       raw.Title,
		Duration:    raw.Duration,
		Uploader:    raw.Uploader,
		ViewCount:   raw.ViewCount,
		UploadDate:  raw.UploadDate,
		Description: truncate(raw.Description, 500),
		Thumbnail:   raw.Thumbnail,
		Platform:    DetectPlatform(rawURL),
	}, nil
}

// Extract resolves a direct media URL for the requested quality and format.
// quality is one of "high", "medium", "low"; format is "mp4" or "mp3".
func (x *Extractor) Extract(ctx context.Context, rawURL, quality, format string) (*Result, error) {
	raw, err := x.dump(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	f, err := chooseFormat(raw, quality, format)
	if err != nil {
		return nil, err
	}
	return &Result{
		Title:     raw.Title,
		URL:       f.URL,
		Ext:       f.Ext,
		Quality:   quality,
		Format:    format,
		Platform:  DetectPlatform(rawURL),
		Thumbnail: raw.Thumbnail,
	}, nil
}

// dump runs yt-dlp -J and unwraps playlist results down to the first entry.
func (x *Extractor) dump(ctx context.Context, rawURL string) (*ytdlpInfo, error) {
	if _, err := exec.LookPath(x.binary); err != nil {
		return nil, &UnavailableError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, x.binary, "-J", "--no-warnings", "--", rawURL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Timeout: x.timeout}
	}
	if err != nil {
		return nil, &ExtractionError{Detail: stderrSnippet(stderr.String())}
	}
	log.Debug().Str("url", rawURL).Dur("duration", time.Since(start)).Msg("yt-dlp dump complete")

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, &ExtractionError{Detail: "unparseable yt-dlp output: " + err.Error()}
	}
	if len(info.Entries) > 0 {
		first := info.Entries[0]
		if first.Title == "" {
			first.Title = info.Title
		}
		return &first, nil
	}
	return &info, nil
}

// chooseFormat picks a direct URL out of the dump. For mp3 it prefers
// audio-only streams; for mp4 it prefers progressive streams (audio and
// video muxed) within the quality's height cap, falling back to the last
// format carrying a URL.
func chooseFormat(info *ytdlpInfo, quality, format string) (*ytdlpFormat, error) {
	if len(info.Formats) == 0 {
		if info.URL != "" {
			return &ytdlpFormat{URL: info.URL, Ext: info.Ext}, nil
		}
		return nil, &ExtractionError{Detail: "no downloadable formats found"}
	}

	if format == "mp3" {
		var best *ytdlpFormat
		for i := range info.Formats {
			f := &info.Formats[i]
			if f.URL == "" || f.ACodec == "none" || f.ACodec == "" {
				continue
			}
			if f.VCodec != "none" && f.VCodec != "" {
				continue
			}
			if best == nil || f.ABR > best.ABR {
				best = f
			}
		}
		if best != nil {
			return best, nil
		}
		// no audio-only stream; fall through to the generic pick
	}

	maxHeight := heightCap(quality)
	var fallback *ytdlpFormat
	for i := range info.Formats {
		f := &info.Formats[i]
		if f.URL == "" {
			continue
		}
		fallback = f
		progressive := f.VCodec != "none" && f.VCodec != "" && f.ACodec != "none" && f.ACodec != ""
		if progressive && f.Ext == "mp4" && (f.Height == 0 || f.Height <= maxHeight) {
			return f, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, &ExtractionError{Detail: "no downloadable formats found"}
}

func heightCap(quality string) int {
	switch quality {
	case "low":
		return 360
	case "medium":
		return 720
	default:
		return 1080
	}
}

// platformHosts maps a hostname fragment to the platform label clients see.
// Ordering matters only for hosts that embed other hosts' names; none do.
var platformHosts = map[string]string{
	"youtube.com":     "youtube",
	"youtu.be":        "youtube",
	"instagram.com":   "instagram",
	"facebook.com":    "facebook",
	"fb.watch":        "facebook",
	"twitter.com":     "twitter",
	"x.com":           "twitter",
	"tiktok.com":      "tiktok",
	"linkedin.com":    "linkedin",
	"pinterest.com":   "pinterest",
	"pin.it":          "pinterest",
	"reddit.com":      "reddit",
	"vimeo.com":       "vimeo",
	"dailymotion.com": "dailymotion",
}

// Platforms lists the platform labels with dedicated detection, for the
// discovery endpoint. "generic" covers everything else yt-dlp supports.
func Platforms() []string {
	return []string{
		"youtube", "instagram", "facebook", "twitter", "tiktok",
		"linkedin", "pinterest", "reddit", "vimeo", "dailymotion", "generic",
	}
}

// DetectPlatform returns the platform label for a URL based on its host.
func DetectPlatform(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "generic"
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for suffix, name := range platformHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return name
		}
	}
	return "generic"
}

func stderrSnippet(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown error"
	}
	lines := strings.Split(s, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	return truncate(last, 300)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
