package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DocumentConverter converts office-document formats via an external headless
// process. Implementations surface UnavailableError, TimeoutError or Error so
// callers can map failures without knowing the mechanism.
type DocumentConverter interface {
	IsAvailable() bool
	Convert(ctx context.Context, inputPath, outDir, target string) (string, error)
}

// LibreOffice converts documents by invoking a headless LibreOffice process
// per call, with a bounded timeout and a cap on concurrent invocations.
type LibreOffice struct {
	binary    string
	timeout   time.Duration
	semaphore chan struct{}
}

// NewLibreOffice creates a converter. The binary is resolved lazily so a host
// without LibreOffice can still serve the non-office endpoints.
func NewLibreOffice(timeout time.Duration, maxWorkers int) *LibreOffice {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &LibreOffice{
		timeout:   timeout,
		semaphore: make(chan struct{}, maxWorkers),
	}
}

// lookup resolves the soffice binary, preferring the dedicated wrapper name.
func (l *LibreOffice) lookup() (string, error) {
	if l.binary != "" {
		return exec.LookPath(l.binary)
	}
	for _, name := range []string{"soffice", "libreoffice"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New("soffice/libreoffice not found in PATH")
}

// IsAvailable checks whether the conversion binary is installed.
func (l *LibreOffice) IsAvailable() bool {
	_, err := l.lookup()
	return err == nil
}

// Version reports the installed LibreOffice version, for the startup self-test.
func (l *LibreOffice) Version() (string, error) {
	bin, err := l.lookup()
	if err != nil {
		return "", &UnavailableError{Tool: "libreoffice", Err: err}
	}
	out, err := exec.Command(bin, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("libreoffice --version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Convert runs the document through LibreOffice into the given target format
// ("pdf", "docx") and returns the produced file path inside outDir. The output
// file, like everything else in outDir, belongs to the calling request scope.
func (l *LibreOffice) Convert(ctx context.Context, inputPath, outDir, target string) (string, error) {
	bin, err := l.lookup()
	if err != nil {
		return "", &UnavailableError{Tool: "libreoffice", Err: err}
	}

	// Cap concurrent invocations; each one is a whole office process. A
	// caller whose context dies while queued gives up its place instead of
	// holding a worker slot for a response nobody is waiting on.
	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return "", &Error{Stage: "office", Err: ctx.Err()}
	}
	defer func() { <-l.semaphore }()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	// A unique profile dir per invocation keeps parallel conversions from
	// fighting over the user installation lock.
	profileDir := filepath.Join(outDir, "lo_profile_"+uuid.NewString())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", &Error{Stage: "office", Err: fmt.Errorf("create profile dir: %w", err)}
	}
	defer os.RemoveAll(profileDir)

	cmd := exec.CommandContext(ctx, bin,
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", target,
		"--outdir", outDir,
		inputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("libreoffice command")

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", &TimeoutError{Tool: "libreoffice", Timeout: l.timeout}
	}
	if runErr != nil {
		return "", &Error{Stage: "office", Err: fmt.Errorf("%w: %s", runErr, strings.TrimSpace(stderr.String()))}
	}

	// LibreOffice names the output after the input.
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	outputPath := filepath.Join(outDir, stem+"."+strings.TrimPrefix(target, "."))
	if _, err := os.Stat(outputPath); err != nil {
		return "", &Error{Stage: "office", Err: fmt.Errorf("no output produced: %s", strings.TrimSpace(stderr.String()))}
	}

	log.Info().Str("input", base).Str("target", target).Dur("duration", time.Since(start)).Msg("office conversion done")
	return outputPath, nil
}
