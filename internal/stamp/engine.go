// Package stamp runs the compositing job engine: an ordered single-consumer
// queue drained by one worker that drives a long-lived GIMP batch process
// over stdin/stdout and pushes completion frames back through the hub.
package stamp

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/codefionn/stamphub/internal/config"
	"github.com/codefionn/stamphub/internal/logger"
	"github.com/codefionn/stamphub/internal/protocol"
	"github.com/codefionn/stamphub/internal/queue"
)

// Job is one compositing request. Receivers are fixed at submission time
// and not revalidated at delivery time; a departed receiver is a no-op. A
// nil *Job is the shutdown sentinel and is never constructed from network
// input.
type Job struct {
	Icon      string
	Offsets   []protocol.Offset
	Receivers []protocol.ClientID
}

// Deliverer pushes a frame to a client's outbox from the worker goroutine.
// Satisfied by *hub.Hub.
type Deliverer interface {
	Deliver(protocol.ClientID, protocol.Frame) bool
}

// Engine owns the job queue and the external compositing process. Exactly
// one worker consumes the queue, so the process never sees a second
// command before the first one's response is drained.
type Engine struct {
	settings  config.GimpSettings
	deliver   Deliverer
	jobs      *queue.Queue[*Job]
	icons     map[string]string
	iconPaths []string
}

// New validates the compositing settings and builds the icon lookup from
// the foreground images directory. Every directory entry must be a regular
// file whose name carries an extension; anything else is a fatal
// configuration error at startup, not at job time.
func New(settings config.GimpSettings, deliver Deliverer) (*Engine, error) {
	if !settings.Enabled {
		return nil, fmt.Errorf("compositing is disabled in settings")
	}
	if settings.OutputImgExtension == "" {
		return nil, fmt.Errorf("output image extension must not be empty")
	}

	info, err := os.Stat(settings.BackgroundImgPath)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("background image %q is not a regular file", settings.BackgroundImgPath)
	}
	if info, err := os.Stat(settings.OutputImgsDirPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("output images path %q is not a directory", settings.OutputImgsDirPath)
	}

	icons, iconPaths, err := scanIcons(settings.ForegroundImgsDirPath)
	if err != nil {
		return nil, err
	}

	return &Engine{
		settings:  settings,
		deliver:   deliver,
		jobs:      queue.New[*Job](),
		icons:     icons,
		iconPaths: iconPaths,
	}, nil
}

func scanIcons(dir string) (map[string]string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read foreground images dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	icons := make(map[string]string, len(names))
	iconPaths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, nil, fmt.Errorf("foreground images dir entry %q is not a regular file", path)
		}
		dot := strings.Index(name, ".")
		if dot < 0 {
			return nil, nil, fmt.Errorf("foreground image %q has no extension", name)
		}
		icons[name[:dot]] = path
		iconPaths = append(iconPaths, path)
	}
	return icons, iconPaths, nil
}

// ValidIcon reports whether name is a configured foreground icon.
func (e *Engine) ValidIcon(name string) bool {
	_, ok := e.icons[name]
	return ok
}

// Submit enqueues a job. Never blocks beyond queue-push time; jobs are
// processed strictly in submission order.
func (e *Engine) Submit(job *Job) {
	e.jobs.Put(job)
}

// Stop enqueues the shutdown sentinel. The worker tears the session down
// after finishing every job submitted before the sentinel.
func (e *Engine) Stop() {
	e.jobs.Put(nil)
}

// QueuedJobs returns the number of jobs waiting for the worker.
func (e *Engine) QueuedJobs() int {
	return e.jobs.Len()
}

// ClearOutputs deletes every previously generated output artifact.
func (e *Engine) ClearOutputs() error {
	entries, err := os.ReadDir(e.settings.OutputImgsDirPath)
	if err != nil {
		return fmt.Errorf("failed to read output images dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(e.settings.OutputImgsDirPath, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Run launches the GIMP process, performs the setup handshake and drains
// the job queue until the shutdown sentinel arrives. Teardown of the
// compositing environment is best-effort and also runs when the loop exits
// on an unexpected error. Run blocks for the whole server lifetime; there
// is deliberately no timeout on the handshake markers, so a misbehaving
// process stalls the worker (operators: watch the debug echo).
func (e *Engine) Run() error {
	logger.Info("connecting to gimp session...")

	// -i: no GUI, -s: no splash, -f: no fonts, -b -: interactive
	// script-fu batch session on stdin
	cmd := exec.Command("gimp", "-i", "-s", "-f", "-b", "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open gimp stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open gimp stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gimp: %w", err)
	}

	sess := newSession(stdin, stdout)

	defer func() {
		logger.Info("shutting down gimp session...")
		_ = sess.submit(teardownCommand())
		_ = sess.waitFor(promptMarker)
		_ = sess.submit(quitCommand())
		_ = stdin.Close()
		_ = cmd.Wait()
	}()

	return e.serve(sess)
}

// serve performs the setup handshake and drains the job queue until the
// shutdown sentinel arrives.
func (e *Engine) serve(sess *session) error {
	if err := sess.waitFor(promptMarker); err != nil {
		return fmt.Errorf("gimp session never became ready: %w", err)
	}
	if err := sess.submit(setupCommand(e.settings.BackgroundImgPath, e.iconPaths)); err != nil {
		return err
	}
	if err := sess.waitFor(promptMarker); err != nil {
		return fmt.Errorf("gimp environment setup failed: %w", err)
	}
	logger.Info("gimp session ready")

	for {
		job := e.jobs.Take()
		if job == nil {
			return nil
		}

		fgPath, ok := e.icons[job.Icon]
		if !ok {
			// Policy: drop rather than fail the whole worker.
			logger.Warn("dropping stamp job with unknown icon %q", job.Icon)
			continue
		}

		filename := e.outputFilename()
		outputPath := filepath.Join(e.settings.OutputImgsDirPath, filename)

		if err := sess.submit(stampCommand(fgPath, job.Offsets, outputPath)); err != nil {
			return err
		}
		if err := sess.waitFor(stampDoneMarker); err != nil {
			return fmt.Errorf("stamp command never completed: %w", err)
		}

		logger.Info("stamp complete, notifying %s: %s", joinReceivers(job.Receivers), filename)
		for _, receiver := range job.Receivers {
			e.deliver.Deliver(receiver, protocol.Stamp(filename))
		}

		if err := sess.waitFor(promptMarker); err != nil {
			return err
		}
	}
}

// outputFilename generates a globally unique artifact name from a random
// 128-bit identifier plus the configured extension.
func (e *Engine) outputFilename() string {
	id := uuid.New()
	return hex.EncodeToString(id[:]) + "." + e.settings.OutputImgExtension
}

func joinReceivers(receivers []protocol.ClientID) string {
	parts := make([]string, len(receivers))
	for i, r := range receivers {
		parts[i] = fmt.Sprintf("%d", r)
	}
	return strings.Join(parts, ",")
}
