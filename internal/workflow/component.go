// Package workflow drives the select, encode, upload, wait and fetch sequence
// for one image at a time and keeps the status a presenter renders.
//
// A Component owns the selected file, the workflow status and the audio
// result. Only its own methods mutate that state. Each upload attempt runs
// strictly in order: encode the file, POST it, wait the poll delay, then look
// the audio URL up once. Errors never leave the component; they become the
// status text.
package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/book-expert/image-audio/internal/client"
	"github.com/book-expert/image-audio/internal/core"
	"github.com/book-expert/image-audio/internal/encoder"
	"github.com/book-expert/image-audio/internal/media"
	"github.com/book-expert/image-audio/internal/poller"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

var (
	// ErrNoFile is returned when an upload is triggered without a selected file.
	ErrNoFile = errors.New("no file selected")
	// ErrAttemptInFlight is returned when an upload is triggered while one is running.
	ErrAttemptInFlight = errors.New("upload already in progress")
)

// Log messages.
const (
	logFileSelected    = "Selected file '%s' (%s, %d bytes)"
	logSelectionClear  = "File selection cleared"
	logAttemptCanceled = "Cancelled attempt %s for '%s' after a new selection"
	logAttemptStarted  = "Attempt %s: uploading '%s'"
	logAttemptWaiting  = "Attempt %s: upload accepted, waiting %s before audio lookup"
	logAttemptReady    = "Attempt %s: audio ready at %s"
	logAttemptFailed   = "Attempt %s for '%s' failed: %v"
	logAttemptStale    = "Attempt %s is no longer current, dropping result: %v"
)

// EncodeFunc encodes a file into the base64 upload payload.
type EncodeFunc func(ctx context.Context, file *media.File) (string, error)

// Listener receives a View after every state change. Listeners run while the
// component holds its lock and must not call back into it.
type Listener func(View)

// Component is the image uploader.
type Component struct {
	pipeline  core.Pipeline
	poller    *poller.Poller
	log       *logger.Logger
	encode    EncodeFunc
	archiver  *Archiver
	cancel    context.CancelFunc
	listeners map[uint64]Listener
	attempt   string
	state     State
	revision  uint64
	nextID    uint64
	mu        sync.Mutex
}

// Option configures a Component.
type Option func(*Component)

// WithEncoder replaces the base64 encoder.
func WithEncoder(encode EncodeFunc) Option {
	return func(c *Component) {
		c.encode = encode
	}
}

// WithArchiver stores the image and the generated audio once an attempt is ready.
func WithArchiver(archiver *Archiver) Option {
	return func(c *Component) {
		c.archiver = archiver
	}
}

// New creates an idle Component with no file selected.
func New(pipeline core.Pipeline, poll *poller.Poller, log *logger.Logger, opts ...Option) *Component {
	component := &Component{
		pipeline:  pipeline,
		poller:    poll,
		log:       log,
		encode:    encoder.Encode,
		listeners: make(map[uint64]Listener),
		state:     State{File: nil, Message: "", AudioURL: "", Status: StatusIdle},
	}

	for _, opt := range opts {
		opt(component)
	}

	return component
}

// Subscribe registers a listener and immediately sends it the current view.
// The returned function removes it.
func (c *Component) Subscribe(listener Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = listener

	listener(c.state.view(c.revision))

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.listeners, id)
	}
}

// State returns a snapshot of the component state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// View returns what a presenter should render now.
func (c *Component) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.view(c.revision)
}

// Select replaces the selected file. The audio result is cleared and the
// status goes back to idle whatever the previous state was. A nil file clears
// the selection. An attempt still running for the previous file is cancelled
// and its late results are ignored.
func (c *Component) Select(file *media.File) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.log.Info(logAttemptCanceled, c.attempt, c.selectedName())
		c.cancel()
		c.cancel = nil
	}

	c.attempt = ""
	c.state = State{File: file, Message: "", AudioURL: "", Status: StatusIdle}

	if file == nil {
		c.log.Info(logSelectionClear)
	} else {
		c.log.Info(logFileSelected, file.Name, file.MIMEType, file.Size)
	}

	c.publishLocked()
}

// Upload runs one attempt for the selected file and returns when it reaches
// ready or error. The outcome is in State; the returned error only reports a
// refused trigger (ErrNoFile, ErrAttemptInFlight).
func (c *Component) Upload(ctx context.Context) error {
	run, err := c.begin(ctx)
	if err != nil {
		return err
	}

	c.execute(run)

	return nil
}

// Start triggers an attempt in the background. The returned channel is closed
// when the attempt has finished.
func (c *Component) Start(ctx context.Context) (<-chan struct{}, error) {
	run, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		c.execute(run)
	}()

	return done, nil
}

// attemptRun carries what one attempt needs outside the lock.
type attemptRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	file   *media.File
	id     string
}

func (c *Component) begin(ctx context.Context) (*attemptRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.File == nil {
		return nil, ErrNoFile
	}

	if c.state.Status.InFlight() {
		return nil, ErrAttemptInFlight
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	run := &attemptRun{
		ctx:    attemptCtx,
		cancel: cancel,
		file:   c.state.File,
		id:     uuid.NewString(),
	}

	c.attempt = run.id
	c.cancel = cancel
	c.state.Status = StatusUploading
	c.state.Message = ""
	c.state.AudioURL = ""

	c.log.Info(logAttemptStarted, run.id, run.file.Name)
	c.publishLocked()

	return run, nil
}

func (c *Component) execute(run *attemptRun) {
	defer c.finish(run)

	encoded, err := c.encode(run.ctx, run.file)
	if err != nil {
		c.fail(run, err)

		return
	}

	err = c.pipeline.Upload(run.ctx, client.UploadRequest{Filename: run.file.Name, File: encoded})
	if err != nil {
		c.fail(run, err)

		return
	}

	if !c.advance(run, StatusWaiting, "") {
		return
	}

	c.log.Info(logAttemptWaiting, run.id, c.poller.Delay())

	audioURL, err := poller.Run(run.ctx, c.poller, func(ctx context.Context) (string, error) {
		return c.pipeline.FetchAudioURL(ctx, run.file.Name)
	})
	if err != nil {
		c.fail(run, err)

		return
	}

	if !c.advance(run, StatusReady, audioURL) {
		return
	}

	c.log.Info(logAttemptReady, run.id, audioURL)

	if c.archiver != nil {
		c.archiver.Archive(run.ctx, run.file, audioURL)
	}
}

// advance moves a current attempt to the next status. It reports false when
// the attempt has been superseded by a new selection.
func (c *Component) advance(run *attemptRun, status Status, audioURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt != run.id {
		return false
	}

	c.state.Status = status
	c.state.AudioURL = audioURL
	c.publishLocked()

	return true
}

func (c *Component) fail(run *attemptRun, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt != run.id {
		c.log.Warn(logAttemptStale, run.id, err)

		return
	}

	c.log.Error(logAttemptFailed, run.id, run.file.Name, err)

	c.state.Status = StatusError
	c.state.Message = StatusMessage(err)
	c.state.AudioURL = ""
	c.publishLocked()
}

func (c *Component) finish(run *attemptRun) {
	run.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt == run.id {
		c.cancel = nil
	}
}

func (c *Component) selectedName() string {
	if c.state.File == nil {
		return ""
	}

	return c.state.File.Name
}

func (c *Component) publishLocked() {
	c.revision++
	view := c.state.view(c.revision)

	for _, listener := range c.listeners {
		listener(view)
	}
}
