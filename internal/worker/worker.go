// Package worker exposes the uploader over NATS request/reply.
//
// A request names an image already stored in the image bucket. The worker
// loads it, runs one upload attempt through a fresh workflow component and
// replies with the final status and, when ready, the audio URL.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/image-audio/internal/core"
	"github.com/book-expert/image-audio/internal/media"
	"github.com/book-expert/image-audio/internal/workflow"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultJobTimeout bounds one request, poll delay included.
const DefaultJobTimeout = 2 * time.Minute

var (
	// ErrImageKeyEmpty indicates a request without an image key.
	ErrImageKeyEmpty = errors.New("image key cannot be empty")
	// ErrNotImage indicates the stored object is not an image.
	ErrNotImage = errors.New("stored object is not an image")
)

// ImageAudioRequest asks for audio to be generated for a stored image.
type ImageAudioRequest struct {
	Header   events.EventHeader `json:"header"`
	ImageKey string             `json:"image_key"`
}

// ImageAudioResult is the reply to an ImageAudioRequest.
type ImageAudioResult struct {
	Header     events.EventHeader `json:"header"`
	ImageKey   string             `json:"image_key"`
	Status     string             `json:"status"`
	StatusText string             `json:"status_text"`
	AudioURL   string             `json:"audio_url,omitempty"`
}

// ComponentFactory builds a fresh component per request.
type ComponentFactory func() *workflow.Component

// NatsWorker listens for image-audio requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	images         core.ObjectStore
	newComponent   ComponentFactory
	log            *logger.Logger
	subject        string
	jobTimeout     time.Duration
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	images core.ObjectStore,
	newComponent ComponentFactory,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		images:         images,
		newComponent:   newComponent,
		log:            log,
		subject:        subject,
		jobTimeout:     DefaultJobTimeout,
	}
}

// SetJobTimeout overrides DefaultJobTimeout.
func (w *NatsWorker) SetJobTimeout(timeout time.Duration) {
	w.jobTimeout = timeout
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for image-audio requests on subject: %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	request, err := parseRequest(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse image-audio request: %v", err)

		return
	}

	result := w.process(ctx, request)

	err = w.respond(msg, result)
	if err != nil {
		w.log.Error("Failed to reply for workflow %s: %v", request.Header.WorkflowID, err)
	}
}

// process runs one attempt. Every failure is turned into an error result.
func (w *NatsWorker) process(ctx context.Context, request *ImageAudioRequest) *ImageAudioResult {
	result := &ImageAudioResult{
		Header:     replyHeader(request.Header),
		ImageKey:   request.ImageKey,
		Status:     workflow.StatusError.String(),
		StatusText: "",
		AudioURL:   "",
	}

	file, err := w.loadImage(ctx, request.ImageKey)
	if err != nil {
		w.log.Error("Workflow %s: %v", request.Header.WorkflowID, err)
		result.StatusText = workflow.StatusMessage(err)

		return result
	}

	component := w.newComponent()
	component.Select(file)

	err = component.Upload(ctx)
	if err != nil {
		result.StatusText = workflow.StatusMessage(err)

		return result
	}

	state := component.State()
	result.Status = state.Status.String()
	result.StatusText = state.Text()
	result.AudioURL = state.AudioURL

	w.log.Info("Workflow %s: '%s' finished as %s", request.Header.WorkflowID, request.ImageKey, result.Status)

	return result
}

func (w *NatsWorker) loadImage(ctx context.Context, key string) (*media.File, error) {
	if key == "" {
		return nil, ErrImageKeyEmpty
	}

	data, err := w.images.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load image '%s': %w", key, err)
	}

	file := media.FromBytes(key, data)
	if !file.IsImage() {
		return nil, fmt.Errorf("%w: '%s' (%s)", ErrNotImage, key, file.MIMEType)
	}

	return file, nil
}

func (w *NatsWorker) respond(msg *nats.Msg, result *ImageAudioResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	err = msg.Respond(data)
	if err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}

func parseRequest(data []byte) (*ImageAudioRequest, error) {
	var request ImageAudioRequest

	err := json.Unmarshal(data, &request)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	return &request, nil
}

func replyHeader(header events.EventHeader) events.EventHeader {
	reply := header
	reply.Timestamp = time.Now()
	reply.EventID = uuid.NewString()

	if reply.WorkflowID == "" {
		reply.WorkflowID = uuid.NewString()
	}

	return reply
}
