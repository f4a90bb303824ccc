package workflow_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/image-audio/internal/client"
	"github.com/book-expert/image-audio/internal/media"
	"github.com/book-expert/image-audio/internal/poller"
	"github.com/book-expert/image-audio/internal/workflow"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAudioURL = "https://example/a.mp3"

var errLookupDown = errors.New("lookup endpoint down")

// fakePipeline records calls and can hold an upload open until released.
type fakePipeline struct {
	uploadGate chan struct{}
	uploadErr  error
	lookupErr  error
	audioURL   string
	uploads    []client.UploadRequest
	lookups    []string
	mu         sync.Mutex
}

func (f *fakePipeline) Upload(ctx context.Context, req client.UploadRequest) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, req)
	gate := f.uploadGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return f.uploadErr
}

func (f *fakePipeline) FetchAudioURL(_ context.Context, imageKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lookups = append(f.lookups, imageKey)

	if f.lookupErr != nil {
		return "", f.lookupErr
	}

	if f.audioURL == "" {
		return "", client.ErrAudioNotReady
	}

	return f.audioURL, nil
}

func (f *fakePipeline) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.lookups)
}

// manualTimer lets a test decide when the poll delay elapses.
type manualTimer struct {
	requested chan time.Duration
	fire      chan time.Time
}

func newManualTimer() *manualTimer {
	return &manualTimer{
		requested: make(chan time.Duration, 1),
		fire:      make(chan time.Time),
	}
}

func (m *manualTimer) After(delay time.Duration) <-chan time.Time {
	m.requested <- delay

	return m.fire
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "workflow-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func newComponent(t *testing.T, pipeline *fakePipeline, opts ...workflow.Option) *workflow.Component {
	t.Helper()

	return workflow.New(pipeline, poller.New(0), newTestLogger(t), opts...)
}

func pngFile(name string) *media.File {
	return media.FromBytes(name, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 1, 2, 3, 4})
}

func TestComponent_InitialView(t *testing.T) {
	t.Parallel()

	component := newComponent(t, &fakePipeline{})
	view := component.View()

	assert.Equal(t, "idle", view.Status)
	assert.Equal(t, workflow.TextIdle, view.StatusText)
	assert.False(t, view.ShowStatus)
	assert.False(t, view.CanUpload)
	assert.Equal(t, workflow.LabelUpload, view.ButtonLabel)
	assert.Empty(t, view.AudioURL)
}

func TestComponent_UploadWithoutFile(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{}
	component := newComponent(t, pipeline)

	err := component.Upload(context.Background())
	require.ErrorIs(t, err, workflow.ErrNoFile)
	assert.Empty(t, pipeline.uploads)
	assert.Equal(t, workflow.StatusIdle, component.State().Status)
}

func TestComponent_Success(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{audioURL: testAudioURL}
	timer := newManualTimer()
	component := workflow.New(
		pipeline,
		poller.New(5*time.Second, poller.WithTimer(timer.After)),
		newTestLogger(t),
	)

	file := pngFile("cat.png")
	component.Select(file)
	require.True(t, component.View().CanUpload)

	done, err := component.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, <-timer.requested)

	waiting := component.View()
	assert.Equal(t, "waiting", waiting.Status)
	assert.Equal(t, workflow.TextWaiting, waiting.StatusText)
	assert.False(t, waiting.CanUpload)
	assert.Equal(t, 0, pipeline.lookupCount(), "lookup must wait for the delay")

	timer.fire <- time.Now()
	<-done

	view := component.View()
	assert.Equal(t, workflow.TextReady, view.StatusText)
	assert.Equal(t, testAudioURL, view.AudioURL)
	assert.True(t, view.ShowStatus)
	assert.True(t, view.CanUpload)
	assert.Equal(t, []string{"cat.png"}, pipeline.lookups)

	require.Len(t, pipeline.uploads, 1)
	assert.Equal(t, "cat.png", pipeline.uploads[0].Filename)
}

func TestComponent_UploadFailed(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{uploadErr: client.ErrUploadFailed, audioURL: testAudioURL}
	component := newComponent(t, pipeline)

	component.Select(pngFile("cat.png"))
	require.NoError(t, component.Upload(context.Background()))

	state := component.State()
	assert.Equal(t, workflow.StatusError, state.Status)
	assert.Equal(t, "Image upload failed", state.Text())
	assert.Empty(t, state.AudioURL)
	assert.Equal(t, 0, pipeline.lookupCount())
}

func TestComponent_AudioNotReady(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{}
	component := newComponent(t, pipeline)

	component.Select(pngFile("cat.png"))
	require.NoError(t, component.Upload(context.Background()))

	view := component.View()
	assert.Equal(t, "Timed out waiting for audio", view.StatusText)
	assert.Empty(t, view.AudioURL)
	assert.Equal(t, 1, pipeline.lookupCount())
}

func TestComponent_LookupError(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{lookupErr: errLookupDown}
	component := newComponent(t, pipeline)

	component.Select(pngFile("cat.png"))
	require.NoError(t, component.Upload(context.Background()))

	assert.Equal(t, errLookupDown.Error(), component.View().StatusText)
}

func TestComponent_EncodeError(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{audioURL: testAudioURL}
	component := newComponent(t, pipeline, workflow.WithEncoder(
		func(context.Context, *media.File) (string, error) {
			return "", errors.New("")
		},
	))

	component.Select(pngFile("cat.png"))
	require.NoError(t, component.Upload(context.Background()))

	assert.Equal(t, workflow.TextUnexpected, component.View().StatusText)
	assert.Empty(t, pipeline.uploads)
}

func TestComponent_PayloadMatchesReferenceBase64(t *testing.T) {
	t.Parallel()

	data := make([]byte, 70_000)
	for i := range data {
		data[i] = byte(i % 256)
	}

	pipeline := &fakePipeline{audioURL: testAudioURL}
	component := newComponent(t, pipeline)

	component.Select(media.FromBytes("big.png", data))
	require.NoError(t, component.Upload(context.Background()))

	require.Len(t, pipeline.uploads, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), pipeline.uploads[0].File)
}

func TestComponent_SelectResets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pipeline *fakePipeline
		name     string
		before   workflow.Status
	}{
		{name: "from ready", pipeline: &fakePipeline{audioURL: testAudioURL}, before: workflow.StatusReady},
		{name: "from error", pipeline: &fakePipeline{uploadErr: client.ErrUploadFailed}, before: workflow.StatusError},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			component := newComponent(t, testCase.pipeline)

			component.Select(pngFile("first.png"))
			require.NoError(t, component.Upload(context.Background()))
			require.Equal(t, testCase.before, component.State().Status)

			component.Select(pngFile("second.png"))

			state := component.State()
			assert.Equal(t, workflow.StatusIdle, state.Status)
			assert.Empty(t, state.AudioURL)
			assert.Equal(t, "second.png", state.File.Name)
			assert.False(t, component.View().ShowStatus)
		})
	}
}

func TestComponent_SelectNilDisablesUpload(t *testing.T) {
	t.Parallel()

	component := newComponent(t, &fakePipeline{audioURL: testAudioURL})

	component.Select(pngFile("cat.png"))
	require.NoError(t, component.Upload(context.Background()))

	component.Select(nil)

	view := component.View()
	assert.False(t, view.CanUpload)
	assert.Empty(t, view.AudioURL)
	require.ErrorIs(t, component.Upload(context.Background()), workflow.ErrNoFile)
}

func TestComponent_DisabledWhileUploading(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{uploadGate: make(chan struct{}), audioURL: testAudioURL}
	component := newComponent(t, pipeline)

	component.Select(pngFile("cat.png"))

	done, err := component.Start(context.Background())
	require.NoError(t, err)

	view := component.View()
	assert.Equal(t, workflow.TextUploading, view.StatusText)
	assert.Equal(t, workflow.LabelUploading, view.ButtonLabel)
	assert.False(t, view.CanUpload)

	_, err = component.Start(context.Background())
	require.ErrorIs(t, err, workflow.ErrAttemptInFlight)

	close(pipeline.uploadGate)
	<-done

	assert.Equal(t, workflow.TextReady, component.View().StatusText)
}

func TestComponent_NewSelectionSupersedesAttempt(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{uploadGate: make(chan struct{}), audioURL: testAudioURL}
	component := newComponent(t, pipeline)

	component.Select(pngFile("old.png"))

	done, err := component.Start(context.Background())
	require.NoError(t, err)

	component.Select(pngFile("new.png"))
	<-done

	state := component.State()
	assert.Equal(t, workflow.StatusIdle, state.Status)
	assert.Empty(t, state.AudioURL)
	assert.Equal(t, "new.png", state.File.Name)
	assert.Equal(t, 0, pipeline.lookupCount())
}

func TestComponent_SubscribeReceivesTransitions(t *testing.T) {
	t.Parallel()

	component := newComponent(t, &fakePipeline{audioURL: testAudioURL})

	var (
		mu       sync.Mutex
		statuses []string
	)

	unsubscribe := component.Subscribe(func(view workflow.View) {
		mu.Lock()
		defer mu.Unlock()

		statuses = append(statuses, view.Status)
	})

	component.Select(pngFile("cat.png"))
	require.NoError(t, component.Upload(context.Background()))

	unsubscribe()
	component.Select(nil)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"idle", "idle", "uploading", "waiting", "ready"}, statuses)
}

func TestStatusMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Image upload failed", workflow.StatusMessage(
		&wrapped{err: client.ErrUploadFailed},
	))
	assert.Equal(t, "Timed out waiting for audio", workflow.StatusMessage(client.ErrAudioNotReady))
	assert.Equal(t, "boom", workflow.StatusMessage(errors.New("boom")))
	assert.Equal(t, workflow.TextUnexpected, workflow.StatusMessage(nil))
}

type wrapped struct {
	err error
}

func (w *wrapped) Error() string { return "upload: " + w.err.Error() + ": status 500" }

func (w *wrapped) Unwrap() error { return w.err }

// TestComponent_AgainstHTTPEndpoints runs the whole sequence against mocked endpoints.
func TestComponent_AgainstHTTPEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		uploadStatus int
		lookupBody   string
		wantText     string
		wantAudio    string
		wantLookups  int32
	}{
		{
			name:         "ready",
			uploadStatus: http.StatusOK,
			lookupBody:   `{"url":"` + testAudioURL + `"}`,
			wantText:     "Audio ready!",
			wantAudio:    testAudioURL,
			wantLookups:  1,
		},
		{
			name:         "upload rejected",
			uploadStatus: http.StatusInternalServerError,
			lookupBody:   `{"url":"` + testAudioURL + `"}`,
			wantText:     "Image upload failed",
			wantAudio:    "",
			wantLookups:  0,
		},
		{
			name:         "no url",
			uploadStatus: http.StatusOK,
			lookupBody:   `{}`,
			wantText:     "Timed out waiting for audio",
			wantAudio:    "",
			wantLookups:  1,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var (
				lookups  atomic.Int32
				uploaded client.UploadRequest
			)

			server := httptest.NewServer(http.HandlerFunc(
				func(responseWriter http.ResponseWriter, request *http.Request) {
					switch request.Method {
					case http.MethodPost:
						assert.NoError(t, json.NewDecoder(request.Body).Decode(&uploaded))
						responseWriter.WriteHeader(testCase.uploadStatus)
					case http.MethodGet:
						lookups.Add(1)
						assert.Equal(t, "cat.png", request.URL.Query().Get("image_key"))
						_, _ = responseWriter.Write([]byte(testCase.lookupBody))
					}
				},
			))
			defer server.Close()

			httpClient := client.NewHTTPClient(server.URL, server.URL, 5*time.Second)
			component := workflow.New(httpClient, poller.New(time.Millisecond), newTestLogger(t))

			file := pngFile("cat.png")
			component.Select(file)
			require.NoError(t, component.Upload(context.Background()))

			view := component.View()
			assert.Equal(t, testCase.wantText, view.StatusText)
			assert.Equal(t, testCase.wantAudio, view.AudioURL)
			assert.Equal(t, testCase.wantLookups, lookups.Load())
			assert.Equal(t, "cat.png", uploaded.Filename)
		})
	}
}
