package workflow

import (
	"errors"

	"github.com/book-expert/image-audio/internal/client"
	"github.com/book-expert/image-audio/internal/media"
)

// Status is the state of the upload workflow.
type Status int

const (
	// StatusIdle means nothing has been attempted for the selected file.
	StatusIdle Status = iota
	// StatusUploading covers encoding and the upload request.
	StatusUploading
	// StatusWaiting covers the fixed delay and the audio lookup.
	StatusWaiting
	// StatusReady means an audio URL is available.
	StatusReady
	// StatusError means the attempt failed; Message holds the reason.
	StatusError
)

// Status texts shown to the user.
const (
	TextIdle       = "idle"
	TextUploading  = "Uploading image…"
	TextWaiting    = "Waiting for audio generation…"
	TextReady      = "Audio ready!"
	TextUnexpected = "Unexpected error"
)

// Upload button labels.
const (
	LabelUpload    = "Upload"
	LabelUploading = "Uploading…"
)

// String returns the machine name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusUploading:
		return "uploading"
	case StatusWaiting:
		return "waiting"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// InFlight reports whether an attempt is running.
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusWaiting
}

// State is a snapshot of the component.
type State struct {
	File     *media.File
	Message  string
	AudioURL string
	Status   Status
}

// Text returns the user-visible status line.
func (s State) Text() string {
	switch s.Status {
	case StatusIdle:
		return TextIdle
	case StatusUploading:
		return TextUploading
	case StatusWaiting:
		return TextWaiting
	case StatusReady:
		return TextReady
	case StatusError:
		if s.Message == "" {
			return TextUnexpected
		}

		return s.Message
	default:
		return TextUnexpected
	}
}

// View is what a presenter renders.
type View struct {
	Status      string `json:"status"`
	StatusText  string `json:"status_text"`
	ButtonLabel string `json:"button_label"`
	FileName    string `json:"file_name,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	Revision    uint64 `json:"revision"`
	ShowStatus  bool   `json:"show_status"`
	CanUpload   bool   `json:"can_upload"`
}

func (s State) view(revision uint64) View {
	view := View{
		Status:      s.Status.String(),
		StatusText:  s.Text(),
		ButtonLabel: LabelUpload,
		FileName:    "",
		AudioURL:    s.AudioURL,
		Revision:    revision,
		ShowStatus:  s.Status != StatusIdle,
		CanUpload:   s.File != nil && !s.Status.InFlight(),
	}

	if s.Status == StatusUploading {
		view.ButtonLabel = LabelUploading
	}

	if s.File != nil {
		view.FileName = s.File.Name
	}

	return view
}

// StatusMessage turns an attempt error into the text shown to the user.
func StatusMessage(err error) string {
	switch {
	case err == nil:
		return TextUnexpected
	case errors.Is(err, client.ErrUploadFailed):
		return client.ErrUploadFailed.Error()
	case errors.Is(err, client.ErrAudioNotReady):
		return client.ErrAudioNotReady.Error()
	case err.Error() == "":
		return TextUnexpected
	default:
		return err.Error()
	}
}
