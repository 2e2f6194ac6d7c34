package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TestNew_DefaultModel verifies that an empty model string defaults to whisper-1.
func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.Model())
	}
}

// TestNew_EmptyAPIKey verifies that a missing key is rejected.
func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", "whisper-1"); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

type upload struct {
	auth, model, language, prompt, format, filename string
	size                                            int
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Pointer[upload], *atomic.Int32) {
	t.Helper()
	var (
		last  atomic.Pointer[upload]
		calls atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/audio/transcriptions" {
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u := &upload{
			auth:     r.Header.Get("Authorization"),
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			prompt:   r.FormValue("prompt"),
			format:   r.FormValue("response_format"),
		}
		if f, fh, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			f.Close()
			u.filename = fh.Filename
			u.size = len(data)
		}
		last.Store(u)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &last, &calls
}

func TestTranscribe(t *testing.T) {
	srv, last, _ := newServer(t, http.StatusOK, `{"text":" Roll for initiative. "}`)
	p, err := New("sk-test", "gpt-4o-transcribe",
		WithBaseURL(srv.URL+"/v1/"),
		WithLanguage("en"),
		WithPrompt("Eldrinax"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), make([]float32, 16000), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Roll for initiative." {
		t.Errorf("Text = %q", tr.Text)
	}

	u := last.Load()
	if u == nil {
		t.Fatal("server received no upload")
	}
	want := upload{
		auth:     "Bearer sk-test",
		model:    "gpt-4o-transcribe",
		language: "en",
		prompt:   "Eldrinax",
		format:   "json",
		filename: "audio.wav",
		size:     44 + 16000*2,
	}
	if *u != want {
		t.Errorf("upload = %+v, want %+v", *u, want)
	}
}

func TestTranscribe_ServerErrorNotRetried(t *testing.T) {
	srv, _, calls := newServer(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`)
	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))

	if _, err := p.Transcribe(context.Background(), make([]float32, 100), 16000); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("sk-test", "")
	if _, err := p.Transcribe(context.Background(), nil, 16000); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}
