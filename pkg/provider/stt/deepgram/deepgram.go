// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. Each Transcribe call opens one stream, sends the
// segment as linear16 PCM, asks Deepgram to flush with CloseStream and joins
// the final results.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkBytes is the size of each binary audio message: 4096 samples of
	// 16-bit PCM.
	chunkBytes = 8192
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets keyword boosts in Deepgram's "word:boost" form
// (e.g., "Eldrinax:5").
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, keywords...)
	}
}

// WithEndpoint overrides the streaming endpoint URL. Used for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
// It holds no per-call state and is safe for concurrent use.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams samples to Deepgram and returns the joined final
// results.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if sampleRate <= 0 {
		return stt.Transcript{}, fmt.Errorf("deepgram: invalid sample rate %d", sampleRate)
	}
	start := time.Now()

	wsURL, err := p.buildURL(sampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	results := make(chan readResult, 1)
	go func() {
		t, err := readFinals(ctx, conn)
		results <- readResult{t, err}
	}()

	if err := writeAudio(ctx, conn, audio.Float32ToPCM16(samples)); err != nil {
		return stt.Transcript{}, err
	}

	var res readResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return stt.Transcript{}, ctx.Err()
	}
	if res.err != nil {
		return stt.Transcript{}, res.err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	res.t.Language = p.language
	res.t.Duration = time.Since(start)
	return res.t, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

type readResult struct {
	t   stt.Transcript
	err error
}

func writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: send CloseStream: %w", err)
	}
	return nil
}

// readFinals collects final results until Deepgram sends its closing
// Metadata message or closes the connection normally.
func readFinals(ctx context.Context, conn *websocket.Conn) (stt.Transcript, error) {
	var (
		parts   []string
		words   []stt.WordDetail
		confSum float64
		confN   int
	)
	finish := func() stt.Transcript {
		t := stt.Transcript{Text: strings.Join(parts, " "), Words: words}
		if confN > 0 {
			t.Confidence = confSum / float64(confN)
		}
		return t
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finish(), nil
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}

		r, ok := parseResponse(msg)
		if !ok {
			continue
		}
		switch r.Type {
		case "Metadata":
			return finish(), nil
		case "Error":
			return stt.Transcript{}, fmt.Errorf("deepgram: %s", r.Description)
		case "Results":
			if !r.IsFinal || len(r.Channel.Alternatives) == 0 {
				continue
			}
			alt := r.Channel.Alternatives[0]
			text := strings.TrimSpace(alt.Transcript)
			if text == "" {
				continue
			}
			parts = append(parts, text)
			confSum += alt.Confidence
			confN++
			for _, w := range alt.Words {
				words = append(words, stt.WordDetail{
					Word:       w.Word,
					Start:      time.Duration(w.Start * float64(time.Second)),
					End:        time.Duration(w.End * float64(time.Second)),
					Confidence: w.Confidence,
				})
			}
		}
	}
}

// deepgramResponse is the JSON structure of a Deepgram streaming message.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func parseResponse(data []byte) (deepgramResponse, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return deepgramResponse{}, false
	}
	return resp, true
}
