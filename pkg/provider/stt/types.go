package stt

import "time"

// Transcript is the result of transcribing one segment.
type Transcript struct {
	// Text is the transcribed speech content, trimmed of surrounding
	// whitespace.
	Text string

	// Language is the detected or configured language, when reported.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Words contains per-word detail when available (Deepgram).
	// May be nil for providers that don't support word-level output.
	Words []WordDetail

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
