package vad

// Verdict is the classification of a single frame.
type Verdict struct {
	// Speech is true when Confidence exceeds the session threshold.
	Speech bool

	// Confidence is the speech probability score (0.0–1.0).
	Confidence float64
}

// Classify builds a Verdict from a confidence score. The comparison is
// strict: a confidence equal to the threshold is not speech.
func Classify(confidence, threshold float64) Verdict {
	return Verdict{Speech: confidence > threshold, Confidence: confidence}
}
