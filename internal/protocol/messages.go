package protocol

import "time"

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Partial   bool      `json:"partial"`
	Timestamp time.Time `json:"timestamp"`
}

// Translation pairs a transcript with its translated text.
type Translation struct {
	SessionID      string    `json:"session_id"`
	Sequence       uint64    `json:"sequence"`
	Original       string    `json:"original"`
	Translated     string    `json:"translated"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Partial        bool      `json:"partial"`
	Timestamp      time.Time `json:"timestamp"`
}

type SessionState string

const (
	SessionStarted SessionState = "started"
	SessionStopped SessionState = "stopped"
	SessionExpired SessionState = "expired"
	SessionFailed  SessionState = "failed"
	SessionEnded   SessionState = "ended"
)

// SessionStatus announces session lifecycle changes.
type SessionStatus struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	Device         string       `json:"device,omitempty"`
	SourceLanguage string       `json:"source_language,omitempty"`
	TargetLanguage string       `json:"target_language,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

const (
	SubjectTranscriptPartial  = "stt.text.partial"
	SubjectTranscriptFinal    = "stt.text.final"
	SubjectTranslationPartial = "translate.text.partial"
	SubjectTranslationFinal   = "translate.text.final"
	SubjectSessionStatus      = "session.status"
)

func TranscriptSubject(partial bool) string {
	if partial {
		return SubjectTranscriptPartial
	}
	return SubjectTranscriptFinal
}

func TranslationSubject(partial bool) string {
	if partial {
		return SubjectTranslationPartial
	}
	return SubjectTranslationFinal
}
