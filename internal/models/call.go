package models

// CallEvent is one live call announced by the carrier's event stream.
// AudioRef is the recording uuid; empty means no recording is available.
type CallEvent struct {
	ID          string `json:"id"`
	DID         string `json:"did"`
	AudioRef    string `json:"uuid,omitempty"`
	CountryName string `json:"country"`
	CountryCode string `json:"country_code"`
}

// CallMetadata is fetched once per pipeline run and never cached.
// Extra keeps the remaining fields of the carrier response as-is.
type CallMetadata struct {
	DurationSeconds int64                  `json:"duration"`
	Extra           map[string]interface{} `json:"-"`
}

// AudioArtifact is a recording staged on local disk.
// The pipeline run that downloaded it owns it until the janitor sweeps it.
type AudioArtifact struct {
	LocalPath string
	SizeBytes int64
}

// Notification is the composed message handed to the delivery channel.
// Attachment is nil for text-only notifications.
type Notification struct {
	CaptionText string
	Attachment  *AudioArtifact
}

// Outcome is the terminal result of one pipeline run.
type Outcome int

const (
	// OutcomeDuplicate means the dedup gate had already seen the call.
	OutcomeDuplicate Outcome = iota
	// OutcomeDelivered means the channel accepted the notification.
	OutcomeDelivered
	// OutcomeFailed means delivery was attempted and rejected.
	OutcomeFailed
	// OutcomeDropped means the run stopped before delivery (ledger unavailable).
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// CallInjectRequest is the POST /calls payload used by operators to
// replay a call that the stream missed.
type CallInjectRequest struct {
	ID          string `json:"id"`
	DID         string `json:"did"`
	UUID        string `json:"uuid,omitempty"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// CallInjectResponse is returned by POST /calls.
type CallInjectResponse struct {
	CallID string `json:"call_id"`
	RunID  string `json:"run_id"`
}
