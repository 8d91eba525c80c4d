package simulate

// Event types.
const (
	TypeInfo       = "info"
	TypePrediction = "prediction"
	TypeError      = "error"
	TypeComplete   = "complete"
)

// Labels used in prediction events.
const (
	LabelPass    = "Pass"
	LabelFail    = "Fail"
	LabelError   = "Error"
	LabelUnknown = "Unknown"
)

// Event is one message of a simulation stream. Setup failures produce a
// single error event with only Type, Error and ErrorType set; row failures
// additionally carry the row's ID and Timestamp with Prediction "Error".
// ID is an int64 when the id cell is an integer and a string otherwise.
type Event struct {
	Type       string             `json:"type"`
	Message    string             `json:"message,omitempty"`
	ID         any                `json:"id,omitempty"`
	Timestamp  string             `json:"timestamp,omitempty"`
	Prediction string             `json:"prediction,omitempty"`
	Confidence *float64           `json:"confidence,omitempty"`
	Actual     string             `json:"actual,omitempty"`
	Features   map[string]float64 `json:"features,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorType  string             `json:"error_type,omitempty"`
}

func ptr(f float64) *float64 { return &f }
