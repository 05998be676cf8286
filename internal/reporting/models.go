package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one user.
// The user is always the authenticated caller; reports never cross users.
type CallsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type CallsSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	OutgoingCalls int `json:"outgoing_calls"`
	IncomingCalls int `json:"incoming_calls"`
	VideoCalls    int `json:"video_calls"`
	GroupCalls    int `json:"group_calls"`

	// AnsweredCalls counts calls the user actually talked in.
	AnsweredCalls  int `json:"answered_calls"`
	MissedCalls    int `json:"missed_calls"`
	DeclinedCalls  int `json:"declined_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	FailedCalls    int `json:"failed_calls"`
	LiveCalls      int `json:"live_calls"`

	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`
}
