package reporting

import (
	"context"
	"errors"
	"time"

	"call-signaling/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. calls.Store satisfies it.
//
// IMPORTANT: implementations must filter by user; reports are per caller.
type Repository interface {
	ListSessionsForUser(ctx context.Context, userID string, from, to time.Time) ([]calls.CallSession, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessionsForUser(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, Range: req.Range}
	for _, c := range rows {
		out.TotalCalls++
		if c.InitiatorID == req.UserID {
			out.OutgoingCalls++
		} else {
			out.IncomingCalls++
		}
		if c.Type == calls.CallTypeVideo {
			out.VideoCalls++
		}
		if c.Group {
			out.GroupCalls++
		}

		talk, talked := talkTime(c, req.UserID)
		if talked {
			out.AnsweredCalls++
			out.TotalTalkSeconds += talk
		}

		switch c.Status {
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusDeclined:
			out.DeclinedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusRinging, calls.StatusActive:
			out.LiveCalls++
		case calls.StatusEnded:
			if c.EndedReason == calls.EndedReasonCancelled {
				out.CancelledCalls++
			}
		}
	}
	if out.AnsweredCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / out.AnsweredCalls
	}
	return out, nil
}

// talkTime returns the seconds userID spent connected to at least one other
// participant. Only the user's latest stint counts when they rejoined.
func talkTime(c calls.CallSession, userID string) (int, bool) {
	if !connected(c) {
		return 0, false
	}
	p, ok := c.Participant(userID)
	if !ok || p.JoinedAt == nil || p.LeftAt == nil {
		return 0, ok && p.JoinedAt != nil
	}
	start := *p.JoinedAt
	// The host joins at creation; talk starts when the first invitee answers.
	if first := firstAnswer(c); first.After(start) {
		start = first
	}
	if !p.LeftAt.After(start) {
		return 0, true
	}
	return int(p.LeftAt.Sub(start).Seconds()), true
}

func connected(c calls.CallSession) bool {
	return !firstAnswer(c).IsZero()
}

func firstAnswer(c calls.CallSession) time.Time {
	var first time.Time
	for _, p := range c.Participants {
		if p.Role == calls.RoleHost || p.JoinedAt == nil {
			continue
		}
		if first.IsZero() || p.JoinedAt.Before(first) {
			first = *p.JoinedAt
		}
	}
	return first
}
