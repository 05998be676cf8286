// Package quality derives coarse network-quality tiers from participant
// samples and tells the other participants when a tier changes. It never
// touches session state.
package quality

import (
	"errors"
	"math"
	"time"
)

type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
)

var ErrInvalidSample = errors.New("quality: invalid sample")

// Sample is one participant-side measurement.
type Sample struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	LatencyMs     float64   `json:"latencyMs"`
	PacketLossPct float64   `json:"packetLossPct"`
	JitterMs      float64   `json:"jitterMs"`
	BandwidthKbps float64   `json:"bandwidthKbps"`
	At            time.Time `json:"at"`
}

func (s Sample) validate() error {
	if s.SessionID == "" || s.UserID == "" {
		return ErrInvalidSample
	}
	for _, v := range []float64{s.LatencyMs, s.PacketLossPct, s.JitterMs, s.BandwidthKbps} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidSample
		}
	}
	if s.PacketLossPct > 100 {
		return ErrInvalidSample
	}
	return nil
}

type threshold struct {
	tier      Tier
	latencyMs float64
	lossPct   float64
	jitterMs  float64
}

// Ordered best first; a sample gets the first tier whose limits it meets.
var thresholds = []threshold{
	{TierExcellent, 100, 1, 20},
	{TierGood, 200, 3, 40},
	{TierFair, 400, 8, 80},
}

// minUsableKbps is below what a narrowband voice stream needs.
const minUsableKbps = 64

// Classify maps a sample to a tier. Zero bandwidth means not measured.
func Classify(s Sample) Tier {
	if s.BandwidthKbps > 0 && s.BandwidthKbps < minUsableKbps {
		return TierPoor
	}
	for _, t := range thresholds {
		if s.LatencyMs <= t.latencyMs && s.PacketLossPct <= t.lossPct && s.JitterMs <= t.jitterMs {
			return t.tier
		}
	}
	return TierPoor
}
