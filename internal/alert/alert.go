// Package alert defines the fraud alert event and its wire renderings.
package alert

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventName tags every envelope pushed to live subscribers and webhooks.
const EventName = "FRAUD_MATCH"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// SeverityForScore maps a 0-100 risk score to a severity.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 50:
		return SeverityModerate
	default:
		return SeverityInfo
	}
}

// ScoreForTags derives a risk score from the number of matched tags.
func ScoreForTags(tags []string) int {
	return ClampScore(40 + 20*len(tags))
}

// ClampScore bounds a score to [0, 100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Event is one fraud registry match.
type Event struct {
	Severity    Severity  `json:"severity"`
	Wallet      string    `json:"wallet,omitempty"`
	RiskScore   int       `json:"riskScore"`
	Platform    string    `json:"platform,omitempty"`
	MatchedTags []string  `json:"matchedTags"`
	DNAHash     string    `json:"dnaHash"`
	Timestamp   time.Time `json:"timestamp"`
}

type payload Event

type envelope struct {
	Name string `json:"event"`
	payload
}

// Envelope renders ev as {"event":"FRAUD_MATCH", ...fields}.
func Envelope(ev Event) ([]byte, error) {
	if ev.MatchedTags == nil {
		ev.MatchedTags = []string{}
	}
	return json.Marshal(envelope{Name: EventName, payload: payload(ev)})
}

// Chat message colors by severity.
const (
	ColorCritical = 0xE74C3C
	ColorModerate = 0xE67E22
	ColorInfo     = 0x3498DB
)

type ChatField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type ChatFooter struct {
	Text string `json:"text"`
}

// Chat is a rich message for chat-channel webhooks.
type Chat struct {
	Title     string      `json:"title"`
	Color     int         `json:"color"`
	Fields    []ChatField `json:"fields"`
	Footer    ChatFooter  `json:"footer"`
	Timestamp string      `json:"timestamp"`
}

// ChatMessage formats ev for a chat channel.
func ChatMessage(ev Event) Chat {
	wallet := ev.Wallet
	if wallet == "" {
		wallet = "N/A"
	}
	platform := ev.Platform
	if platform == "" {
		platform = "Unknown"
	}
	tags := "None"
	if len(ev.MatchedTags) > 0 {
		tags = strings.Join(ev.MatchedTags, ", ")
	}
	return Chat{
		Title: "Fraud Match Detected",
		Color: ColorFor(ev.Severity),
		Fields: []ChatField{
			{Name: "Risk Score", Value: strconv.Itoa(ev.RiskScore), Inline: true},
			{Name: "Severity", Value: strings.ToUpper(string(ev.Severity)), Inline: true},
			{Name: "Wallet", Value: wallet},
			{Name: "Platform", Value: platform, Inline: true},
			{Name: "Matched Tags", Value: tags},
			{Name: "DNA Hash", Value: ev.DNAHash},
		},
		Footer:    ChatFooter{Text: "dnaguard"},
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
	}
}

func ColorFor(s Severity) int {
	switch s {
	case SeverityCritical:
		return ColorCritical
	case SeverityModerate:
		return ColorModerate
	default:
		return ColorInfo
	}
}
