package domain

import (
	"time"

	"lexhub-backend/internal/signaling"
)

// Signaling collections
const (
	CallsCollection            = "calls"
	OfferCandidatesCollection  = "offerCandidates"
	AnswerCandidatesCollection = "answerCandidates"
)

// CallType is the media kind of a call
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// Informational record status. Presence of the answer is authoritative.
const (
	CallStatusCalling   = "calling"
	CallStatusConnected = "connected"
)

// CallOffer is the caller-owned half of a call record
type CallOffer struct {
	SDP          string    `json:"sdp"`
	Type         string    `json:"type"`
	CallerID     string    `json:"callerId"`
	CallerName   string    `json:"callerName"`
	Status       string    `json:"status"`
	CallType     CallType  `json:"callType"`
	TargetUserID string    `json:"targetUserId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CallAnswer is the callee-owned half of a call record
type CallAnswer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// CallRecord is one call attempt as stored at calls/{id}
type CallRecord struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Offer      *CallOffer  `json:"offer,omitempty"`
	Answer     *CallAnswer `json:"answer,omitempty"`
	AnsweredBy string      `json:"answeredBy,omitempty"`
	ExpiresAt  time.Time   `json:"expiresAt,omitempty"`
}

// Ringing reports whether the record has an offer and no answer yet
func (r *CallRecord) Ringing() bool {
	return r.Offer != nil && r.Answer == nil
}

// CallPath is the document path of a call record
func CallPath(callID string) string {
	return signaling.Join(CallsCollection, callID)
}

// CandidatesPath is the collection holding one side's ICE candidates
func CandidatesPath(callID, side string) string {
	return signaling.Join(CallsCollection, callID, side)
}

// OfferFields builds the offer write. createdAt and timestamp carry the same
// server timestamp; older clients read timestamp.
func OfferFields(o *CallOffer) map[string]any {
	return map[string]any{
		"sdp":          o.SDP,
		"type":         o.Type,
		"callerId":     o.CallerID,
		"callerName":   o.CallerName,
		"status":       o.Status,
		"callType":     string(o.CallType),
		"targetUserId": o.TargetUserID,
		"createdAt":    signaling.ServerTimestamp,
		"timestamp":    signaling.ServerTimestamp,
	}
}

// AnswerFields builds the answer write
func AnswerFields(a *CallAnswer) map[string]any {
	return map[string]any{"sdp": a.SDP, "type": a.Type}
}

// ParseCallRecord reads a call record from a document snapshot
func ParseCallRecord(doc *signaling.Document) *CallRecord {
	rec := &CallRecord{
		ID:         doc.ID,
		Status:     doc.String("status"),
		AnsweredBy: doc.String("answeredBy"),
	}
	if ts, ok := doc.Time("expiresAt"); ok {
		rec.ExpiresAt = ts
	}
	if doc.Map("offer") != nil {
		rec.Offer = &CallOffer{
			SDP:          doc.String("offer.sdp"),
			Type:         doc.String("offer.type"),
			CallerID:     doc.String("offer.callerId"),
			CallerName:   doc.String("offer.callerName"),
			Status:       doc.String("offer.status"),
			CallType:     CallType(doc.String("offer.callType")),
			TargetUserID: doc.String("offer.targetUserId"),
		}
		if ts, ok := doc.Time("offer.createdAt"); ok {
			rec.Offer.CreatedAt = ts
		} else if ts, ok := doc.Time("offer.timestamp"); ok {
			rec.Offer.CreatedAt = ts
		}
	}
	if doc.Map("answer") != nil {
		rec.Answer = &CallAnswer{
			SDP:  doc.String("answer.sdp"),
			Type: doc.String("answer.type"),
		}
	}
	return rec
}

// IncomingCall is delivered to a callee's UI
type IncomingCall struct {
	CallID string     `json:"callId"`
	Offer  *CallOffer `json:"offer"`
}
