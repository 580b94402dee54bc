package call

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"lexhub-backend/internal/signaling"
)

// candidateFields renders a candidate as RTCIceCandidateInit JSON fields
func candidateFields(c webrtc.ICECandidateInit) map[string]any {
	fields := map[string]any{
		"candidate":        c.Candidate,
		"sdpMid":           nil,
		"sdpMLineIndex":    nil,
		"usernameFragment": nil,
	}
	if c.SDPMid != nil {
		fields["sdpMid"] = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		fields["sdpMLineIndex"] = int64(*c.SDPMLineIndex)
	}
	if c.UsernameFragment != nil {
		fields["usernameFragment"] = *c.UsernameFragment
	}
	return fields
}

// parseCandidate reads a candidate document written by either side
func parseCandidate(doc *signaling.Document) (webrtc.ICECandidateInit, bool) {
	init := webrtc.ICECandidateInit{Candidate: doc.String("candidate")}
	if init.Candidate == "" {
		return init, false
	}
	if v, ok := doc.Lookup("sdpMid"); ok {
		if mid, ok := v.(string); ok {
			init.SDPMid = &mid
		}
	}
	if v, ok := doc.Lookup("sdpMLineIndex"); ok {
		if idx, ok := asUint16(v); ok {
			init.SDPMLineIndex = &idx
		}
	}
	if v, ok := doc.Lookup("usernameFragment"); ok {
		if ufrag, ok := v.(string); ok && ufrag != "" {
			init.UsernameFragment = &ufrag
		}
	}
	return init, true
}

// Stores hand numbers back as int64 (Firestore), float64 (JSON) or as written.
func asUint16(v any) (uint16, bool) {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case uint16:
		return t, true
	case float64:
		n = int64(t)
	default:
		return 0, false
	}
	if n < 0 || n > 0xffff {
		return 0, false
	}
	return uint16(n), true
}

// candidateWriter holds local candidates until the session's own offer or
// answer is stored, then writes them one at a time in gathering order.
type candidateWriter struct {
	mu     sync.Mutex
	open   bool
	closed bool
	buf    []webrtc.ICECandidateInit
	disp   *signaling.Dispatcher
	write  func(webrtc.ICECandidateInit)
}

func newCandidateWriter(write func(webrtc.ICECandidateInit)) *candidateWriter {
	return &candidateWriter{
		disp:  signaling.NewDispatcher(),
		write: write,
	}
}

func (w *candidateWriter) push(c webrtc.ICECandidateInit) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if !w.open {
		w.buf = append(w.buf, c)
		return
	}
	w.disp.Submit(func() { w.write(c) })
}

func (w *candidateWriter) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open || w.closed {
		return
	}
	w.open = true
	for _, c := range w.buf {
		c := c
		w.disp.Submit(func() { w.write(c) })
	}
	w.buf = nil
}

func (w *candidateWriter) stop() {
	w.mu.Lock()
	w.closed = true
	w.buf = nil
	w.mu.Unlock()
	w.disp.Stop()
}
