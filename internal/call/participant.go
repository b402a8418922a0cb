package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxbridge/voxbridge/internal/segment"
	"github.com/voxbridge/voxbridge/pkg/pcm"
)

// participant is one connected endpoint of a session: a reader goroutine
// feeding its segmenter, a writer goroutine draining its outbound queue,
// and two forwarders relaying segmenter output into the session's router.
type participant struct {
	userID   string
	language string
	voiceID  string
	joinedAt time.Time

	conn  Conn
	queue *outQueue
	seg   *segment.Segmenter
	sess  *Session
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	muted  atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

// start launches the participant's goroutines. The session calls it exactly
// once, after the participant is registered.
func (p *participant) start() {
	go p.seg.Run(p.ctx)
	go p.forwardInterims()
	go p.forwardFinals()
	go p.forwardErrors()
	go p.writeLoop()
	go p.readLoop()
}

func (p *participant) readLoop() {
	for {
		kind, data, err := p.conn.Read(p.ctx)
		if err != nil {
			p.sess.handleDeparture(p, "")
			return
		}
		switch kind {
		case KindBinary:
			p.handleFrame(data)
		case KindText:
			if leave := p.handleControl(data); leave {
				p.sess.handleDeparture(p, "")
				return
			}
		}
	}
}

// handleFrame validates and routes one audio frame. Frames arriving after
// the call turned terminal get an error reply; the connection itself is
// closed by the session's grace teardown, with call_ended as the reason.
func (p *participant) handleFrame(data []byte) {
	if p.sess.isEnded() {
		p.sess.metrics.RecordFrameDropped(p.ctx, "terminal")
		p.sendError("call has ended")
		return
	}
	if len(data) == 0 || len(data)%2 != 0 || len(data) > pcm.MaxFrameBytes {
		p.sendError(fmt.Sprintf("invalid audio frame: %d bytes", len(data)))
		return
	}
	p.sess.metrics.FramesIn.Add(p.ctx, 1)
	if p.muted.Load() {
		// The segmenter also gates on mute; dropping here keeps the
		// inbound queue free for unmuted speech.
		p.sess.metrics.RecordFrameDropped(p.ctx, "muted")
		return
	}
	if !p.seg.Offer(data) {
		p.sess.metrics.RecordFrameDropped(p.ctx, "inbound_overflow")
	}
}

// handleControl dispatches one JSON control message. It returns true when
// the participant asked to leave.
func (p *participant) handleControl(data []byte) bool {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.sendError("malformed message")
		return false
	}
	switch msg.Type {
	case "ping":
		p.enqueue(&outboundItem{payload: mustJSON(pongEvent{Type: "pong"})})
	case "mute":
		p.setMuted(true)
	case "unmute":
		p.setMuted(false)
	case "leave":
		return true
	default:
		p.sendError("unknown message type: " + msg.Type)
	}
	return false
}

func (p *participant) setMuted(muted bool) {
	if p.muted.Swap(muted) == muted {
		return
	}
	p.seg.SetMuted(muted)
	p.sess.broadcastMuteChanged(p.userID, muted)
}

// forwardInterims relays interim transcripts into the router. An interim
// with empty text cancels the previous caption after a mute.
func (p *participant) forwardInterims() {
	for in := range p.seg.Interims() {
		p.sess.router.HandleInterim(in)
	}
}

// forwardFinals relays finalized utterances into the router. Routing runs
// on this goroutine so one speaker's finals keep their order.
func (p *participant) forwardFinals() {
	for f := range p.seg.Finals() {
		p.sess.metrics.Utterances.Add(p.ctx, 1)
		p.sess.router.HandleFinal(p.ctx, f)
	}
}

// forwardErrors relays pipeline failures to the speaker, and only the
// speaker. Provider detail stays in the log.
func (p *participant) forwardErrors() {
	for err := range p.seg.Errors() {
		p.log.Warn("speech pipeline error", "err", err)
		p.sendError("speech recognition unavailable, utterance dropped")
	}
}

func (p *participant) writeLoop() {
	for {
		it, err := p.queue.pop(p.ctx)
		if err != nil {
			return
		}
		if it.payload != nil {
			if err := p.conn.WriteText(p.ctx, it.payload); err != nil {
				p.sess.handleDeparture(p, "")
				return
			}
		}
		if it.audio != nil {
			if err := p.conn.WriteBinary(p.ctx, it.audio); err != nil {
				p.sess.handleDeparture(p, "")
				return
			}
			p.sess.metrics.FramesOut.Add(p.ctx, 1)
		}
	}
}

// enqueue pushes an item to the outbound queue, disconnecting the
// participant as a slow consumer when the queue is beyond recovery.
func (p *participant) enqueue(it *outboundItem) {
	depth, err := p.queue.push(it)
	if err != nil {
		if errors.Is(err, ErrSlowConsumer) {
			p.log.Warn("outbound queue saturated, disconnecting")
			go p.sess.handleDeparture(p, CloseSlowConsumer)
		}
		return
	}
	p.sess.metrics.OutboundQueueDepth.Record(p.ctx, int64(depth))
}

func (p *participant) sendError(text string) {
	p.enqueue(&outboundItem{payload: mustJSON(errorEvent{Type: "error", Error: text})})
}

// shutdown releases the participant's resources. Safe to call multiple
// times; only the first reason wins.
func (p *participant) shutdown(reason CloseReason) {
	p.closeOnce.Do(func() {
		p.seg.Close()
		p.queue.closeQueue()
		_ = p.conn.Close(reason)
		p.cancel()
		close(p.done)
	})
}
