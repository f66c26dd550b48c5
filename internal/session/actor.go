package session

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/callsign"
)

// actor owns one session's state and is the single task serving its
// (channel, remote base) key. All mutation of vS/vR happens inside
// run, so they need no locks.
type actor struct {
	key    Key
	cfg    Config
	h      Handlers
	logger *log.Logger

	mailbox  chan func()
	done     chan struct{}
	stopOnce sync.Once

	myCall   callsign.Callsign
	peerCall callsign.Callsign

	state    State
	vs, vr   uint8
	remoteNr uint8
	needsAck bool
	lastSent ax25.Frame
	hasSent  bool

	inactivity  *time.Timer
	deferredAck *time.Timer

	mu sync.Mutex // guards the snapshot fields for Snapshot()
}

func newActor(key Key, myCall, peerCall callsign.Callsign, cfg Config, h Handlers, logger *log.Logger) *actor {
	a := &actor{
		key:      key,
		cfg:      cfg,
		h:        h,
		logger:   logger.With("channel", key.ChannelID, "peer", key.RemoteBase),
		mailbox:  make(chan func(), 32),
		done:     make(chan struct{}),
		myCall:   myCall,
		peerCall: peerCall,
		state:    StateDisconnected,
	}
	go a.run()
	return a
}

func (a *actor) run() {
	for {
		select {
		case fn, ok := <-a.mailbox:
			if !ok {
				return
			}
			fn()
		case <-a.done:
			return
		}
	}
}

// post enqueues fn on the session's mailbox; it never blocks the
// caller indefinitely beyond the mailbox's buffer.
func (a *actor) post(fn func()) {
	select {
	case a.mailbox <- fn:
	case <-a.done:
	}
}

func (a *actor) stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

func (a *actor) resetInactivity() {
	if a.inactivity != nil {
		a.inactivity.Stop()
	}
	a.inactivity = time.AfterFunc(a.cfg.InactivityTimeout, func() {
		a.post(a.handleInactivityTimeout)
	})
}

func (a *actor) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *actor) Snapshot() snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return snapshot{Key: a.key, State: a.state, VS: a.vs, VR: a.vr, RemoteNR: a.remoteNr}
}

func (a *actor) sendU(ut ax25.UType, pf bool) {
	f := ax25.Frame{
		Dest: ax25.Address{Call: a.peerCall, CH: false},
		Src:  ax25.Address{Call: a.myCall, CH: true},
		Control: ax25.Control{Kind: ax25.KindU, UT: ut, PF: pf},
	}
	a.h.SendFrame(a.key.ChannelID, f)
}

func (a *actor) handleFrame(f ax25.Frame) {
	a.resetInactivity()

	switch f.Control.Kind {
	case ax25.KindU:
		a.handleU(f)
	case ax25.KindI:
		a.handleI(f)
	case ax25.KindS:
		a.handleS(f)
	}
}

func (a *actor) handleU(f ax25.Frame) {
	switch f.Control.UT {
	case ax25.USABM:
		if a.state != StateConnected {
			// A retransmitted SABM on a live session (the peer's UA got
			// lost) must not zero the sequence counters out from under
			// frames already exchanged; only a fresh connect resets.
			a.vs, a.vr = 0, 0
		}
		a.setState(StateConnected)
		a.sendU(ax25.UUA, f.Control.PF)
		a.h.OnConnect(a.key)
	case ax25.UDISC:
		a.sendU(ax25.UDM, f.Control.PF)
		a.cleanup()
	}
}

func (a *actor) handleI(f ax25.Frame) {
	if a.state != StateConnected {
		return
	}
	if f.Control.NS == a.vr {
		a.vr = (a.vr + 1) % 8
		a.h.OnData(a.key, f.Payload)
		if f.Control.PF {
			a.sendRR(true)
		} else {
			a.scheduleDeferredAck()
		}
		return
	}
	// Out-of-order: drop the payload and send REJ to fast-resync.
	a.sendS(ax25.REJ, false)
}

func (a *actor) handleS(f ax25.Frame) {
	if a.state != StateConnected {
		return
	}
	switch f.Control.SSub {
	case ax25.SRR:
		a.remoteNr = f.Control.NR
	case ax25.REJ:
		a.vs = f.Control.NR
		if a.hasSent {
			resend := a.lastSent
			resend.Control.NS = a.vs
			a.vs = (a.vs + 1) % 8
			a.lastSent = resend
			a.h.SendFrame(a.key.ChannelID, resend)
		}
	}
}

func (a *actor) sendRR(pf bool) {
	if a.deferredAck != nil {
		a.deferredAck.Stop()
		a.deferredAck = nil
	}
	a.needsAck = false
	f := ax25.Frame{
		Dest:    ax25.Address{Call: a.peerCall},
		Src:     ax25.Address{Call: a.myCall, CH: true},
		Control: ax25.Control{Kind: ax25.KindS, SSub: ax25.SRR, NR: a.vr, PF: pf},
	}
	a.h.SendFrame(a.key.ChannelID, f)
}

func (a *actor) sendS(sub ax25.SSubtype, pf bool) {
	f := ax25.Frame{
		Dest:    ax25.Address{Call: a.peerCall},
		Src:     ax25.Address{Call: a.myCall, CH: true},
		Control: ax25.Control{Kind: ax25.KindS, SSub: sub, NR: a.vr, PF: pf},
	}
	a.h.SendFrame(a.key.ChannelID, f)
}

func (a *actor) scheduleDeferredAck() {
	a.needsAck = true
	if a.deferredAck != nil {
		return // a timer is already pending; it will flush the latest vR
	}
	a.deferredAck = time.AfterFunc(a.cfg.AckDeferWindow, func() {
		a.post(func() {
			if a.needsAck {
				a.sendRR(false)
			}
		})
	})
}

// sendData builds and transmits the next outbound I-frame carrying
// payload. It is posted to the actor's mailbox by the Manager.
func (a *actor) sendData(payload []byte, pf bool) {
	if a.state != StateConnected {
		return
	}
	if a.cfg.BBSDelay > 0 {
		time.Sleep(a.cfg.BBSDelay)
	}
	f := ax25.Frame{
		Dest:    ax25.Address{Call: a.peerCall},
		Src:     ax25.Address{Call: a.myCall, CH: true},
		Control: ax25.Control{Kind: ax25.KindI, NS: a.vs, NR: a.vr, PF: pf},
		HasPID:  true,
		PID:     0xF0,
		Payload: payload,
	}
	a.lastSent = f
	a.hasSent = true
	a.vs = (a.vs + 1) % 8
	a.h.SendFrame(a.key.ChannelID, f)
}

// localDisconnect tears down the session on this node's own initiative
// (a BBS "BYE"): sends DM without waiting for any reply, then cleans
// up.
func (a *actor) localDisconnect() {
	if a.state != StateConnected {
		return
	}
	a.sendU(ax25.UDM, false)
	a.cleanup()
}

func (a *actor) handleInactivityTimeout() {
	if a.state != StateConnected {
		return
	}
	a.sendU(ax25.UDM, false)
	a.cleanup()
}

func (a *actor) cleanup() {
	a.setState(StateDisconnected)
	if a.inactivity != nil {
		a.inactivity.Stop()
	}
	if a.deferredAck != nil {
		a.deferredAck.Stop()
	}
	a.h.OnDisconnect(a.key)
	a.stop()
}
