package node

import (
	"sync"
	"time"

	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/dedup"
	"github.com/na7dx/packetnode/internal/kiss"
)

// handleData is the adapter OnData callback: it runs the full receive
// pipeline (decode, parse, dedup, deliver, fan out) for every KISS
// packet decoded from data.
func (m *Manager) handleData(channelID string, data []byte) {
	m.mu.Lock()
	entry, ok := m.channels[channelID]
	m.mu.Unlock()
	if !ok {
		return
	}

	for _, pkt := range entry.decoder.Feed(data) {
		if pkt.Command != kiss.CmdDataFrame {
			// TXDelay, SetHW, and the rest of the TNC parameter
			// commands carry no AX.25 frame.
			continue
		}
		m.handlePacket(channelID, pkt.Payload)
	}
}

func (m *Manager) handlePacket(channelID string, payload []byte) {
	now := time.Now()

	frame, err := ax25.Parse(payload)
	if err != nil {
		m.handlersSnapshot().OnRaw(RawEvent{Channel: channelID, Raw: payload, Err: err, Ts: now})
		return
	}

	fp := dedupFingerprint(frame)
	if m.dedup.Seen(fp, now) {
		m.m.dedupDrop.WithLabelValues(channelID).Inc()
		return
	}
	m.dedup.Remember(fp, frame.Src.Call.String(), now)
	m.m.rx.WithLabelValues(channelID).Inc()

	ev := FrameEvent{Channel: channelID, Raw: payload, Parsed: frame, Ts: now}
	m.recent.Append(ev)
	m.handlersSnapshot().OnFrame(ev)

	m.fanOut(channelID, frame, payload, now)
}

func dedupFingerprint(f ax25.Frame) string {
	return dedup.Fingerprint(f.Src.Call.String(), f.Dest.Call.String(), f.Payload)
}

// fanOut applies step 7: routes with From == channelID are serviced in
// parallel, each target channel's send serialized via its own sendMu.
func (m *Manager) fanOut(fromID string, frame ax25.Frame, raw []byte, ts time.Time) {
	m.mu.Lock()
	var routes []Route
	for _, r := range m.routes {
		if r.From == fromID {
			routes = append(routes, r)
		}
	}
	m.mu.Unlock()
	if len(routes) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, r := range routes {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.serviceRoute(r, frame, raw, ts)
		}()
	}
	wg.Wait()
}

func (m *Manager) serviceRoute(r Route, frame ax25.Frame, raw []byte, ts time.Time) {
	if r.To == IGate {
		m.handlersSnapshot().OnIGate(IGateEvent{Channel: r.From, Parsed: frame, Raw: raw, Ts: ts})
		return
	}

	m.mu.Lock()
	target, ok := m.channels[r.To]
	m.mu.Unlock()
	if !ok {
		return
	}

	idx := ax25.FirstUnrepeated(frame)
	if idx < 0 {
		m.m.servicedWideBlocked.WithLabelValues(r.To).Inc()
		return
	}

	if _, width, isWide := ax25.WideN(frame.Digis[idx]); isWide {
		if target.cfg.Role == RoleFillIn && width >= 2 {
			// Fill-in channels only repeat WIDE1-1.
			m.m.fillInBlocked.WithLabelValues(r.To).Inc()
			return
		}
		if width > target.cfg.MaxWideN {
			m.m.maxWideBlocked.WithLabelValues(r.To).Inc()
			return
		}
	}

	serviced, usedExplicit := ax25.ServiceExplicit(frame, target.cfg.DigiCallsigns)
	if !usedExplicit {
		var matched bool
		serviced, matched = ax25.ServiceWide(frame)
		if !matched {
			return
		}
	}

	if usedExplicit && target.cfg.AppendDigiCallsign && !target.cfg.MyCall.IsZero() {
		serviced = ax25.InsertRepeatedDigi(serviced, idx, target.cfg.MyCall)
	}

	out, err := ax25.Build(serviced)
	if err != nil {
		m.logger.Warn("build serviced frame failed", "channel", r.To, "err", err)
		return
	}

	target.sendMu.Lock()
	sendErr := target.adapter.Send(out)
	target.sendMu.Unlock()
	if sendErr != nil {
		m.logger.Warn("digipeat send failed", "channel", r.To, "err", sendErr)
		return
	}

	m.m.tx.WithLabelValues(r.To).Inc()
	m.m.digipeats.WithLabelValues(r.From, r.To).Inc()
	m.handlersSnapshot().OnTx(TxEvent{Channel: r.To, Parsed: serviced, Raw: out, Ts: ts})
}
