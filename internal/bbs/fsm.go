package bbs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// substate is the BBS session's place within the connected-mode
// conversation.
type substate int

const (
	substateConnected substate = iota
	substateAwaitingName
	substateAwaitingQTH
	substateComposing
	substatePostRead
)

// composeDraft accumulates a multi-line message body until a lone "."
// line terminates it.
type composeDraft struct {
	recipient string
	subject   string
	lines     []string
}

// SendFunc delivers text back to the connected station. Callers wire
// this to the session actor's outbound path (session.Manager.Send).
type SendFunc func(text string)

// Session is one connected station's BBS conversation state machine.
// One Session exists per live AX.25 connection; the session engine
// owns its lifetime and serializes calls into Handle.
type Session struct {
	mu sync.Mutex

	store      *Store
	dir        *UserDirectory
	send       SendFunc
	hangup     func()
	callsign   string
	systemCall string

	state         substate
	name          string
	qth           string
	draft         *composeDraft
	draftCategory Category
	draftReplyTo  int
	lastNumber    int // message number shown by the most recent R, for post-read Y/D

	lastPrompt time.Time
}

// NewSession returns a Session for callsign, bound to store and send.
func NewSession(store *Store, callsign string, send SendFunc) *Session {
	return &Session{
		store:    store,
		send:     send,
		hangup:   func() {},
		callsign: strings.ToUpper(callsign),
		state:    substateConnected,
	}
}

// SetHangup wires the function called when the station issues B/BYE;
// the caller should send DM and tear down the underlying AX.25 session
// (session.Manager.Disconnect).
func (s *Session) SetHangup(fn func()) {
	s.mu.Lock()
	s.hangup = fn
	s.mu.Unlock()
}

// SetDirectory wires the collaborator that distinguishes a station's
// first-ever connection from a return visit; without one, every
// connection is treated as a return visit and name/QTH capture is
// skipped.
func (s *Session) SetDirectory(dir *UserDirectory) {
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
}

// SetSystemCall names the BBS's own station identity (config.BBSConfig.Call)
// for the first-connect banner, e.g. "NA4WX-7 Packet BBS". Empty uses
// a generic "Packet BBS" banner.
func (s *Session) SetSystemCall(call string) {
	s.mu.Lock()
	s.systemCall = strings.ToUpper(call)
	s.mu.Unlock()
}

// Greet sends the initial banner on connect. A station the directory
// has never seen before is walked through name/QTH capture first; a
// known station goes straight to the welcome banner.
func (s *Session) Greet() {
	if s.dir != nil {
		if _, known := s.dir.Known(s.callsign); !known {
			banner := "Packet BBS"
			if s.systemCall != "" {
				banner = s.systemCall + " " + banner
			}
			s.send(banner)
			s.send("Enter your Name:")
			s.state = substateAwaitingName
			return
		}
	}
	s.send(fmt.Sprintf("Welcome %s. Type H for help.", s.callsign))
	s.prompt()
}

// prompt sends a ">" prompt, debounced to at most once per 2 seconds
// so link-layer retransmits don't stack prompts.
func (s *Session) prompt() {
	now := time.Now()
	if now.Sub(s.lastPrompt) < 2*time.Second {
		return
	}
	s.lastPrompt = now
	s.send(">")
}

// Handle processes one line of input from the connected station.
func (s *Session) Handle(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case substateAwaitingName:
		s.name = strings.TrimSpace(line)
		s.state = substateAwaitingQTH
		s.send(fmt.Sprintf("Thanks, %s.", s.name))
		s.send("Enter your QTH (City, ST):")
		return
	case substateAwaitingQTH:
		s.qth = strings.TrimSpace(line)
		s.state = substateConnected
		if s.dir != nil {
			s.dir.Record(s.callsign, s.name, s.qth, time.Now())
		}
		s.send(fmt.Sprintf("Welcome %s. Type H for help.", s.callsign))
		s.prompt()
		return
	case substateComposing:
		s.handleComposeLine(line)
		return
	case substatePostRead:
		s.handlePostReadLine(line)
		return
	}

	s.dispatch(strings.TrimSpace(line))
}

func (s *Session) dispatch(line string) {
	if line == "" {
		s.prompt()
		return
	}
	fields := strings.Fields(line)
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "H", "HELP", "?":
		s.send("Commands: L(IST) P(ERSONAL) R n S call text M call B(YE)")
	case "L", "LIST":
		s.cmdList()
	case "P", "PERSONAL":
		s.cmdPersonal()
	case "R":
		s.cmdRead(args)
	case "S":
		s.cmdOneShotSend(args)
	case "M":
		s.cmdCompose(args)
	case "B", "BYE":
		s.send("73 de " + s.callsign)
		s.hangup()
		return
	default:
		// Anything else at the main prompt is a one-line bulletin
		// post to ALL.
		s.cmdBulletinPost(line)
	}
	s.prompt()
}

func (s *Session) cmdList() {
	msgs := s.store.ListBulletins(10)
	if len(msgs) == 0 {
		s.send("No bulletins.")
		return
	}
	for _, m := range msgs {
		s.send(fmt.Sprintf("%d %s %s", m.Number, m.Sender, m.Subject))
	}
}

func (s *Session) cmdPersonal() {
	msgs := s.store.ListPersonal(s.callsign, 10)
	if len(msgs) == 0 {
		s.send("No personal messages.")
		return
	}
	for _, m := range msgs {
		s.send(fmt.Sprintf("%d %s %s", m.Number, m.Sender, m.Subject))
	}
}

func (s *Session) cmdRead(args []string) {
	if len(args) != 1 {
		s.send("Usage: R n")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		s.send("Usage: R n")
		return
	}
	m, ok := s.store.Get(n)
	if !ok {
		s.send("No such message.")
		return
	}
	s.store.MarkAsRead(n, s.callsign)
	s.send(fmt.Sprintf("From: %s", m.Sender))
	s.send(fmt.Sprintf("Subj: %s", m.Subject))
	s.send(m.Content)
	s.lastNumber = n
	s.state = substatePostRead
	s.send("(Y)ank reply, (D)elete, or Enter to continue")
}

func (s *Session) handlePostReadLine(line string) {
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case "D":
		s.store.Delete(s.lastNumber)
		s.send("Deleted.")
	case "Y":
		if m, ok := s.store.Get(s.lastNumber); ok {
			s.draft = &composeDraft{recipient: m.Sender, subject: "Re: " + m.Subject}
			s.draftCategory = CategoryPersonal
			s.draftReplyTo = m.Number
			s.state = substateComposing
			s.send("Enter reply, end with a line containing only \".\"")
			return
		}
	}
	s.state = substateConnected
	s.prompt()
}

// cmdOneShotSend implements "S CALL text": a single-line personal
// message, posted immediately with no compose mode.
func (s *Session) cmdOneShotSend(args []string) {
	if len(args) < 2 {
		s.send("Usage: S call text")
		return
	}
	recipient := strings.ToUpper(args[0])
	text := strings.Join(args[1:], " ")
	n := s.store.AddMessage(NewMessageRequest{
		Sender:    s.callsign,
		Recipient: recipient,
		Subject:   text,
		Content:   text,
		Category:  CategoryPersonal,
		Priority:  PriorityNormal,
	})
	s.send(fmt.Sprintf("Message %d sent.", n))
}

// cmdCompose implements "M CALL": enters composing mode addressed to
// CALL; the terminator line "." posts the accumulated body, or
// cancels it if the body is empty.
func (s *Session) cmdCompose(args []string) {
	if len(args) < 1 {
		s.send("Usage: M call")
		return
	}
	recipient := strings.ToUpper(args[0])
	s.draft = &composeDraft{recipient: recipient}
	s.draftCategory = CategoryPersonal
	s.draftReplyTo = 0
	s.state = substateComposing
	s.send("Enter message, end with a line containing only \".\"")
}

// cmdBulletinPost implements "anything else at main": the whole input
// line is posted as a category-B bulletin addressed to ALL.
func (s *Session) cmdBulletinPost(line string) {
	n := s.store.AddMessage(NewMessageRequest{
		Sender:    s.callsign,
		Recipient: "ALL",
		Subject:   line,
		Content:   line,
		Category:  CategoryBulletin,
		Priority:  PriorityNormal,
	})
	s.send(fmt.Sprintf("Bulletin %d posted.", n))
}

func (s *Session) handleComposeLine(line string) {
	if strings.TrimSpace(line) == "." {
		if len(s.draft.lines) == 0 {
			s.send("Cancelled.")
			s.draft = nil
			s.state = substateConnected
			s.prompt()
			return
		}
		req := NewMessageRequest{
			Sender:    s.callsign,
			Recipient: s.draft.recipient,
			Subject:   s.draft.subject,
			Content:   strings.Join(s.draft.lines, "\n"),
			Category:  s.draftCategory,
			Priority:  PriorityNormal,
			ReplyTo:   s.draftReplyTo,
		}
		if req.Subject == "" {
			req.Subject = s.draft.lines[0]
		}
		n := s.store.AddMessage(req)
		s.send(fmt.Sprintf("Message %d sent.", n))
		s.draft = nil
		s.draftReplyTo = 0
		s.state = substateConnected
		s.prompt()
		return
	}
	s.draft.lines = append(s.draft.lines, line)
}
