// Package weather turns structured weather alerts into APRS bulletin
// frames: tag selection, payload chunking, SAME-code framing,
// and echo suppression for rebroadcast loops.
package weather

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// PayloadBudget is the default APRS information-field budget a
// bulletin body is wrapped to.
const PayloadBudget = 67

// EchoSuppressTTL bounds how long an externally-seen SAME bulletin
// hash is remembered before it can be rebroadcast again.
const EchoSuppressTTL = time.Hour

// Alert is the structured weather alert input.
type Alert struct {
	Event       string
	Area        string
	SAMECodes   []string
	Effective   time.Time
	Expires     time.Time
	Description string
	Instruction string
}

// tagTable maps an event keyword to its BLN tag.
var tagTable = []struct {
	keyword string
	tag     string
}{
	{"TORNADO", "BLN2TOR"},
	{"SEVERE THUNDERSTORM", "BLN3SVR"},
	{"FLOOD", "BLN4FLD"},
	{"EMERGENCY", "BLN9EMR"},
}

const defaultTag = "BLN1WX"

// SelectTag picks the BLN bulletin tag for an alert's event text.
func SelectTag(event string) string {
	upper := strings.ToUpper(event)
	for _, e := range tagTable {
		if strings.Contains(upper, e.keyword) {
			return e.tag
		}
	}
	return defaultTag
}

// Bulletin is one chunked APRS bulletin frame's information field.
type Bulletin struct {
	Tag  string
	Text string
}

// BuildBulletins wraps alert into one or more Bulletin frames targeted
// at ALLWX, word-wrapping to PayloadBudget and hard-wrapping any word
// that alone exceeds it. If the alert carries SAME codes and no frame
// already contains "SAME:", a secondary SAME:xxxxxx,yyyyyy frame is
// appended.
func BuildBulletins(a Alert) []Bulletin {
	tag := SelectTag(a.Event)
	body := strings.TrimSpace(a.Event + ". " + a.Description)
	if a.Instruction != "" {
		body += " " + a.Instruction
	}

	chunks := wrap(body, PayloadBudget)
	bulletins := make([]Bulletin, 0, len(chunks)+1)
	for _, c := range chunks {
		bulletins = append(bulletins, Bulletin{Tag: tag, Text: c})
	}

	if len(a.SAMECodes) > 0 && !anyContainsSAME(chunks) {
		bulletins = append(bulletins, Bulletin{Tag: tag, Text: "SAME:" + strings.Join(a.SAMECodes, ",")})
	}
	return bulletins
}

func anyContainsSAME(chunks []string) bool {
	for _, c := range chunks {
		if strings.Contains(c, "SAME:") {
			return true
		}
	}
	return false
}

// wrap word-wraps text to width, hard-wrapping any single word that
// alone exceeds width.
func wrap(text string, width int) []string {
	words := strings.Fields(text)
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, w := range words {
		for len(w) > width {
			if cur.Len() > 0 {
				flush()
			}
			chunks = append(chunks, w[:width])
			w = w[width:]
		}
		candidateLen := cur.Len() + len(w)
		if cur.Len() > 0 {
			candidateLen++ // separating space
		}
		if candidateLen > width {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	flush()
	if len(chunks) == 0 {
		chunks = append(chunks, "")
	}
	return chunks
}

// EchoHash fingerprints an external bulletin payload for loop
// suppression.
func EchoHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// EchoGuard tracks recently-seen external SAME bulletin payload
// hashes so each is rebroadcast at most once within EchoSuppressTTL.
type EchoGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewEchoGuard returns an EchoGuard using EchoSuppressTTL.
func NewEchoGuard() *EchoGuard {
	return &EchoGuard{seen: make(map[string]time.Time), ttl: EchoSuppressTTL}
}

// ShouldRebroadcast reports whether payload (matched by its hash)
// hasn't been rebroadcast within the suppression window; if so, it
// records the hash and returns true.
func (g *EchoGuard) ShouldRebroadcast(payload []byte, now time.Time) bool {
	hash := EchoHash(payload)
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.seen[hash]; ok && now.Sub(t) < g.ttl {
		return false
	}
	g.seen[hash] = now
	return true
}

// Purge drops expired echo-guard entries.
func (g *EchoGuard) Purge(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for h, t := range g.seen {
		if now.Sub(t) >= g.ttl {
			delete(g.seen, h)
			removed++
		}
	}
	return removed
}

// ExtractSAMECodes pulls the 6-digit codes out of a "SAME:xxxxxx,yyyyyy"
// line, if present.
func ExtractSAMECodes(payload string) []string {
	idx := strings.Index(payload, "SAME:")
	if idx < 0 {
		return nil
	}
	rest := payload[idx+len("SAME:"):]
	if sp := strings.IndexAny(rest, " \r\n"); sp >= 0 {
		rest = rest[:sp]
	}
	var codes []string
	for _, c := range strings.Split(rest, ",") {
		c = strings.TrimSpace(c)
		if len(c) == 6 {
			codes = append(codes, c)
		}
	}
	return codes
}

// Intersects reports whether any code in a appears in b.
func Intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, c := range b {
		set[c] = struct{}{}
	}
	for _, c := range a {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}
