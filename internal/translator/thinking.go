package translator

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	thinkingOpenTag  = "<thinking>"
	thinkingCloseTag = "</thinking>"
)

// ThinkingSegmentKind labels parser output.
type ThinkingSegmentKind int

const (
	SegmentThinking ThinkingSegmentKind = iota
	SegmentText
)

// ThinkingSegment is one run of classified response text.
type ThinkingSegment struct {
	Kind ThinkingSegmentKind
	Text string
}

type thinkingParserState int

const (
	tagStateProbe thinkingParserState = iota
	tagStateThinking
	tagStateText
)

type quoteCheck int

const (
	quoteNo quoteCheck = iota
	quoteYes
	quoteUndecided
)

// ThinkingTagParser peels a leading <thinking>…</thinking> block out of
// plain assistant text. Only a block that begins the response counts; close
// tags inside backtick spans, fenced code or matching quotes stay literal.
// Feed accepts arbitrary chunk boundaries; a partial tag at a chunk edge is
// held back until the next chunk decides it.
type ThinkingTagParser struct {
	state       thinkingParserState
	pending     string
	sawThinking bool

	atLineStart bool
	inFence     bool
	inSpan      bool
	prev        byte
}

func NewThinkingTagParser() *ThinkingTagParser {
	return &ThinkingTagParser{atLineStart: true}
}

// SawThinking reports whether a real thinking block was opened.
func (p *ThinkingTagParser) SawThinking() bool { return p.sawThinking }

// Feed consumes the next chunk and returns the segments decided so far.
// Undecided bytes stay buffered for the next call.
func (p *ThinkingTagParser) Feed(chunk string) []ThinkingSegment {
	if chunk == "" {
		return nil
	}
	p.pending += chunk

	switch p.state {
	case tagStateProbe:
		return p.probe()
	case tagStateThinking:
		return p.scanThinking()
	default:
		out := p.pending
		p.pending = ""
		return []ThinkingSegment{{Kind: SegmentText, Text: out}}
	}
}

// Close flushes the buffer at end of stream. An unclosed thinking block is
// emitted as thinking content and logged.
func (p *ThinkingTagParser) Close() []ThinkingSegment {
	out := p.pending
	p.pending = ""
	if out == "" {
		return nil
	}
	if p.state == tagStateThinking {
		log.Warn("thinking tag not closed before stream end")
		return []ThinkingSegment{{Kind: SegmentThinking, Text: out}}
	}
	return []ThinkingSegment{{Kind: SegmentText, Text: out}}
}

func (p *ThinkingTagParser) probe() []ThinkingSegment {
	trimmed := strings.TrimLeft(p.pending, " \t\r\n")
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, thinkingOpenTag) {
		p.sawThinking = true
		p.state = tagStateThinking
		p.pending = trimmed[len(thinkingOpenTag):]
		p.atLineStart = true
		p.prev = 0
		return p.scanThinking()
	}
	if len(trimmed) < len(thinkingOpenTag) && strings.HasPrefix(thinkingOpenTag, trimmed) {
		// could still become the open tag
		return nil
	}
	p.state = tagStateText
	out := p.pending
	p.pending = ""
	return []ThinkingSegment{{Kind: SegmentText, Text: out}}
}

func (p *ThinkingTagParser) scanThinking() []ThinkingSegment {
	s := p.pending
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '<' {
			rest := s[i:]
			if strings.HasPrefix(rest, thinkingCloseTag) {
				quoted := p.quoteWrapped(s, i)
				if quoted == quoteUndecided {
					return p.holdFrom(i)
				}
				if p.inFence || p.inSpan || quoted == quoteYes {
					// literal mention, stays inside the thinking content
					p.prev = '>'
					p.atLineStart = false
					i += len(thinkingCloseTag)
					continue
				}
				var segs []ThinkingSegment
				if i > 0 {
					segs = append(segs, ThinkingSegment{Kind: SegmentThinking, Text: s[:i]})
				}
				p.state = tagStateText
				p.pending = ""
				if tail := s[i+len(thinkingCloseTag):]; tail != "" {
					segs = append(segs, ThinkingSegment{Kind: SegmentText, Text: tail})
				}
				return segs
			}
			if len(rest) < len(thinkingCloseTag) && strings.HasPrefix(thinkingCloseTag, rest) {
				return p.holdFrom(i)
			}
			p.prev = c
			p.atLineStart = false
			i++
			continue
		}
		switch c {
		case '\n':
			p.atLineStart = true
			p.inSpan = false
		case '`':
			if p.atLineStart && strings.HasPrefix(s[i:], "```") {
				p.inFence = !p.inFence
				p.inSpan = false
				p.atLineStart = false
				p.prev = '`'
				i += 3
				continue
			}
			if !p.inFence {
				p.inSpan = !p.inSpan
			}
			p.atLineStart = false
		default:
			p.atLineStart = false
		}
		p.prev = c
		i++
	}
	p.pending = ""
	if len(s) == 0 {
		return nil
	}
	return []ThinkingSegment{{Kind: SegmentThinking, Text: s}}
}

// holdFrom emits everything before i and keeps the rest for the next chunk.
func (p *ThinkingTagParser) holdFrom(i int) []ThinkingSegment {
	s := p.pending
	p.pending = s[i:]
	if i == 0 {
		return nil
	}
	return []ThinkingSegment{{Kind: SegmentThinking, Text: s[:i]}}
}

// quoteWrapped reports whether the close tag at i sits between matching
// quote characters. Undecided means the byte after the tag has not arrived.
func (p *ThinkingTagParser) quoteWrapped(s string, i int) quoteCheck {
	var before byte
	if i > 0 {
		before = s[i-1]
	} else {
		before = p.prev
	}
	if before != '"' && before != '\'' {
		return quoteNo
	}
	after := i + len(thinkingCloseTag)
	if after >= len(s) {
		return quoteUndecided
	}
	if s[after] == before {
		return quoteYes
	}
	return quoteNo
}
