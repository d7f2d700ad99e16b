package dbc

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseFile reads path and parses it as a DBC file. Parse errors on
// individual lines are warnings (returned, not erroring the call); only
// file I/O failures return a non-nil error.
func ParseFile(path string) (*File, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	f, warnings := ParseBytes(data)
	return f, warnings, nil
}

// ParseBytes parses raw DBC text already in memory. Accepts any 8-bit clean
// byte sequence.
func ParseBytes(data []byte) (*File, []error) {
	p := &parser{
		file: &File{
			ValueTables: make(map[string]*ValueTable),
		},
	}
	p.run(data)
	return p.file, p.warnings
}

type parser struct {
	file     *File
	warnings []error
}

func (p *parser) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Errorf(format, args...))
	p.file.Partial = true
}

func (p *parser) run(data []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pendingSignalsMsg *Message // message currently accumulating SG_ lines
	var inNS bool

	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}

		if inNS {
			// NS_ block: indented continuation lines list new-symbol names
			// until a line that starts a new top-level keyword.
			if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
				p.file.NewSymbols = append(p.file.NewSymbols, trimmed)
				continue
			}
			inNS = false
		}

		switch {
		case strings.HasPrefix(trimmed, "VERSION"):
			pendingSignalsMsg = nil
			toks, err := tokenize(trimmed)
			if err != nil || len(toks) < 2 {
				p.warnf("dbc: bad VERSION line: %q", trimmed)
				continue
			}
			p.file.Version = unquote(toks[1])

		case strings.HasPrefix(trimmed, "NS_"):
			pendingSignalsMsg = nil
			inNS = true

		case strings.HasPrefix(trimmed, "BS_"):
			pendingSignalsMsg = nil
			p.parseBitTiming(trimmed)

		case strings.HasPrefix(trimmed, "BU_"):
			pendingSignalsMsg = nil
			p.parseNodes(trimmed)

		case strings.HasPrefix(trimmed, "VAL_TABLE_"):
			pendingSignalsMsg = nil
			p.parseValueTable(trimmed)

		case strings.HasPrefix(trimmed, "BO_ "):
			msg, err := p.parseMessage(trimmed)
			if err != nil {
				p.warnf("dbc: %v", err)
				pendingSignalsMsg = nil
				continue
			}
			p.file.Messages = append(p.file.Messages, *msg)
			pendingSignalsMsg = &p.file.Messages[len(p.file.Messages)-1]

		case strings.HasPrefix(trimmed, "SG_ "):
			if pendingSignalsMsg == nil {
				p.warnf("dbc: SG_ line outside of a BO_ message: %q", trimmed)
				continue
			}
			sig, err := parseSignal(trimmed)
			if err != nil {
				p.warnf("dbc: %v", err)
				continue
			}
			pendingSignalsMsg.Signals = append(pendingSignalsMsg.Signals, *sig)
			if sig.Mux.Kind == MuxSource {
				pendingSignalsMsg.MultiplexorIdx = len(pendingSignalsMsg.Signals) - 1
			}

		case strings.HasPrefix(trimmed, "CM_"):
			pendingSignalsMsg = nil
			p.parseComment(trimmed)

		case strings.HasPrefix(trimmed, "BA_DEF_"):
			pendingSignalsMsg = nil // attribute definitions are recognized and ignored

		case strings.HasPrefix(trimmed, "BA_ "):
			pendingSignalsMsg = nil

		case strings.HasPrefix(trimmed, "VAL_ "):
			pendingSignalsMsg = nil
			p.parseValueDef(trimmed)

		case strings.HasPrefix(trimmed, "SIG_GROUP_"):
			pendingSignalsMsg = nil

		default:
			pendingSignalsMsg = nil
			p.warnf("dbc: unrecognised line, skipped: %q", trimmed)
		}
	}

	// Resolve Muxed/Both signals' source index now that every signal in
	// each message has been parsed.
	for mi := range p.file.Messages {
		m := &p.file.Messages[mi]
		for si := range m.Signals {
			sig := &m.Signals[si]
			if sig.Mux.Kind == MuxMuxed || sig.Mux.Kind == MuxBoth {
				if m.MultiplexorIdx < 0 {
					p.warnf("dbc: message %q has a Muxed signal %q with no MuxSource", m.Name, sig.Name)
					continue
				}
				sig.Mux.SourceIndex = m.MultiplexorIdx
			}
		}
		if m.MultiplexorIdx == 0 && len(m.Signals) == 0 {
			m.MultiplexorIdx = -1
		}
	}
}

// tokenize splits a line on whitespace, keeping double-quoted strings intact
// as single tokens (quotes retained; callers unquote as needed). Returns an
// error if a quoted string is never closed.
func tokenize(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			cur.WriteByte(c)
		case !inQuote && (c == ' ' || c == '\t'):
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quoted string in line: %q", line)
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks, nil
}

func unquote(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	return tok
}

func (p *parser) parseBitTiming(line string) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "BS_:"))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "BS_"))
	if rest == "" {
		return
	}
	parts := strings.Split(rest, ",")
	if len(parts) >= 1 {
		p.file.BitTiming.BaudRateKbps = atoiSafe(parts[0])
	}
	if len(parts) >= 2 {
		p.file.BitTiming.BTR1 = atoiSafe(parts[1])
	}
	if len(parts) >= 3 {
		p.file.BitTiming.BTR2 = atoiSafe(parts[2])
	}
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func (p *parser) parseNodes(line string) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "BU_:"))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "BU_"))
	for _, name := range strings.Fields(rest) {
		p.file.Nodes = append(p.file.Nodes, Node{Name: name})
	}
}

// parseValueTable parses `VAL_TABLE_ name value "desc" value "desc" ... ;`
func (p *parser) parseValueTable(line string) {
	toks, err := tokenize(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	if err != nil || len(toks) < 2 {
		p.warnf("dbc: bad VAL_TABLE_ line: %q", line)
		return
	}
	name := toks[1]
	vt := &ValueTable{Name: name, Values: make(map[uint32]string)}
	i := 2
	for i+1 < len(toks) {
		n, err := strconv.ParseUint(toks[i], 10, 32)
		if err != nil {
			p.warnf("dbc: bad value table entry in %q: %v", line, err)
			break
		}
		vt.Values[uint32(n)] = unquote(toks[i+1])
		i += 2
	}
	p.file.ValueTables[name] = vt
}

// parseMessage parses `BO_ id name: size transmitter`
func (p *parser) parseMessage(line string) (*Message, error) {
	toks, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(toks) < 5 {
		return nil, fmt.Errorf("malformed BO_ line: %q", line)
	}
	idNum, err := strconv.ParseUint(toks[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad message id in %q: %w", line, err)
	}
	name := strings.TrimSuffix(toks[2], ":")
	size, err := strconv.Atoi(toks[3])
	if err != nil {
		return nil, fmt.Errorf("bad message size in %q: %w", line, err)
	}
	id := uint32(idNum)
	// DBC convention: IDs with bit 31 set are extended (29-bit) frames.
	isExt := id&0x80000000 != 0
	id &^= 0x80000000
	return &Message{
		ID:              id,
		IsExtended:      isExt,
		Name:            name,
		ByteSize:        size,
		TransmitterNode: toks[4],
		MultiplexorIdx:  -1,
	}, nil
}

// parseSignal parses:
//
//	SG_ name [M|m<n>] : start|len@order+/- (factor,offset) [min|max] "unit" receivers
func parseSignal(line string) (*Signal, error) {
	toks, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(toks) < 8 {
		return nil, fmt.Errorf("malformed SG_ line: %q", line)
	}

	sig := &Signal{Name: toks[1]}
	idx := 2

	// Optional multiplexor marker: "M" (source) or "m<n>" (muxed group n).
	if toks[idx] != ":" {
		marker := toks[idx]
		switch {
		case marker == "M":
			sig.Mux.Kind = MuxSource
		case len(marker) > 1 && marker[0] == 'm':
			n, err := strconv.ParseUint(marker[1:], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad mux marker %q in %q", marker, line)
			}
			sig.Mux.Kind = MuxMuxed
			sig.Mux.SwitchRanges = []SwitchRange{{Lo: uint32(n), Hi: uint32(n)}}
		default:
			return nil, fmt.Errorf("unexpected token %q in %q", marker, line)
		}
		idx++
	}

	if toks[idx] != ":" {
		return nil, fmt.Errorf("expected ':' in %q", line)
	}
	idx++

	// "<start>|<len>@<order><sign>"
	layout := toks[idx]
	idx++
	atIdx := strings.IndexByte(layout, '@')
	barIdx := strings.IndexByte(layout, '|')
	if atIdx < 0 || barIdx < 0 || barIdx > atIdx {
		return nil, fmt.Errorf("malformed bit layout %q in %q", layout, line)
	}
	start, err := strconv.Atoi(layout[:barIdx])
	if err != nil {
		return nil, fmt.Errorf("bad start bit in %q: %w", layout, err)
	}
	bitLen, err := strconv.Atoi(layout[barIdx+1 : atIdx])
	if err != nil {
		return nil, fmt.Errorf("bad bit length in %q: %w", layout, err)
	}
	if len(layout) < atIdx+3 {
		return nil, fmt.Errorf("malformed order/sign in %q", layout)
	}
	orderCh := layout[atIdx+1]
	signCh := layout[atIdx+2]
	sig.StartBit = start
	sig.BitLen = bitLen
	if orderCh == '0' {
		sig.ByteOrder = BigEndian
	} else {
		sig.ByteOrder = LittleEndian
	}
	if signCh == '-' {
		sig.ValueType = Signed
	} else {
		sig.ValueType = Unsigned
	}

	// "(factor,offset)"
	factorOffset := toks[idx]
	idx++
	factorOffset = strings.TrimPrefix(factorOffset, "(")
	factorOffset = strings.TrimSuffix(factorOffset, ")")
	parts := strings.SplitN(factorOffset, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed (factor,offset) %q in %q", factorOffset, line)
	}
	sig.Factor, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("bad factor in %q: %w", factorOffset, err)
	}
	sig.Offset, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("bad offset in %q: %w", factorOffset, err)
	}

	// "[min|max]"
	minMax := toks[idx]
	idx++
	minMax = strings.TrimPrefix(minMax, "[")
	minMax = strings.TrimSuffix(minMax, "]")
	parts = strings.SplitN(minMax, "|", 2)
	if len(parts) == 2 {
		sig.Min, _ = strconv.ParseFloat(parts[0], 64)
		sig.Max, _ = strconv.ParseFloat(parts[1], 64)
	}

	if idx < len(toks) {
		sig.Unit = unquote(toks[idx])
		idx++
	}

	if idx < len(toks) {
		receivers := strings.TrimSuffix(toks[idx], ";")
		for _, r := range strings.Split(receivers, ",") {
			r = strings.TrimSpace(r)
			if r != "" && r != "Vector__XXX" {
				sig.Receivers = append(sig.Receivers, r)
			}
		}
	}

	return sig, nil
}

// parseComment parses the three CM_ scopings plus the bare file-level form.
func (p *parser) parseComment(line string) {
	toks, err := tokenize(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	if err != nil || len(toks) < 2 {
		p.warnf("dbc: bad CM_ line: %q", line)
		return
	}
	switch toks[1] {
	case "BU_":
		if len(toks) < 4 {
			p.warnf("dbc: bad CM_ BU_ line: %q", line)
			return
		}
		// Node comments are not separately modelled; recorded as a file comment.
		p.file.Comments = append(p.file.Comments, fmt.Sprintf("BU_ %s: %s", toks[2], unquote(toks[3])))
	case "BO_":
		if len(toks) < 4 {
			p.warnf("dbc: bad CM_ BO_ line: %q", line)
			return
		}
		id, err := strconv.ParseUint(toks[2], 10, 32)
		if err != nil {
			p.warnf("dbc: bad CM_ BO_ id in %q: %v", line, err)
			return
		}
		if m := p.file.MessageByID(uint32(id)); m != nil {
			m.Comment = unquote(toks[3])
		}
	case "SG_":
		if len(toks) < 5 {
			p.warnf("dbc: bad CM_ SG_ line: %q", line)
			return
		}
		id, err := strconv.ParseUint(toks[2], 10, 32)
		if err != nil {
			p.warnf("dbc: bad CM_ SG_ id in %q: %v", line, err)
			return
		}
		if m := p.file.MessageByID(uint32(id)); m != nil {
			if s := m.SignalByName(toks[3]); s != nil {
				s.Comment = unquote(toks[4])
			}
		}
	default:
		// Bare file-level comment: CM_ "text";
		p.file.Comments = append(p.file.Comments, unquote(toks[1]))
	}
}

// parseValueDef parses `VAL_ id signalname value "desc" value "desc" ... ;`
func (p *parser) parseValueDef(line string) {
	toks, err := tokenize(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	if err != nil || len(toks) < 4 {
		p.warnf("dbc: bad VAL_ line: %q", line)
		return
	}
	id, err := strconv.ParseUint(toks[1], 10, 32)
	if err != nil {
		p.warnf("dbc: bad VAL_ id in %q: %v", line, err)
		return
	}
	m := p.file.MessageByID(uint32(id))
	if m == nil {
		p.warnf("dbc: VAL_ references unknown message %d", id)
		return
	}
	s := m.SignalByName(toks[2])
	if s == nil {
		p.warnf("dbc: VAL_ references unknown signal %q on message %d", toks[2], id)
		return
	}
	vt := &ValueTable{Values: make(map[uint32]string)}
	i := 3
	for i+1 < len(toks) {
		n, err := strconv.ParseUint(toks[i], 10, 32)
		if err != nil {
			p.warnf("dbc: bad VAL_ entry in %q: %v", line, err)
			break
		}
		vt.Values[uint32(n)] = unquote(toks[i+1])
		i += 2
	}
	s.ValueTable = vt
}
