package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrUnknownType is returned when decoding a part with an unrecognized type tag.
var ErrUnknownType = errors.New("unknown part type")

type decoder func([]byte) (Event, error)

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[Type]decoder{
	TypeStart:                decodeAs[Start],
	TypeStartStep:            decodeAs[StartStep],
	TypeFinishStep:           decodeAs[FinishStep],
	TypeFinish:               decodeAs[Finish],
	TypeError:                decodeError,
	TypeTextStart:            decodeAs[TextStart],
	TypeTextDelta:            decodeAs[TextDelta],
	TypeTextEnd:              decodeAs[TextEnd],
	TypeReasoningStart:       decodeAs[ReasoningStart],
	TypeReasoningDelta:       decodeAs[ReasoningDelta],
	TypeReasoningEnd:         decodeAs[ReasoningEnd],
	TypeToolInputStart:       decodeAs[ToolInputStart],
	TypeToolInputDelta:       decodeAs[ToolInputDelta],
	TypeToolInputEnd:         decodeAs[ToolInputEnd],
	TypeToolCall:             decodeAs[ToolCall],
	TypeToolResult:           decodeAs[ToolResult],
	TypeToolError:            decodeAs[ToolError],
	TypeToolApprovalRequest:  decodeAs[ToolApprovalRequest],
	TypeToolApprovalResponse: decodeAs[ToolApprovalResponse],
	TypeToolOutputDenied:     decodeAs[ToolOutputDenied],
	TypeSource:               decodeAs[Source],
	TypeFile:                 decodeAs[File],
	TypeData:                 decodeAs[Data],
	TypeRaw:                  decodeAs[Raw],
}

func decodeError(data []byte) (Event, error) {
	var v Error
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	v.Err = errors.New(v.Message)
	return v, nil
}

// Marshal encodes a part as a JSON object with a "type" tag.
func Marshal(e Event) ([]byte, error) {
	return marshalWith(e, nil)
}

func marshalWith(e Event, prefix []byte) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type(), err)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(prefix)
	buf.WriteString(`"type":`)
	buf.WriteString(strconv.Quote(string(e.Type())))
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a part produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	dec, ok := decoders[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	return dec(data)
}

// Envelope pairs a part with its position in the run.
type Envelope struct {
	Seq   uint64
	Event Event
}

// MarshalJSON encodes the envelope as the part object with a "seq" field.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return marshalWith(e.Event, []byte(`"seq":`+strconv.FormatUint(e.Seq, 10)+`,`))
}

// UnmarshalJSON decodes an envelope produced by MarshalJSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var head struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	ev, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Seq = head.Seq
	e.Event = ev
	return nil
}

// Format selects the line-delimited transport framing.
type Format int

const (
	// FormatJSONL writes one JSON object per line.
	FormatJSONL Format = iota
	// FormatSSE writes Server-Sent Events frames with the sequence as event id.
	FormatSSE
)

// Encoder writes envelopes to a stream, one logical event per line or frame.
type Encoder struct {
	w      io.Writer
	format Format
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer, format Format) *Encoder {
	return &Encoder{w: w, format: format}
}

// Encode writes one envelope.
func (enc *Encoder) Encode(env Envelope) error {
	data, err := env.MarshalJSON()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	switch enc.format {
	case FormatSSE:
		fmt.Fprintf(&buf, "id: %d\nevent: %s\ndata: ", env.Seq, env.Event.Type())
		buf.Write(data)
		buf.WriteString("\n\n")
	default:
		buf.Write(data)
		buf.WriteByte('\n')
	}
	_, err = enc.w.Write(buf.Bytes())
	return err
}

// Decoder reads envelopes written by Encoder.
type Decoder struct {
	scanner *bufio.Scanner
	format  Format
}

const maxLine = 4 << 20

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, format Format) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Decoder{scanner: s, format: format}
}

// Decode returns the next envelope, or io.EOF at the end of input.
func (dec *Decoder) Decode() (Envelope, error) {
	if dec.format == FormatSSE {
		return dec.decodeSSE()
	}
	for dec.scanner.Scan() {
		line := bytes.TrimSpace(dec.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var env Envelope
		err := env.UnmarshalJSON(line)
		return env, err
	}
	return Envelope{}, dec.eof()
}

func (dec *Decoder) decodeSSE() (Envelope, error) {
	var data strings.Builder
	for dec.scanner.Scan() {
		line := dec.scanner.Text()
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var env Envelope
			err := env.UnmarshalJSON([]byte(data.String()))
			return env, err
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(rest, " "))
		}
	}
	if data.Len() > 0 {
		var env Envelope
		err := env.UnmarshalJSON([]byte(data.String()))
		return env, err
	}
	return Envelope{}, dec.eof()
}

func (dec *Decoder) eof() error {
	if err := dec.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
