package piper

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wyoming frames each event as:
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func writeEvent(w io.Writer, ev event, payload []byte) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(body), len(payload))
	buf.Write(body)
	buf.WriteByte('\n')
	buf.Write(payload)
	_, err = w.Write(buf.Bytes())
	return err
}

func readEvent(r *bufio.Reader) (*event, []byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", strings.TrimSpace(line))
	}
	jsonLen, err := strconv.Atoi(fields[0])
	if err != nil || jsonLen < 0 {
		return nil, nil, fmt.Errorf("invalid json length %q", fields[0])
	}
	payloadLen, err := strconv.Atoi(fields[1])
	if err != nil || payloadLen < 0 {
		return nil, nil, fmt.Errorf("invalid payload length %q", fields[1])
	}

	body := make([]byte, jsonLen+1) // trailing newline
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}
	var ev event
	if err := json.Unmarshal(body[:jsonLen], &ev); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &ev, payload, nil
}

func intField(data map[string]any, key string, def int) int {
	if v, ok := data[key].(float64); ok && v > 0 {
		return int(v)
	}
	return def
}

// pcmToWAV wraps little-endian PCM in a 44-byte RIFF header.
func pcmToWAV(pcm []byte, sampleRate, channels, width int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1)) // PCM
	_ = binary.Write(buf, le, uint16(channels))
	_ = binary.Write(buf, le, uint32(sampleRate))
	_ = binary.Write(buf, le, uint32(sampleRate*channels*width))
	_ = binary.Write(buf, le, uint16(channels*width))
	_ = binary.Write(buf, le, uint16(width*8))

	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
