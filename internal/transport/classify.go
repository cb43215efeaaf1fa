package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reply is one JSON object sent by the board. Numbers decode as float64.
type Reply map[string]any

// Has reports whether every key is present.
func (r Reply) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := r[k]; !ok {
			return false
		}
	}
	return true
}

type Kind int

const (
	Empty Kind = iota
	Noise
	Malformed
	ReplyLine
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Noise:
		return "noise"
	case Malformed:
		return "malformed"
	case ReplyLine:
		return "reply"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Classify decides what one line from the board is. Only lines wrapped in '{' ... '}' are protocol
// traffic; anything else (boot banners, sensor warnings, echo) is noise.
func Classify(line []byte) (Kind, Reply, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Empty, nil, nil
	}
	if line[0] != '{' || line[len(line)-1] != '}' {
		return Noise, nil, nil
	}
	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		return Malformed, nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return ReplyLine, reply, nil
}
