package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// Serialization Strategy
// ======================
//
// Slots are stored as JSON so the database stays inspectable with generic
// tools. Counters and metadata are fixed 8-byte big-endian integers.

// slotData is the stored form of a session.Slot.
type slotData struct {
	RemoteAddr string `json:"remote_addr"`
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`
	ATime      int64  `json:"atime"`
	Hits       int64  `json:"hits"`
	KBytes     int64  `json:"kbytes"`
	Selector   string `json:"selector"`
	Type       string `json:"type"`
	Width      int    `json:"width"`
	Charset    string `json:"charset"`
	Date       bool   `json:"date"`
}

func encodeSlot(s *session.Slot) ([]byte, error) {
	d := slotData{
		RemoteAddr: s.RemoteAddr,
		ServerHost: s.ServerHost,
		ServerPort: s.ServerPort,
		ATime:      s.ATime.UnixNano(),
		Hits:       s.Hits,
		KBytes:     s.KBytes,
		Selector:   s.Selector,
		Type:       s.Type.String(),
		Width:      s.Width,
		Charset:    s.Charset,
		Date:       s.Date,
	}
	data, err := json.Marshal(&d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode slot: %w", err)
	}
	return data, nil
}

func decodeSlot(data []byte) (session.Slot, error) {
	var d slotData
	if err := json.Unmarshal(data, &d); err != nil {
		return session.Slot{}, fmt.Errorf("failed to decode slot: %w", err)
	}
	s := session.Slot{
		RemoteAddr: d.RemoteAddr,
		ServerHost: d.ServerHost,
		ServerPort: d.ServerPort,
		ATime:      time.Unix(0, d.ATime),
		Hits:       d.Hits,
		KBytes:     d.KBytes,
		Selector:   d.Selector,
		Width:      d.Width,
		Charset:    d.Charset,
		Date:       d.Date,
	}
	if d.Type != "" {
		s.Type = types.ItemType([]rune(d.Type)[0])
	}
	return s, nil
}

func encodeInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid counter length %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}
