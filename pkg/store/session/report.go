package session

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// Report is a snapshot of the store for the status page.
type Report struct {
	Start  time.Time
	Now    time.Time
	Hits   int64
	KBytes int64

	// Attached is the number of processes or servers attached to the store.
	Attached int

	// Sessions are the live slots, most recently updated first.
	Sessions []Slot
}

// StatusInfo carries the server details printed alongside a report.
type StatusInfo struct {
	Server   string
	Platform string
	CPULoad  float64
}

// NewReport builds a report from a table snapshot, keeping live slots only.
func NewReport(start, now time.Time, hits, kbytes int64, attached int, slots []Slot, timeout time.Duration) *Report {
	r := &Report{
		Start:    start,
		Now:      now,
		Hits:     hits,
		KBytes:   kbytes,
		Attached: attached,
	}
	for i := range slots {
		if slots[i].Live(now, timeout) {
			r.Sessions = append(r.Sessions, slots[i])
		}
	}
	sort.SliceStable(r.Sessions, func(i, j int) bool {
		return r.Sessions[i].ATime.After(r.Sessions[j].ATime)
	})
	return r
}

// Uptime returns whole seconds since start, counting the current second.
func (r *Report) Uptime() int64 {
	up := int64(r.Now.Sub(r.Start)/time.Second) + 1
	if up < 1 {
		up = 1
	}
	return up
}

// ReqPerSec returns the average request rate.
func (r *Report) ReqPerSec() float64 {
	return float64(r.Hits) / float64(r.Uptime())
}

// BytesPerSec returns the average transfer rate.
func (r *Report) BytesPerSec() int64 {
	return r.KBytes * 1024 / r.Uptime()
}

// BytesPerReq returns the average response size.
func (r *Report) BytesPerReq() int64 {
	return r.KBytes * 1024 / (r.Hits + 1)
}

// Format writes the plaintext status report, one "Key: value" pair per line
// followed by one line per live session.
func (r *Report) Format(w io.Writer, info StatusInfo) error {
	_, err := fmt.Fprintf(w,
		"Total Accesses: %d\r\n"+
			"Total kBytes: %d\r\n"+
			"Uptime: %d\r\n"+
			"ReqPerSec: %.3f\r\n"+
			"BytesPerSec: %d\r\n"+
			"BytesPerReq: %d\r\n"+
			"BusyServers: %d\r\n"+
			"IdleServers: 0\r\n"+
			"CPULoad: %.2f\r\n"+
			"Server: %s\r\n"+
			"Platform: %s\r\n",
		r.Hits,
		r.KBytes,
		r.Uptime(),
		r.ReqPerSec(),
		r.BytesPerSec(),
		r.BytesPerReq(),
		r.Attached,
		info.CPULoad,
		info.Server,
		info.Platform,
	)
	if err != nil {
		return err
	}

	for _, s := range r.Sessions {
		_, err = fmt.Fprintf(w, "Session: %-4d %-40s %-4d %-7d gopher://%s:%d/%c%s\r\n",
			int64(r.Now.Sub(s.ATime)/time.Second),
			s.RemoteAddr,
			s.Hits,
			s.KBytes,
			s.ServerHost,
			s.ServerPort,
			byte(s.Type),
			s.Selector,
		)
		if err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "Total Sessions: %d\r\n", len(r.Sessions))
	return err
}
