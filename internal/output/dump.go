package output

import (
	"net/netip"
	"sync/atomic"
)

// DumpSender implements probe.Sender for dry runs: every packet is decoded
// and written instead of being transmitted.
type DumpSender struct {
	w     *Writer
	count atomic.Int64
}

// NewDumpSender creates a DumpSender writing to w.
func NewDumpSender(w *Writer) *DumpSender {
	return &DumpSender{w: w}
}

// Send decodes and writes pkt.
func (d *DumpSender) Send(pkt []byte, _ netip.Addr) error {
	r, err := Decode(pkt)
	if err != nil {
		return err
	}
	d.count.Add(1)
	return d.w.Write(r)
}

// Count returns the number of packets written.
func (d *DumpSender) Count() int64 {
	return d.count.Load()
}
