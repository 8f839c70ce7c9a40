package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// TextFormatter formats one probe per line.
type TextFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTextFormatter creates a new text formatter.
func NewTextFormatter(config Config) *TextFormatter {
	var colors *ColorScheme
	if config.Colors {
		colors = DefaultColorScheme()
	}

	return &TextFormatter{
		config: config,
		colors: colors,
	}
}

// Format formats a probe as
//
//	udp 198.51.100.7 > 192.0.2.1 ttl 5 id 0x0005 len 31 DF 15870 > 33434 cksum 0x1170 payload 3
func (f *TextFormatter) Format(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(f.paint(f.proto(r.Protocol), fmt.Sprintf("%-4s", r.Protocol)))
	fmt.Fprintf(&buf, " %s > %s", f.paint(f.ip(), r.Src), f.paint(f.ip(), r.Dst))
	buf.WriteString(f.paint(f.ttl(), fmt.Sprintf(" ttl %d", r.TTL)))
	fmt.Fprintf(&buf, " id 0x%04x len %d", r.ID, r.Length)
	if r.TOS != 0 {
		fmt.Fprintf(&buf, " tos 0x%02x", r.TOS)
	}
	if r.DF {
		buf.WriteString(" DF")
	}

	switch r.Protocol {
	case "udp":
		fmt.Fprintf(&buf, " %d > %d cksum 0x%04x payload %d", r.SrcPort, r.DstPort, r.Checksum, r.PayloadLen)
	case "icmp":
		fmt.Fprintf(&buf, " type %d id 0x%04x seq 0x%04x cksum 0x%04x", r.ICMPType, r.ICMPID, r.ICMPSeq, r.Checksum)
	case "tcp":
		fmt.Fprintf(&buf, " %d > %d [%s] seq %d ack %d win 0x%04x urg 0x%04x",
			r.SrcPort, r.DstPort, r.Flags, r.Seq, r.Ack, r.Window, r.Urgent)
		if len(r.Options) > 0 {
			fmt.Fprintf(&buf, " <%s>", strings.Join(r.Options, ","))
		}
	}

	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func (f *TextFormatter) paint(c *color.Color, s string) string {
	if c == nil {
		return s
	}
	return c.Sprint(s)
}

func (f *TextFormatter) proto(p string) *color.Color {
	if f.colors == nil {
		return nil
	}
	switch p {
	case "udp":
		return f.colors.UDP
	case "icmp":
		return f.colors.ICMP
	case "tcp":
		return f.colors.TCP
	default:
		return nil
	}
}

func (f *TextFormatter) ip() *color.Color {
	if f.colors == nil {
		return nil
	}
	return f.colors.IP
}

func (f *TextFormatter) ttl() *color.Color {
	if f.colors == nil {
		return nil
	}
	return f.colors.TTL
}

// ContentType returns the MIME type for text output.
func (f *TextFormatter) ContentType() string {
	return "text/plain"
}

// FileExtension returns the file extension for text output.
func (f *TextFormatter) FileExtension() string {
	return "txt"
}

// ColorScheme defines colors for different output elements.
type ColorScheme struct {
	UDP    *color.Color
	ICMP   *color.Color
	TCP    *color.Color
	IP     *color.Color
	TTL    *color.Color
	Good   *color.Color
	Bad    *color.Color
	Header *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		UDP:    color.New(color.FgBlue, color.Bold),
		ICMP:   color.New(color.FgMagenta, color.Bold),
		TCP:    color.New(color.FgCyan, color.Bold),
		IP:     color.New(color.FgWhite),
		TTL:    color.New(color.FgYellow),
		Good:   color.New(color.FgGreen),
		Bad:    color.New(color.FgRed, color.Bold),
		Header: color.New(color.FgWhite, color.Bold),
	}
}
