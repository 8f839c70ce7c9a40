package output

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
)

// CSVFormatter formats probes as CSV rows. The header row is emitted
// before the first record.
type CSVFormatter struct {
	config  Config
	columns []string
	wrote   bool
}

// Default CSV columns
var defaultCSVColumns = []string{
	"protocol", "src", "dst", "ttl", "id", "length",
	"src_port", "dst_port", "checksum", "payload_len",
	"icmp_id", "icmp_seq", "flags", "seq", "ack", "window", "urgent", "options",
}

// NewCSVFormatter creates a new CSV formatter.
func NewCSVFormatter(config Config) *CSVFormatter {
	return &CSVFormatter{
		config:  config,
		columns: defaultCSVColumns,
	}
}

// SetColumns allows customizing which columns to include.
func (f *CSVFormatter) SetColumns(columns []string) {
	f.columns = columns
}

// Format formats the record as a CSV row.
func (f *CSVFormatter) Format(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if !f.wrote {
		if err := writer.Write(f.columns); err != nil {
			return nil, err
		}
		f.wrote = true
	}

	row := make([]string, len(f.columns))
	for i, col := range f.columns {
		row[i] = f.getValue(r, col)
	}
	if err := writer.Write(row); err != nil {
		return nil, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// getValue returns the value for a specific column.
func (f *CSVFormatter) getValue(r *Record, column string) string {
	switch column {
	case "protocol":
		return r.Protocol
	case "src":
		return r.Src
	case "dst":
		return r.Dst
	case "ttl":
		return strconv.Itoa(int(r.TTL))
	case "id":
		return strconv.Itoa(int(r.ID))
	case "length":
		return strconv.Itoa(int(r.Length))
	case "src_port":
		return strconv.Itoa(int(r.SrcPort))
	case "dst_port":
		return strconv.Itoa(int(r.DstPort))
	case "checksum":
		return strconv.Itoa(int(r.Checksum))
	case "payload_len":
		return strconv.Itoa(r.PayloadLen)
	case "icmp_id":
		return strconv.Itoa(int(r.ICMPID))
	case "icmp_seq":
		return strconv.Itoa(int(r.ICMPSeq))
	case "flags":
		return r.Flags
	case "seq":
		return strconv.FormatUint(uint64(r.Seq), 10)
	case "ack":
		return strconv.FormatUint(uint64(r.Ack), 10)
	case "window":
		return strconv.Itoa(int(r.Window))
	case "urgent":
		return strconv.Itoa(int(r.Urgent))
	case "options":
		return strings.Join(r.Options, " ")
	default:
		return ""
	}
}

// ContentType returns the MIME type for CSV output.
func (f *CSVFormatter) ContentType() string {
	return "text/csv"
}

// FileExtension returns the file extension for CSV output.
func (f *CSVFormatter) FileExtension() string {
	return "csv"
}
