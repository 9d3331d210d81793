// Package eve parses the subset of IDS EVE JSON fields this system
// consumes: flow, DNS, HTTP, TLS, and alert records. Unknown fields are
// preserved in Raw but otherwise unused.
package eve

import (
	"bufio"
	"encoding/json"
	"io"
	"time"
)

// Flow carries the flow.* subfields used by the inventory collector and
// device anomaly scorer.
type Flow struct {
	BytesToServer int64 `json:"bytes_toserver"`
	BytesToClient int64 `json:"bytes_toclient"`
}

// DNS carries the dns.* subfields used by the TI correlator and inventory
// collector.
type DNS struct {
	RRName string `json:"rrname"`
	RRType string `json:"rrtype"`
	Type   string `json:"type"` // "query" | "answer"
}

// Alert carries the alert.* subfields that become suricata_alert events.
type Alert struct {
	Signature string `json:"signature"`
	Category  string `json:"category"`
	Severity  int    `json:"severity"`
}

// HTTP carries the http.* subfields used for domain extraction.
type HTTP struct {
	Hostname string `json:"hostname"`
}

// TLS carries the tls.* subfields used for domain extraction.
type TLS struct {
	SNI string `json:"sni"`
}

// Record is one parsed EVE JSON line. Raw holds the original line so fields
// this decoder does not model survive alongside the parsed subset.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	SrcIP     string    `json:"src_ip"`
	DestIP    string    `json:"dest_ip"`
	DestPort  int       `json:"dest_port"`
	Proto     string    `json:"proto"`
	AppProto  string    `json:"app_proto"`
	Flow      *Flow     `json:"flow,omitempty"`
	DNS       *DNS      `json:"dns,omitempty"`
	Alert     *Alert    `json:"alert,omitempty"`
	HTTP      *HTTP     `json:"http,omitempty"`
	TLS       *TLS      `json:"tls,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Domain returns the best available domain name carried by the record:
// DNS query name, else TLS SNI, else HTTP hostname.
func (r Record) Domain() string {
	if r.DNS != nil && r.DNS.RRName != "" {
		return r.DNS.RRName
	}
	if r.TLS != nil && r.TLS.SNI != "" {
		return r.TLS.SNI
	}
	if r.HTTP != nil && r.HTTP.Hostname != "" {
		return r.HTTP.Hostname
	}
	return ""
}

// Parse decodes a single EVE JSON line. A malformed line returns an error;
// callers log and skip it rather than aborting the batch.
func Parse(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, err
	}
	r.Raw = append(json.RawMessage(nil), line...)
	return r, nil
}

// ScanLines reads newline-delimited EVE JSON from r, calling fn for each
// successfully parsed record and skipping (without aborting) any line that
// fails to parse.
func ScanLines(r io.Reader, fn func(Record)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			continue
		}
		fn(rec)
	}
	return scanner.Err()
}
