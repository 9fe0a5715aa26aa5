package dshield

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"roomgraph/internal/events"
)

// columns of the tab separated report, in order
var columns = []string{"ip", "reports", "targets", "firstseen", "lastseen", "updated"}

// Parse turns a report into events. Blank lines and comments are skipped,
// empty cells produce no attribute and extra cells are ignored. Each event
// is tagged with the AS number under asnKey and with feed=dshield.
func Parse(r io.Reader, asn, asnKey string) ([]*events.Event, error) {
	var out []*events.Event

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		event := events.New()
		cells := strings.Split(strings.TrimRight(line, "\r"), "\t")
		for i, cell := range cells {
			if i >= len(columns) {
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if columns[i] == "ip" {
				cell = NormalizeIP(cell)
			}
			event.Add(columns[i], cell)
		}
		if event.Len() == 0 {
			continue
		}

		event.Add(asnKey, asn)
		event.Add("feed", "dshield")
		out = append(out, event)
	}
	return out, scanner.Err()
}

// NormalizeIP strips the zero padding DShield puts in dotted quads,
// "010.000.000.001" becoming "10.0.0.1". Anything that is not four decimal
// parts comes back unchanged.
func NormalizeIP(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return ip
		}
		parts[i] = strconv.FormatUint(n, 10)
	}
	return strings.Join(parts, ".")
}
