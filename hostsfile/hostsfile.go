// Package hostsfile reads a hosts file into a static table of host name
// overrides.
//
// The format is that of /etc/hosts: each line has an IP address followed by one
// or more host names, separated by whitespace. Text after a "#" is a comment.
// Lines with an invalid IP address are skipped. When a host name is listed for
// multiple addresses, the first one wins: overrides resolve to a single address.
package hostsfile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mjl-/hostoverride/dns"
	"github.com/mjl-/hostoverride/mlog"
)

// Table holds the parsed host name to IP address overrides. A Table is
// immutable and safe for concurrent use.
type Table struct {
	byName map[string]string // Canonical host name to IP text.
}

// Parse reads a hosts file from r.
func Parse(r io.Reader, elog *slog.Logger) (*Table, error) {
	log := mlog.New("hostsfile", elog)

	t := &Table{byName: map[string]string{}}
	scanner := bufio.NewScanner(r)
	var lineno int
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			// Discard comments.
			line = line[:i]
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if len(f) < 2 {
			log.Debug("skipping line without host names", slog.Int("line", lineno))
			continue
		}
		if _, err := dns.ToBytes(f[0]); err != nil {
			log.Debugx("skipping line with invalid ip", err, slog.Int("line", lineno))
			continue
		}
		for _, name := range f[1:] {
			host, err := dns.CanonicalHost(name)
			if err != nil {
				log.Debugx("skipping invalid host name", err, slog.Int("line", lineno), slog.String("host", name))
				continue
			}
			if _, ok := t.byName[host]; !ok {
				t.byName[host] = f[0]
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading hosts: %w", err)
	}
	log.Debug("hosts parsed", slog.Int("hosts", len(t.byName)))
	return t, nil
}

// Load reads the hosts file at path.
func Load(path string, elog *slog.Logger) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hosts file: %w", err)
	}
	defer f.Close()
	t, err := Parse(f, elog)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Override returns the IP address text configured for host, and whether an
// override exists.
func (t *Table) Override(host string) (string, bool) {
	if t == nil {
		return "", false
	}
	h, err := dns.CanonicalHost(host)
	if err != nil {
		return "", false
	}
	ip, ok := t.byName[h]
	return ip, ok
}

// HasOverride returns whether an override is configured for host.
func (t *Table) HasOverride(host string) bool {
	_, ok := t.Override(host)
	return ok
}

// GetOverride returns the IP address text configured for host, or the empty
// string if there is none.
func (t *Table) GetOverride(host string) string {
	ip, _ := t.Override(host)
	return ip
}

// Len returns the number of host names with an override.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byName)
}
