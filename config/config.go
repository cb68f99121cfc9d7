// Package config holds the configuration file definition, in sconf format, and
// turns a parsed file into the override configuration, hosts table and log
// levels.
//
// Run "hostoverride config describe" for an annotated example.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mjl-/sconf"

	"github.com/mjl-/hostoverride/hostsfile"
	"github.com/mjl-/hostoverride/mlog"
	"github.com/mjl-/hostoverride/override"
)

// Static is the parsed form of the configuration file.
type Static struct {
	LogLevel         string            `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDefault log level, one of: error, info, debug, trace."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. override, hostsfile, dns)."`
	HostsFile        string            `sconf:"optional" sconf-doc:"File in /etc/hosts format with overrides for hosts without explicit override. Lines with invalid IP addresses are skipped. For a host listed for multiple addresses, the first address is used."`
	MaxContexts      int               `sconf:"optional" sconf-doc:"Maximum number of isolated contexts that run at the same time. Others wait for a slot. Default 0 means no limit."`
	Overrides        []Override        `sconf:"optional" sconf-doc:"Explicit overrides, taking precedence over the hosts file and DNS. Each host name may only appear once in all overrides."`
}

// Override is an address with the host names that resolve to it.
type Override struct {
	IP    string   `sconf-doc:"IPv4 or IPv6 address."`
	Hosts []string `sconf-doc:"Host names resolving to IP. Matched case-insensitively, a trailing dot is ignored."`
}

// ParseFile reads and parses the configuration file at path.
func ParseFile(path string) (Static, error) {
	var c Static
	if err := sconf.ParseFile(path, &c); err != nil {
		return Static{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return c, nil
}

// Parse parses a configuration file from r.
func Parse(r io.Reader) (Static, error) {
	var c Static
	if err := sconf.Parse(r, &c); err != nil {
		return Static{}, fmt.Errorf("parsing config: %w", err)
	}
	return c, nil
}

// Describe writes an annotated empty configuration file to w.
func Describe(w io.Writer) error {
	c := Static{
		LogLevel:  "error",
		Overrides: []Override{{}},
	}
	return sconf.Describe(w, &c)
}

// Configuration returns the explicit overrides. The result is not validated.
func (c Static) Configuration() *override.Configuration {
	b := override.NewBuilder()
	for _, o := range c.Overrides {
		b.Add(o.IP, o.Hosts...)
	}
	return b.Build()
}

// LogLevels returns the log levels for mlog.SetConfig. The default level is
// stored under the empty package name.
func (c Static) LogLevels() (map[string]slog.Level, error) {
	levels := map[string]slog.Level{}
	level := c.LogLevel
	if level == "" {
		level = "error"
	}
	l, ok := mlog.Levels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	levels[""] = l
	for pkg, s := range c.PackageLogLevels {
		l, ok := mlog.Levels[strings.ToLower(s)]
		if !ok {
			return nil, fmt.Errorf("unknown log level %q for package %q", s, pkg)
		}
		levels[pkg] = l
	}
	return levels, nil
}

// Hosts loads the hosts file, or returns a nil table if none is configured.
func (c Static) Hosts(elog *slog.Logger) (*hostsfile.Table, error) {
	if c.HostsFile == "" {
		return nil, nil
	}
	return hostsfile.Load(c.HostsFile, elog)
}

// Options returns resolver options with the hosts table and limits from the
// configuration. Fallback is left unset, for genuine resolution through DNS.
func (c Static) Options(elog *slog.Logger) (override.Options, error) {
	table, err := c.Hosts(elog)
	if err != nil {
		return override.Options{}, err
	}
	opts := override.Options{MaxContexts: c.MaxContexts, Log: elog}
	if table != nil {
		opts.Hosts = table
	}
	return opts, nil
}
