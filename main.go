// Command hostoverride resolves host names with the overrides from a
// configuration file, and serves lookups and metrics over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/mjl-/hostoverride/config"
	"github.com/mjl-/hostoverride/mlog"
	"github.com/mjl-/hostoverride/override"
	"github.com/mjl-/hostoverride/version"
)

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"lookup", cmdLookup},
	{"override", cmdOverride},
	{"serve", cmdServe},
	{"config describe", cmdConfigDescribe},
	{"config test", cmdConfigTest},
	{"help", cmdHelp},
	{"version", cmdVersion},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	params string // Arguments to command. Multiple lines possible.
	help   string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args   []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we run the command but cause this
	// panic after the command has registered its flags and set its params and help
	// information. This is then caught and that info printed.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("hostoverride "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "hostoverride " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) Usage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
	os.Exit(2)
}

func usage(l []cmd) {
	lines := []string{"hostoverride [-config hostoverride.conf] [-loglevel level] ..."}
	for _, c := range l {
		c.gather()
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"hostoverride"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var (
	configPath string
	loglevel   string
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("HOSTOVERRIDECONF", ""), "configuration file in sconf format, defaults to $HOSTOVERRIDECONF; without config file no overrides are configured")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, this log level is used instead of the one from the config file")
	flag.BoolVar(&mlog.Logfmt, "logfmt", false, "write log lines in logfmt")
	flag.Usage = func() { usage(cmds) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds)
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("hostoverride "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""), nil)
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial)
	}
	usage(cmds)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

// mustLoadConfig parses the config file if any, and sets the log levels.
func mustLoadConfig() config.Static {
	var c config.Static
	if configPath != "" {
		var err error
		c, err = config.ParseFile(configPath)
		xcheckf(err, "loading config")
	}
	if loglevel != "" {
		c.LogLevel = loglevel
	}
	levels, err := c.LogLevels()
	xcheckf(err, "log levels")
	mlog.SetConfig(levels)
	return c
}

// mustInitialize loads the config and initializes the process-wide provider.
func mustInitialize() *override.Provider {
	c := mustLoadConfig()
	opts, err := c.Options(nil)
	xcheckf(err, "loading hosts file")
	p, err := override.Initialize(c.Configuration(), opts)
	xcheckf(err, "initializing overrides")
	return p
}

func cmdLookup(c *cmd) {
	c.params = "[-net] host ..."
	c.help = `Resolve hosts with the configured overrides.

Explicit overrides from the config file take precedence, then the hosts file,
then DNS. With -net, lookups go through the Go resolver, like lookups done by
net.Dial.
`
	var viaNet bool
	c.flag.BoolVar(&viaNet, "net", false, "resolve through net.DefaultResolver")
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	p := mustInitialize()
	ctx := context.Background()
	failed := false
	for _, host := range args {
		var l []string
		var err error
		if viaNet {
			l, err = net.DefaultResolver.LookupHost(ctx, host)
		} else {
			var addrs []net.IPAddr
			addrs, err = p.LookupIPAddr(ctx, host)
			for _, a := range addrs {
				l = append(l, a.String())
			}
		}
		if err != nil {
			c.log.Errorx("lookup failed", err, slog.String("host", host))
			failed = true
			continue
		}
		fmt.Printf("%s\t%s\n", host, strings.Join(l, " "))
	}
	if failed {
		os.Exit(1)
	}
}

func cmdOverride(c *cmd) {
	c.params = "host ..."
	c.help = `Print the override address for hosts, without resolving through DNS.

Hosts without override are printed with a dash.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	p := mustInitialize()
	r := p.Registry.Root()
	for _, host := range args {
		ip, err := r.GetOverride(host)
		if err == override.ErrNoOverride {
			fmt.Printf("%s\t-\n", host)
			continue
		}
		xcheckf(err, "override for %s", host)
		fmt.Printf("%s\t%s\n", host, ip)
	}
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">hostoverride.conf"
	c.help = `Prints an annotated empty configuration file.

The configuration needs modifications to be valid, for example the override
list item must be filled in or removed.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	err := config.Describe(os.Stdout)
	xcheckf(err, "describing config")
}

func cmdConfigTest(c *cmd) {
	c.params = ""
	c.help = `Parses and validates the configuration file.

The overrides are checked for malformed addresses and host names listed more
than once. The hosts file, if configured, is loaded.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	if configPath == "" {
		log.Fatalf("no config file, specify with -config or $HOSTOVERRIDECONF")
	}
	sc := mustLoadConfig()
	oc := sc.Configuration()
	xcheckf(oc.Validate(), "validating overrides")
	table, err := sc.Hosts(nil)
	xcheckf(err, "loading hosts file")
	fmt.Printf("config OK, %d overrides, %d hosts file entries\n", len(oc.Mappings()), table.Len())
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		fmt.Printf("hostoverride %s\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdVersion(c *cmd) {
	c.help = "Prints this hostoverride version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(version.Version)
	fmt.Printf("%s/%s\n", runtime.GOOS, runtime.GOARCH)
}
