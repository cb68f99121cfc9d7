package override

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mjl-/hostoverride/dns"
)

var (
	ErrConflictingOverride = errors.New("override: host name in multiple mappings")
	ErrInvalidHostname     = errors.New("override: invalid host name")
)

// Mapping associates one IP address with the host names that resolve to it.
// Mappings are immutable, compare them with Equal.
type Mapping struct {
	ip    string
	hosts []string
}

// NewMapping returns a mapping of hosts to ip. The mapping is checked when the
// configuration holding it is validated.
func NewMapping(ip string, hosts ...string) Mapping {
	return Mapping{ip, append([]string{}, hosts...)}
}

// IP returns the IP address in text form.
func (m Mapping) IP() string {
	return m.ip
}

// Hosts returns a copy of the host names, in configured order.
func (m Mapping) Hosts() []string {
	return append([]string{}, m.hosts...)
}

// Equal returns whether m and o have the same address and host names.
func (m Mapping) Equal(o Mapping) bool {
	return m.Key() == o.Key()
}

// Key returns a string identifying the mapping by value, for use as map key.
// Each element is quoted, so no two different mappings have the same key.
func (m Mapping) Key() string {
	l := make([]string, 0, 1+len(m.hosts))
	l = append(l, strconv.Quote(m.ip))
	for _, h := range m.hosts {
		l = append(l, strconv.Quote(h))
	}
	return strings.Join(l, " ")
}

func (m Mapping) String() string {
	return m.ip + " " + strings.Join(m.hosts, " ")
}

// Builder accumulates mappings for a Configuration.
type Builder struct {
	mappings []Mapping
	seen     map[string]bool
}

func NewBuilder() *Builder {
	return &Builder{seen: map[string]bool{}}
}

// Add adds a mapping of hosts to ip.
func (b *Builder) Add(ip string, hosts ...string) *Builder {
	return b.AddMapping(NewMapping(ip, hosts...))
}

// AddMapping adds m. Adding a mapping equal to an earlier one has no effect.
func (b *Builder) AddMapping(m Mapping) *Builder {
	if b.seen == nil {
		b.seen = map[string]bool{}
	}
	if k := m.Key(); !b.seen[k] {
		b.seen[k] = true
		b.mappings = append(b.mappings, m)
	}
	return b
}

// Build returns a Configuration with the mappings added so far. The builder
// can be used further without affecting the returned Configuration.
func (b *Builder) Build() *Configuration {
	c := &Configuration{
		mappings: append([]Mapping{}, b.mappings...),
		byHost:   map[string]string{},
	}
	for _, m := range c.mappings {
		for _, h := range m.hosts {
			ch, err := dns.CanonicalHost(h)
			if err != nil {
				continue
			}
			if _, ok := c.byHost[ch]; !ok {
				c.byHost[ch] = m.ip
			}
		}
	}
	return c
}

// Configuration is an immutable set of mappings for one context. Validate must
// be called before resolving with it.
type Configuration struct {
	mappings []Mapping
	byHost   map[string]string // Canonical host to IP text, first mapping wins.
}

// Mappings returns the mappings, in the order they were added.
func (c *Configuration) Mappings() []Mapping {
	if c == nil {
		return nil
	}
	return append([]Mapping{}, c.mappings...)
}

// Lookup returns the IP text of the mapping that contains host.
func (c *Configuration) Lookup(host string) (string, bool) {
	if c == nil {
		return "", false
	}
	h, err := dns.CanonicalHost(host)
	if err != nil {
		return "", false
	}
	ip, ok := c.byHost[h]
	return ip, ok
}

// Validate checks that each mapping has a valid IP address and at least one
// valid host name, and that no host name appears more than once across all
// mappings, so each host name maps to exactly one address.
func (c *Configuration) Validate() error {
	if c == nil {
		return nil
	}
	owner := map[string]Mapping{}
	for _, m := range c.mappings {
		if _, err := dns.ToBytes(m.ip); err != nil {
			return fmt.Errorf("mapping %q: %w", m, err)
		}
		if len(m.hosts) == 0 {
			return fmt.Errorf("%w: mapping for %s without host names", ErrInvalidHostname, m.ip)
		}
		for _, h := range m.hosts {
			ch, err := dns.CanonicalHost(h)
			if err != nil {
				return fmt.Errorf("%w: %q in mapping for %s: %v", ErrInvalidHostname, h, m.ip, err)
			}
			if o, ok := owner[ch]; ok {
				return fmt.Errorf("%w: %s in mappings for %s and %s", ErrConflictingOverride, ch, o.ip, m.ip)
			}
			owner[ch] = m
		}
	}
	return nil
}
