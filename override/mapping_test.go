package override

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/mjl-/hostoverride/dns"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcheckf(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v\n%s", got, exp, debug.Stack())
	}
}

func TestMapping(t *testing.T) {
	hosts := []string{"a.test", "b.test"}
	m := NewMapping("10.0.0.1", hosts...)
	hosts[0] = "changed.test"
	tcompare(t, m.Hosts(), []string{"a.test", "b.test"})

	l := m.Hosts()
	l[0] = "changed.test"
	tcompare(t, m.Hosts(), []string{"a.test", "b.test"})
	tcompare(t, m.IP(), "10.0.0.1")

	if !m.Equal(NewMapping("10.0.0.1", "a.test", "b.test")) {
		t.Fatalf("equal mappings not equal")
	}
	if m.Equal(NewMapping("10.0.0.1", "b.test", "a.test")) || m.Equal(NewMapping("10.0.0.2", "a.test", "b.test")) {
		t.Fatalf("different mappings equal")
	}
	// Keys must not be ambiguous across the ip/hosts boundary.
	if NewMapping("10.0.0.1", "a", "b").Key() == NewMapping("10.0.0.1", "a\x00b").Key() {
		t.Fatalf("ambiguous key")
	}
	set := map[string]Mapping{m.Key(): m}
	if _, ok := set[NewMapping("10.0.0.1", "a.test", "b.test").Key()]; !ok {
		t.Fatalf("mapping not found by key")
	}
}

func TestBuilder(t *testing.T) {
	b := NewBuilder().
		Add("10.0.0.1", "a.test", "B.Test").
		Add("10.0.0.1", "a.test", "B.Test").
		AddMapping(NewMapping("2001:db8::1", "v6.test"))
	c := b.Build()
	tcompare(t, len(c.Mappings()), 2)

	// Builder changes after Build don't affect the configuration.
	b.Add("10.0.0.3", "c.test")
	tcompare(t, len(c.Mappings()), 2)
	tcheck(t, c.Validate(), "validate")

	test := func(host, expIP string, expOK bool) {
		t.Helper()
		ip, ok := c.Lookup(host)
		if ip != expIP || ok != expOK {
			t.Fatalf("lookup %q: got %q %v, expected %q %v", host, ip, ok, expIP, expOK)
		}
	}
	test("a.test", "10.0.0.1", true)
	test("b.test", "10.0.0.1", true)
	test("A.TEST.", "10.0.0.1", true)
	test("v6.test", "2001:db8::1", true)
	test("c.test", "", false)
	test("", "", false)

	var zero Builder
	if n := len(zero.Add("10.0.0.1", "a.test").Build().Mappings()); n != 1 {
		t.Fatalf("zero builder: got %d mappings", n)
	}
}

func TestValidate(t *testing.T) {
	test := func(c *Configuration, expErr error, expText string) {
		t.Helper()
		err := c.Validate()
		if (err == nil) != (expErr == nil) || expErr != nil && !errors.Is(err, expErr) {
			t.Fatalf("validate: got err %v, expected %v", err, expErr)
		}
		if expText != "" && !strings.Contains(err.Error(), expText) {
			t.Fatalf("validate: error %q does not mention %q", err, expText)
		}
	}

	test(NewBuilder().Build(), nil, "")
	test(nil, nil, "")
	test(NewBuilder().Add("10.0.0.1", "a.test").Add("10.0.0.2", "b.test").Build(), nil, "")

	// Same host under two different addresses.
	test(NewBuilder().Add("10.0.0.1", "a.test", "h.test").Add("10.0.0.2", "h.test").Build(), ErrConflictingOverride, "h.test")
	// Also under the same address in two mappings, and differing only in case.
	test(NewBuilder().Add("10.0.0.1", "h.test").Add("10.0.0.1", "x.test", "H.test").Build(), ErrConflictingOverride, "h.test")
	// Duplicate within a mapping.
	test(NewBuilder().Add("10.0.0.1", "h.test", "h.test").Build(), ErrConflictingOverride, "h.test")

	test(NewBuilder().Add("999.1.1.1", "a.test").Build(), dns.ErrMalformedAddress, "")
	test(NewBuilder().Add("", "a.test").Build(), dns.ErrMalformedAddress, "")
	test(NewBuilder().Add("10.0.0.1").Build(), ErrInvalidHostname, "")
	test(NewBuilder().Add("10.0.0.1", "").Build(), ErrInvalidHostname, "")
	test(NewBuilder().Add("10.0.0.1", "a\x00b").Build(), ErrInvalidHostname, "")
	test(NewBuilder().Add("10.0.0.1", "a b.test").Build(), ErrInvalidHostname, "")
}

func TestBuilderDistinctMappings(t *testing.T) {
	// Mappings whose joined host names would be equal are still distinct.
	c := NewBuilder().Add("10.0.0.1", "a", "b").Add("10.0.0.1", "a\x00b").Build()
	tcompare(t, len(c.Mappings()), 2)
	if !errors.Is(c.Validate(), ErrInvalidHostname) {
		t.Fatalf("host name with nul byte accepted")
	}

	c = NewBuilder().Add("10.0.0.1", "a b").Add("10.0.0.1 a", "b").Build()
	tcompare(t, len(c.Mappings()), 2)
}
