package hostsfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

const hosts = `# test hosts
127.0.0.1	localhost
10.0.0.1 api.example.com API2.example.com. # trailing comment
10.0.0.2 api.example.com
2001:db8::7 v6.example.com
999.1.1.1 bad.example.com
10.0.0.3

 # indented comment
`

func TestParse(t *testing.T) {
	tab, err := Parse(strings.NewReader(hosts), nil)
	tcheck(t, err, "parse")

	test := func(host, expIP string, expOK bool) {
		t.Helper()
		ip, ok := tab.Override(host)
		if ip != expIP || ok != expOK {
			t.Fatalf("override %q: got %q %v, expected %q %v", host, ip, ok, expIP, expOK)
		}
		if tab.HasOverride(host) != expOK {
			t.Fatalf("has override %q: expected %v", host, expOK)
		}
		if tab.GetOverride(host) != expIP {
			t.Fatalf("get override %q: expected %q", host, expIP)
		}
	}

	test("localhost", "127.0.0.1", true)
	test("api.example.com", "10.0.0.1", true)
	test("API.example.com.", "10.0.0.1", true)
	test("api2.example.com", "10.0.0.1", true)
	test("v6.example.com", "2001:db8::7", true)
	test("bad.example.com", "", false)
	test("other.example.com", "", false)
	test("", "", false)

	if n := tab.Len(); n != 4 {
		t.Fatalf("got %d hosts, expected 4", n)
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "hosts")
	err := os.WriteFile(p, []byte(hosts), 0600)
	tcheck(t, err, "write hosts")

	tab, err := Load(p, nil)
	tcheck(t, err, "load")
	if !tab.HasOverride("api.example.com") {
		t.Fatalf("missing override after load")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatalf("load of missing file succeeded")
	}
}

func TestNilTable(t *testing.T) {
	var tab *Table
	if tab.HasOverride("api.example.com") || tab.Len() != 0 {
		t.Fatalf("nil table has overrides")
	}
}
