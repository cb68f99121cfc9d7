package dns

import (
	"errors"
	"net"
	"reflect"
	"testing"
)

func TestToBytes(t *testing.T) {
	test := func(s string, exp []byte) {
		t.Helper()
		ip, err := ToBytes(s)
		if exp == nil {
			if !errors.Is(err, ErrMalformedAddress) {
				t.Fatalf("to bytes %q: got err %v, expected ErrMalformedAddress", s, err)
			}
			return
		}
		if err != nil {
			t.Fatalf("to bytes %q: %v", s, err)
		}
		if !reflect.DeepEqual([]byte(ip), exp) {
			t.Fatalf("to bytes %q: got %v, expected %v", s, []byte(ip), exp)
		}
	}

	test("192.168.1.1", []byte{192, 168, 1, 1})
	test("10.0.0.5", []byte{10, 0, 0, 5})
	test("::1", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	test("2001:db8::1", []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	test("::ffff:192.168.1.1", []byte{192, 168, 1, 1})

	test("", nil)
	test("999.1.1.1", nil)
	test("1.2.3", nil)
	test("1.2.3.4.5", nil)
	test("256.0.0.0", nil)
	test("1:2:3", nil)
	test("fe80::1%eth0", nil)
	test("example.com", nil)
	test(" 1.2.3.4", nil)
}

func TestFromBytes(t *testing.T) {
	test := func(ip []byte, exp string, expErr error) {
		t.Helper()
		s, err := FromBytes(ip)
		if (err == nil) != (expErr == nil) || expErr != nil && !errors.Is(err, expErr) {
			t.Fatalf("from bytes %v: err %v, expected %v", ip, err, expErr)
		}
		if s != exp {
			t.Fatalf("from bytes %v: got %q, expected %q", ip, s, exp)
		}
	}

	test([]byte{192, 168, 1, 1}, "192.168.1.1", nil)
	test(net.ParseIP("192.168.1.1"), "192.168.1.1", nil)
	test(net.ParseIP("2001:db8::1"), "2001:db8::1", nil)
	test(nil, "", ErrMalformedAddress)
	test([]byte{1, 2, 3}, "", ErrMalformedAddress)

	for _, s := range []string{"192.168.1.1", "10.0.0.5", "2001:db8::1"} {
		ip, err := ToBytes(s)
		if err != nil {
			t.Fatalf("to bytes %q: %v", s, err)
		}
		if rs, err := FromBytes(ip); err != nil || rs != s {
			t.Fatalf("round trip %q: got %q, err %v", s, rs, err)
		}
	}
}

func TestIsLocal(t *testing.T) {
	test := func(s string, exp bool) {
		t.Helper()
		if got := IsLocal(net.ParseIP(s)); got != exp {
			t.Fatalf("is local %s: got %v, expected %v", s, got, exp)
		}
	}

	test("127.0.0.1", true)
	test("::1", true)
	test("169.254.0.0", true)
	test("fe80::1", true)
	test("192.168.1.1", true)
	test("10.0.0.5", true)
	test("172.16.3.4", true)
	test("8.8.8.8", false)
	test("2001:4860:4860::8888", false)
}
