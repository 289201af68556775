package logfields

import (
	"errors"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    interface{}
	}{
		{"Mapping", KeyMapping, "arcade", Mapping("arcade")},
		{"Remote", KeyRemote, "https://example.com/arcade.git", Remote("https://example.com/arcade.git")},
		{"Revision", KeyRevision, "main", Revision("main")},
		{"SHA", KeySHA, "abc123", SHA("abc123")},
		{"Branch", KeyBranch, "init/arcade-1a2b3c4d", Branch("init/arcade-1a2b3c4d")},
		{"Path", KeyPath, "/tmp/vmr", Path("/tmp/vmr")},
		{"Patch", KeyPatch, "0001-fix.patch", Patch("0001-fix.patch")},
		{"ScanType", KeyScanType, "cloaked", ScanType("cloaked")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			attr, ok := c.attr.(interface {
				String() string
			})
			if !ok {
				t.Fatalf("attr does not implement String()")
			}
			want := c.attrKey + "=" + c.attrVal
			if attr.String() != want {
				t.Errorf("got %q, want %q", attr.String(), want)
			}
		})
	}
}

func TestShortSHATruncates(t *testing.T) {
	attr := ShortSHA("0123456789abcdef0123456789abcdef01234567")
	if got := attr.Value.String(); got != "01234567" {
		t.Errorf("ShortSHA = %q, want %q", got, "01234567")
	}
	if got := ShortSHA("abc123").Value.String(); got != "abc123" {
		t.Errorf("ShortSHA passthrough = %q, want %q", got, "abc123")
	}
}

func TestErrorAttr(t *testing.T) {
	if got := Error(nil).Value.String(); got != "" {
		t.Errorf("Error(nil) = %q, want empty", got)
	}
	if got := Error(errors.New("boom")).Value.String(); got != "boom" {
		t.Errorf("Error = %q, want %q", got, "boom")
	}
}
