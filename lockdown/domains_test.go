package lockdown

import "testing"

func TestKnownDomainsAllowsRootAndListed(t *testing.T) {
	cases := []string{"", "com.apple.mobile.battery", "com.apple.mobile.wireless_lockdown"}
	for _, d := range cases {
		if !isKnownDomain(d) {
			t.Errorf("expected %q to be allowed", d)
		}
	}
}

func TestKnownDomainsRejectsDebugDomain(t *testing.T) {
	if isKnownDomain("com.apple.mobile.debug") {
		t.Fatal("debug domain must never be allowed")
	}
}

func TestKnownDomainsRejectsUnlisted(t *testing.T) {
	if isKnownDomain("com.apple.totally.made.up") {
		t.Fatal("unlisted domain must be rejected")
	}
}
