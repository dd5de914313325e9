/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Known-domains allowlist for GetValue/SetValue
 *
 * Resolves the "debug domain" Open Question recorded in SPEC_FULL.md
 * §4.4/§9: rather than special-case the one string known to crash
 * lockdownd on real devices, every Domain argument is checked against
 * this explicit allowlist before it is ever written to the wire.
 */

package lockdown

var knownDomains = map[string]bool{
	"":                                      true, // no domain -- the root lockdown namespace
	"com.apple.disk_usage":                  true,
	"com.apple.disk_usage.factory":          true,
	"com.apple.mobile.battery":              true,
	"com.apple.mobile.chaperone":            true,
	"com.apple.mobile.debug":                false, // deliberately excluded: crashes lockdownd
	"com.apple.mobile.iTunes":               true,
	"com.apple.mobile.iTunes.accessories":   true,
	"com.apple.mobile.iTunes.store":         true,
	"com.apple.mobile.internal":             true,
	"com.apple.mobile.lockdown_cache":       true,
	"com.apple.mobile.nikita":               true,
	"com.apple.mobile.restriction":          true,
	"com.apple.mobile.software_behavior":    true,
	"com.apple.mobile.sync_data_class":      true,
	"com.apple.mobile.user_preferences":     true,
	"com.apple.mobile.wireless_lockdown":    true,
	"com.apple.fairplay":                    true,
	"com.apple.keyboard":                    true,
	"com.apple.purplebuddy":                 true,
	"com.apple.PurpleBuddy":                 true,
	"com.apple.international":               true,
	"com.apple.xcode.developerdomain":       true,
}

// isKnownDomain reports whether domain is safe to send to the device.
// Unlisted domains, and the explicitly-excluded debug domain, are
// rejected.
func isKnownDomain(domain string) bool {
	allowed, listed := knownDomains[domain]
	return listed && allowed
}
