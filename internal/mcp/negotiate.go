package mcp

// DefaultProtocolVersion is used whenever the client asks for a version the
// server does not speak, or for none at all.
const DefaultProtocolVersion = "2024-11-05"

var supportedVersions = []string{"2024-11-05", "2025-06-18"}

// SupportedProtocolVersions returns the protocol versions the server accepts.
func SupportedProtocolVersions() []string {
	out := make([]string, len(supportedVersions))
	copy(out, supportedVersions)
	return out
}

// NegotiateVersion returns requested when it is supported, otherwise
// DefaultProtocolVersion.
func NegotiateVersion(requested string) string {
	for _, v := range supportedVersions {
		if v == requested {
			return v
		}
	}
	return DefaultProtocolVersion
}
