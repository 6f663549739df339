package mesh

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// ProtocolVersion is this build's wire-protocol version, exchanged on
// Subscribe the way an rpc client negotiates compatibility with a
// running daemon before issuing further requests.
const ProtocolVersion = "v1.0.0"

// CheckVersionCompatible reports whether remoteVersion (as sent in a
// Subscribe message's ClientVersion field) can safely interoperate
// with this build: same major version, any minor/patch.
func CheckVersionCompatible(remoteVersion string) error {
	if remoteVersion == "" {
		return nil // pre-handshake peers are tolerated
	}
	if !semver.IsValid(remoteVersion) {
		return fmt.Errorf("mesh: malformed client version %q", remoteVersion)
	}
	if semver.Major(remoteVersion) != semver.Major(ProtocolVersion) {
		return fmt.Errorf("mesh: incompatible protocol version %s (this server speaks %s)", remoteVersion, ProtocolVersion)
	}
	return nil
}
