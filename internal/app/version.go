package service

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/okian/roomsync/internal/apperr"
)

// canonical adds the leading "v" semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// CheckVersion classifies a client build against the server build and, when
// roomVersion is set, against the build stamped on the room. Builds are
// compatible when their major.minor match; patch releases never gate.
//
//   - client older than server or room: client_outdated
//   - room older than client: room_outdated
//   - client newer than server, or any version unparseable: unknown
func CheckVersion(clientVersion, serverVersion, roomVersion string) error {
	client := canonical(clientVersion)
	server := canonical(serverVersion)
	if !semver.IsValid(client) || !semver.IsValid(server) {
		return apperr.New(apperr.CodeUnknown, "client version "+clientVersion+" cannot be compared")
	}

	cm := semver.MajorMinor(client)
	switch c := semver.Compare(cm, semver.MajorMinor(server)); {
	case c < 0:
		return apperr.New(apperr.CodeClientOutdated, "client "+client+" is older than server "+server)
	case c > 0:
		return apperr.New(apperr.CodeUnknown, "client "+client+" is newer than server "+server)
	}

	if roomVersion == "" {
		return nil
	}
	room := canonical(roomVersion)
	if !semver.IsValid(room) {
		return apperr.New(apperr.CodeUnknown, "room version "+roomVersion+" cannot be compared")
	}
	switch c := semver.Compare(cm, semver.MajorMinor(room)); {
	case c < 0:
		return apperr.New(apperr.CodeClientOutdated, "client "+client+" is older than room "+room)
	case c > 0:
		return apperr.New(apperr.CodeRoomOutdated, "room "+room+" was created by an older build")
	}
	return nil
}
