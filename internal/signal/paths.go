package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Store key-path scheme. Each user subscribes only to their own incoming
// branch (and, while calling, their own outgoing entry); a single write by
// the transitioning party is enough to inform the other side.
//
//	calls/{userId}/incoming/{callId}
//	calls/{userId}/outgoing/{callId}
const pathRoot = "calls"

// BuildCallID constructs a call ID both parties can derive and verify
// without a coordinator: {callerId}_{calleeId}_{epochMillis}. Millisecond
// granularity plus the ordered pair keeps concurrent attempts between the
// same pair distinguishable; two calls in the same millisecond collide,
// a known narrow-window limitation.
func BuildCallID(callerID, calleeID string, now time.Time) string {
	return callerID + "_" + calleeID + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}

// IncomingPath returns the store path for a call in userID's incoming slot.
func IncomingPath(userID, callID string) string {
	return pathRoot + "/" + userID + "/incoming/" + callID
}

// OutgoingPath returns the store path for a call in userID's outgoing slot.
func OutgoingPath(userID, callID string) string {
	return pathRoot + "/" + userID + "/outgoing/" + callID
}

// IncomingRoot returns the branch holding all of userID's incoming entries.
func IncomingRoot(userID string) string {
	return pathRoot + "/" + userID + "/incoming"
}

// OutgoingRoot returns the branch holding all of userID's outgoing entries.
func OutgoingRoot(userID string) string {
	return pathRoot + "/" + userID + "/outgoing"
}

// CallIDFromPath extracts the trailing call ID segment of an incoming or
// outgoing path. Returns "" if the path has no call segment.
func CallIDFromPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	return path[i+1:]
}

// RoomID derives the transport rendezvous name for a pair of users. The
// pair is sorted so both sides compute the same room regardless of who
// initiated.
func RoomID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	sum := sha256.Sum256([]byte(userA + ":" + userB))
	return "room-" + hex.EncodeToString(sum[:10])
}
