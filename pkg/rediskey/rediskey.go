package rediskey

import "fmt"

// Challenge keys (global convention across processes)
const (
	ChallengePrefix     = "challenge"
	ChallengeCodePrefix = "challenge:code"
	RoomViewersPrefix   = "room:viewers"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildChallengeIDKey returns "challenge:{challengeID}"
func BuildChallengeIDKey(challengeID string) string {
	return NamespaceKey(ChallengePrefix, challengeID)
}

// BuildChallengeCodeKey returns "challenge:code:{code}"
func BuildChallengeCodeKey(code string) string {
	return NamespaceKey(ChallengeCodePrefix, code)
}

// BuildRoomViewersKey returns "room:viewers:{challengeID}"
func BuildRoomViewersKey(challengeID string) string {
	return NamespaceKey(RoomViewersPrefix, challengeID)
}
