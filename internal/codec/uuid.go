package codec

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// OfflineUUID derives the stable identity for a player name when no account
// service is involved: MD5 of "OfflinePlayer:<name>" with the version-3 and
// RFC 4122 variant bits set.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}
