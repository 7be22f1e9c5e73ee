package publish

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/transcoder"
)

// keyRoot is the bucket prefix every published artifact lives under.
// Signed URLs and the entitlement check both depend on it.
const keyRoot = "videos"

// MasterKey returns the object key of a content's master playlist
func MasterKey(contentID int64) string {
	return path.Join(contentPrefix(contentID), transcoder.MasterName)
}

// PlaylistKey returns the object key of a tier playlist
func PlaylistKey(contentID int64, tier string) string {
	return path.Join(contentPrefix(contentID), tier, transcoder.PlaylistName)
}

// SegmentKey returns the object key of a tier segment file
func SegmentKey(contentID int64, tier, segmentName string) string {
	return path.Join(contentPrefix(contentID), tier, segmentName)
}

// ThumbnailKey returns the object key of a content's thumbnail
func ThumbnailKey(contentID int64) string {
	return path.Join(contentPrefix(contentID), transcoder.ThumbnailName)
}

// ContentIDFromKey extracts the content id from a videos/{id}/... key
func ContentIDFromKey(key string) (int64, bool) {
	parts := strings.SplitN(strings.TrimPrefix(key, "/"), "/", 3)
	if len(parts) < 3 || parts[0] != keyRoot || parts[2] == "" {
		return 0, false
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func contentPrefix(contentID int64) string {
	return fmt.Sprintf("%s/%d", keyRoot, contentID)
}
