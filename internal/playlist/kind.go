package playlist

import (
	"strings"

	"github.com/grafov/m3u8"
)

type Kind string

const (
	KindMaster  Kind = "master"
	KindMedia   Kind = "media"
	KindUnknown Kind = "unknown"
)

// Classify reports whether body is a master (variant) or media playlist.
func Classify(body string) (kind Kind) {
	// the decoder sees raw origin content
	defer func() {
		if recover() != nil {
			kind = KindUnknown
		}
	}()

	_, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil {
		return KindUnknown
	}
	switch listType {
	case m3u8.MASTER:
		return KindMaster
	case m3u8.MEDIA:
		return KindMedia
	}
	return KindUnknown
}
