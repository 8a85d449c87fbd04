package navigation

import (
	"net/url"

	"github.com/park285/dicey-decisions/internal/domain"
)

// CaptureRoomParam reads a join link's ?room=<CODE>. It returns the code in
// upper case and the URL without the parameter so the link is consumed once.
func CaptureRoomParam(rawURL string) (code, cleaned string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", rawURL, false
	}
	q := u.Query()
	if !q.Has("room") {
		return "", rawURL, false
	}
	code = domain.NormalizeCode(q.Get("room"))
	q.Del("room")
	u.RawQuery = q.Encode()
	return code, u.String(), code != ""
}
