package source

import (
	"regexp"
)

var driveIDPattern = regexp.MustCompile(`/d/([^/]+)`)

const driveDownloadURL = "https://drive.google.com/uc?export=download&id="

// ConvertDriveLink rewrites a shareable link of the form .../d/<id>/... into a
// direct-download URL. Other links are returned unchanged.
func ConvertDriveLink(link string) string {
	m := driveIDPattern.FindStringSubmatch(link)
	if m == nil {
		return link
	}
	return driveDownloadURL + m[1]
}
