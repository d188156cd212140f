package feed

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidPath is returned for paths that do not follow the feed layout.
var ErrInvalidPath = errors.New("invalid feed path")

// FileRef names one sailing document on the feed server.  The layout is
// /<YYYY>/<MM>/<lineID>/<shipID>/<codetocruiseid>.json relative to the root.
type FileRef struct {
	Year      int
	Month     int
	LineID    int64
	ShipID    int64
	SailingID int64
	Path      string // relative path, e.g. 2026/05/21/410/900123.json
}

// String returns the relative path.
func (r FileRef) String() string { return r.Path }

// BuildRef returns the FileRef for the given coordinates.
func BuildRef(year, month int, lineID, shipID, sailingID int64) FileRef {
	return FileRef{
		Year: year, Month: month, LineID: lineID, ShipID: shipID, SailingID: sailingID,
		Path: fmt.Sprintf("%04d/%02d/%d/%d/%d.json", year, month, lineID, shipID, sailingID),
	}
}

// ParsePath validates a relative or absolute feed path.  Leading slashes
// and an optional root prefix are tolerated because supplier webhooks send
// both forms.
func ParsePath(p string) (FileRef, error) {
	clean := strings.Trim(path.Clean("/"+strings.TrimSpace(p)), "/")
	parts := strings.Split(clean, "/")
	if len(parts) > 5 {
		parts = parts[len(parts)-5:]
	}
	if len(parts) != 5 || !strings.HasSuffix(parts[4], ".json") {
		return FileRef{}, errors.Wrapf(ErrInvalidPath, "%q", p)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 2000 || year > 2999 {
		return FileRef{}, errors.Wrapf(ErrInvalidPath, "%q: bad year", p)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return FileRef{}, errors.Wrapf(ErrInvalidPath, "%q: bad month", p)
	}
	ids := make([]int64, 3)
	for i, s := range []string{parts[2], parts[3], strings.TrimSuffix(parts[4], ".json")} {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return FileRef{}, errors.Wrapf(ErrInvalidPath, "%q: bad id %q", p, s)
		}
		ids[i] = n
	}
	return BuildRef(year, month, ids[0], ids[1], ids[2]), nil
}

// monthDir is the directory holding all ships of a line for one month.
func monthDir(year, month int, lineID int64) string {
	return fmt.Sprintf("%04d/%02d/%d", year, month, lineID)
}
