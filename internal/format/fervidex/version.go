package fervidex

import (
	"strings"

	"github.com/couchcryptid/score-import-etl/internal/domain"
)

// Arcade IIDX versions by the first software date (YYYYMMDDRR) that
// belongs to them, newest first.
var arcadeReleases = []struct {
	from    string
	version string
}{
	{"2023101800", "31"},
	{"2022102700", "30"},
	{"2021101300", "29"},
	{"2020102800", "28"},
	{"2019101600", "27"},
	{"2018110700", "26"},
}

// VersionForModel derives the game version from an X-Software-Model value
// such as "LDJ:J:B:A:2020092900". LDJ is the arcade cabinet, dated by its
// software revision; P2D is INFINITAS. Anything else, or a date older than
// the first supported version, is a fatal 400.
func VersionForModel(model string) (string, error) {
	if model == "" {
		return "", domain.BadRequestf("missing %s header", HeaderSoftwareModel)
	}
	parts := strings.Split(model, ":")
	if len(parts) != 5 {
		return "", domain.BadRequestf("invalid %s %q: expected MODEL:DEST:SPEC:REV:DATECODE", HeaderSoftwareModel, model)
	}

	switch parts[0] {
	case "P2D":
		return "inf", nil
	case "LDJ":
		date := parts[4]
		if len(date) != 10 || strings.Trim(date, "0123456789") != "" {
			return "", domain.BadRequestf("invalid %s %q: expected a 10 digit datecode", HeaderSoftwareModel, model)
		}
		for _, r := range arcadeReleases {
			if date >= r.from {
				return r.version, nil
			}
		}
		return "", domain.BadRequestf("unsupported %s %q: software predates version %s",
			HeaderSoftwareModel, model, arcadeReleases[len(arcadeReleases)-1].version)
	default:
		return "", domain.BadRequestf("unsupported %s %q: expected an LDJ or P2D model", HeaderSoftwareModel, model)
	}
}
