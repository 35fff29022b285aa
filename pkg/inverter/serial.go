package inverter

import (
	"regexp"
	"strings"
)

// Known serial layouts. GoodWe serials open with a numeric rated-power prefix
// followed by a model family code and an alphanumeric production tail, e.g.
// 75000ESN333WV001.
var serialShapes = []*regexp.Regexp{
	regexp.MustCompile(`^[0-9]{5}[A-Z]{3}[0-9]{3}[A-Z0-9]{5}$`),
	regexp.MustCompile(`^[0-9]{4}[A-Z]{3,4}[0-9]{3}[A-Z0-9]{4,6}$`),
}

// ValidateSerial checks an inverter serial against the known shapes. Serials
// are printed on the unit label in upper case but entry is forgiving. The
// check is purely local so a malformed serial never reaches the portal.
func ValidateSerial(serial string) error {
	s := strings.ToUpper(strings.TrimSpace(serial))
	for _, shape := range serialShapes {
		if shape.MatchString(s) {
			return nil
		}
	}
	return &InvalidSerialError{Serial: serial}
}
