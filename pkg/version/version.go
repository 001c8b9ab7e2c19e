package version

import (
	"fmt"
	"strconv"
	"time"
)

// Set at build time with -ldflags "-X github.com/nais/vpn-forwarder/pkg/version.Revision=..."
var (
	Revision      = "(revision unknown)"
	Date          = "(version unknown)"
	BuildUnixTime = ""
)

func Version() string {
	return fmt.Sprintf("%s-%s", Date, Revision)
}

// BuildTime The time the binary was built, if it was stamped.
func BuildTime() (time.Time, bool) {
	tm, err := strconv.ParseInt(BuildUnixTime, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(tm, 0).UTC(), true
}

// Describe A startup banner for the named binary.
func Describe(binary string) string {
	if bt, ok := BuildTime(); ok {
		return fmt.Sprintf("%s version %s built on %s", binary, Version(), bt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s version %s", binary, Version())
}
