package functions

import (
	"context"
	"fmt"
	"time"

	"parley/internal/entrypoint"
)

var now = time.Now

// CurrentTime returns the current_time entry point.
func CurrentTime() entrypoint.AnnotatedFunction {
	return entrypoint.AnnotatedFunction{
		Name:        "current_time",
		Description: "Current date and time, optionally in an IANA time zone",
		Arguments: []entrypoint.ArgumentAnnotation{
			entrypoint.OptionalArg("timezone", entrypoint.String("IANA time zone such as Europe/Paris (default UTC)")),
		},
		Implementation: entrypoint.MustReflect(func(_ context.Context, tz string) (string, error) {
			loc := time.UTC
			if tz != "" {
				var err error
				if loc, err = time.LoadLocation(tz); err != nil {
					return "", fmt.Errorf("unknown time zone %q", tz)
				}
			}
			return now().In(loc).Format(time.RFC3339), nil
		}),
	}
}
