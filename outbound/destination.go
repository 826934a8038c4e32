package outbound

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"wa-session-supervisor/edge"
)

const (
	lidSuffix   = "@lid"
	pnSuffix    = "@s.whatsapp.net"
	groupSuffix = "@g.us"
)

var (
	allDigits  = regexp.MustCompile(`^\d+$`)
	groupishID = regexp.MustCompile(`^\d+-\d+$`)
)

// resolveDestination normalizes a queued message's `to` field into the
// JID the session runner can send to. It is idempotent:
// resolveDestination(resolveDestination(x)) == resolveDestination(x)
// for every x this function can already produce, since an already
// normalized destination either falls into the @g.us/@s.whatsapp.net
// passthrough branch or matched no rule and passes through unchanged
// again.
func resolveDestination(ctx context.Context, edgeClient *edge.Client, sessionID, to string) (string, error) {
	switch {
	case strings.HasSuffix(to, lidSuffix):
		pn, ok, err := edgeClient.PrimaryJID(ctx, sessionID, to)
		if err != nil {
			return "", fmt.Errorf("resolve primary jid: %w", err)
		}
		if !ok || !strings.HasSuffix(pn, pnSuffix) {
			return "", fmt.Errorf("lid_without_mapping")
		}
		return pn, nil
	case strings.HasSuffix(to, groupSuffix), strings.HasSuffix(to, pnSuffix):
		return to, nil
	case allDigits.MatchString(to):
		return to + pnSuffix, nil
	case groupishID.MatchString(to):
		return to + groupSuffix, nil
	default:
		return to, nil
	}
}
