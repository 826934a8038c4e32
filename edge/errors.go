package edge

import (
	"fmt"
	"strings"
)

// StatusError wraps a non-2xx HTTP response from the control plane.
type StatusError struct {
	Op   string
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("edge: %s: status %d: %s", e.Op, e.Code, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsDuplicate reports whether err represents a benign duplicate-contact
// conflict: a 409, or a 500 whose body carries one of the Postgres
// unique-violation markers this control plane is known to surface.
func IsDuplicate(err error) bool {
	se, ok := err.(*StatusError)
	if !ok {
		return false
	}
	if se.Code == 409 {
		return true
	}
	if se.Code != 500 {
		return false
	}
	body := string(se.Body)
	for _, marker := range []string{"duplicate key value", "contacts_instance_id_jid_key", "23505"} {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err represents a 404 response.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Code == 404
}
