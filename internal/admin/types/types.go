// Package types holds the admin view of live sessions, decoupled from the
// session package's internals.
package types

import (
	"time"

	id "watchtower/pkg/domain"
)

type AdminSession struct {
	UserID    id.UserID
	State     string
	Reason    string
	StartedAt time.Time
	UpdatedAt time.Time
}
