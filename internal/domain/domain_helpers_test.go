package domain

import (
	"time"

	"github.com/google/uuid"
)

func mustID(s string) uuid.UUID {
	return uuid.MustParse(s)
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
