package domain

import "time"

type Room struct {
	ID        RoomID
	Name      string
	CreatedBy ParticipantID
	CreatedAt time.Time
}
