package models

import (
	"esm/src/types"
)

type User struct {
	ID    uint       `gorm:"primarykey" json:"id"`
	Name  string     `json:"name,omitempty"`
	Email string     `json:"email,omitempty"`
	Phone string     `json:"phone,omitempty"`
	Role  types.Role `gorm:"default:client" json:"role,omitempty"`
	UID   string     `json:"uid,omitempty"`

	types.Timestamps
}
