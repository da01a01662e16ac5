package users

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleAdmin          = "admin"
	RoleSuperAdmin     = "super_admin"
	RoleRepresentative = "representative"
)

var validRoles = map[string]struct{}{
	RoleAdmin:          {},
	RoleSuperAdmin:     {},
	RoleRepresentative: {},
}

func IsValidRole(value string) bool {
	_, ok := validRoles[value]
	return ok
}

// AdminRoles is the room-set used for admin-facing broadcasts.
func AdminRoles() []string {
	return []string{RoleAdmin, RoleSuperAdmin}
}

type User struct {
	ID           string `bson:"_id,omitempty" json:"id"`
	Name         string `bson:"name" json:"name"`
	Email        string `bson:"email" json:"email"`
	PasswordHash string `bson:"passwordHash" json:"-"`
	Role         string `bson:"role" json:"role"`
	IsActive     bool   `bson:"isActive" json:"isActive"`
	// ConvertedLeads is a denormalized list of lead ids this representative
	// has had approved. Legacy documents may hold a non-array value here;
	// reads normalize through ConvertedLeadIDs.
	ConvertedLeads      interface{} `bson:"convertedLeads,omitempty" json:"convertedLeads,omitempty"`
	PerformancePoint    int         `bson:"performancePoint" json:"performancePoint"`
	TotalLeads          int         `bson:"totalLeads" json:"totalLeads"`
	IncentivePercentage float64     `bson:"incentivePercentage,omitempty" json:"incentivePercentage,omitempty"`
	CreatedAt           time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time   `bson:"updatedAt" json:"updatedAt"`
}

// ConvertedLeadIDs normalizes the denormalized list to a string slice,
// tolerating legacy non-array data.
func (u User) ConvertedLeadIDs() []string {
	switch v := u.ConvertedLeads.(type) {
	case []string:
		return v
	case primitive.A:
		return collectStrings(v)
	case []interface{}:
		return collectStrings(v)
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

func collectStrings(items []interface{}) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

// HasLegacyConvertedLeads reports whether the stored value predates the
// array representation and should be rewritten before $addToSet is safe.
func (u User) HasLegacyConvertedLeads() bool {
	switch u.ConvertedLeads.(type) {
	case nil, []string, primitive.A, []interface{}:
		return false
	default:
		return true
	}
}

// HasConvertedLead reports whether the lead id is already present.
func (u User) HasConvertedLead(leadID string) bool {
	for _, id := range u.ConvertedLeadIDs() {
		if id == leadID {
			return true
		}
	}
	return false
}
