package models

// UserType categorizes a principal
type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeEmployee UserType = "employee"
)

// Channel is the access channel of a transaction
type Channel string

const (
	ChannelWeb    Channel = "web"
	ChannelMobile Channel = "mobile"
	ChannelAPI    Channel = "api"
)

// Channels lists every channel in draw order.
var Channels = []Channel{ChannelWeb, ChannelMobile, ChannelAPI}

// User is a principal. Immutable after generation.
type User struct {
	ID       int      `json:"id" yaml:"id"`
	Type     UserType `json:"type" yaml:"type"`
	BaseRisk float64  `json:"base_risk" yaml:"base_risk"` // prior risk in [0,1]
}

// Device is an endpoint owned by exactly one user.
type Device struct {
	ID      int `json:"id" yaml:"id"`
	OwnerID int `json:"owner_id" yaml:"owner_id"`

	// Compromised is carried for completeness; no generator sets it.
	Compromised bool `json:"compromised" yaml:"compromised"`
}

// Context is the ambient situation of a transaction
type Context struct {
	Geo     string  `json:"geo" yaml:"geo"`
	Hour    int     `json:"hour" yaml:"hour"` // 0..23
	Channel Channel `json:"channel" yaml:"channel"`
}
