package model

import "time"

// Account represents a row of the `accounts` table.
//
// Fields:
//  ID               – uuid primary key.
//  Username         – unique login name.
//  Active           – disabled accounts cannot log in or download.
//  Password         – argon2id PHC string; nil until the first login or after a reset.
//  AccessKey        – immutable 32 char key used by the unauthenticated download.
//  ActiveHardwareID – currently bound hardware row (nil when unbound).
type Account struct {
	ID               string
	Username         string
	Active           bool
	CreatedAt        time.Time
	Password         *string
	AccessKey        string
	ActiveHardwareID *string
}

// EntitledProduct is a product granted to an account together with its
// currently active version (nil when the product has none).
type EntitledProduct struct {
	Product
	ActiveVersion *ProductVersion
}

// AccountWithProducts is the projection used by the stream and download
// paths: the account and every product it is entitled to.
type AccountWithProducts struct {
	Account
	Products []EntitledProduct
}

// AccountWithHardwareAndProducts is the projection used by login. History
// counts every hardware row ever created for the account.
type AccountWithHardwareAndProducts struct {
	Account
	ActiveHardware *Hardware
	History        int
	Products       []EntitledProduct
}
