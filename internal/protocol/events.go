// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package protocol

import (
	"github.com/parlor/parlor/internal/account"
)

// Inbound event names.
const (
	EventLogin               = "login"
	EventRegister            = "register"
	EventCheckUsernameExists = "checkUsernameExists"
	// EventCheckIfUserExists is the name older clients use for
	// EventCheckUsernameExists.
	EventCheckIfUserExists = "checkIfUserExists"
	EventHello             = "hello"
)

// Outbound event names.
const (
	EventLoginSuccessful     = "loginSuccessful"
	EventLoginError          = "loginError"
	EventRegistrationSuccess = "registrationSuccess"
	EventRegistrationError   = "registrationError"
	EventError               = "error"
)

// Messages sent to clients. Unknown usernames and wrong passwords share
// MsgBadCredentials.
const (
	MsgBadCredentials          = "Password or username don't match"
	MsgCredentialsRequired     = "Username and password are required."
	MsgLoginUnavailable        = "Sorry, you currently cannot log in at this time."
	MsgUsernameTaken           = "Username already exists!"
	MsgInvalidRegistration     = "Username, password, first name and last name are required."
	MsgRegistrationUnavailable = "Sorry, you currently cannot register at this time."
	MsgUsernameRequired        = "Username is required."
	MsgProbeUnavailable        = "Sorry, cannot currently check to see if username exists."
	MsgInternal                = "Sorry, something went wrong."
)

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username" jsonschema:"required,minLength=1"`
	Password string `json:"password" jsonschema:"required,minLength=1"`
}

// RegisterRequest is the register payload. Field rules beyond types are
// enforced by account.Candidate.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UsernameCheck is the object form of the checkUsernameExists payload.
// A bare JSON string is also accepted.
type UsernameCheck struct {
	Username string `json:"username" jsonschema:"required,minLength=1"`
}

// AccountView is the public projection of an account sent on login and
// registration success. It never carries the password hash.
type AccountView struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	Conversations []string `json:"conversations"`
}

// NewAccountView projects acct onto the wire.
func NewAccountView(acct *account.Account) AccountView {
	conversations := acct.Conversations
	if conversations == nil {
		conversations = []string{}
	}
	return AccountView{
		ID:            acct.ID.String(),
		Username:      acct.Username,
		FirstName:     acct.FirstName,
		LastName:      acct.LastName,
		Conversations: conversations,
	}
}
