package service

import "errors"

var (
	ErrFollowSelf           = errors.New("cannot follow self")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrRecipientNotFollowed = errors.New("you must follow the recipient to send them a postcard")
	ErrPostcardNotFound     = errors.New("postcard not found")
	ErrAccessDenied         = errors.New("access denied")
	ErrDraftNotEditable     = errors.New("postcard is no longer a draft")
	ErrInvalidLocation      = errors.New("latitude must be within [-90, 90] and longitude within [-180, 180]")
	ErrSweepInProgress      = errors.New("time-lock sweep already in progress")
)
